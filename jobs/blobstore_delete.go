package jobs

import (
	"context"

	"cloudfoundry.org/cf-staging/blobstore"
)

type BlobDeleter interface {
	Delete(ctx context.Context, kind blobstore.Kind, key string) error
}

type BlobstoreDelete struct {
	Key       string
	Kind      blobstore.Kind
	Blobstore BlobDeleter
}

func (j *BlobstoreDelete) JobName() string {
	return "blobstore_delete"
}

func (j *BlobstoreDelete) Perform(ctx context.Context) error {
	return j.Blobstore.Delete(ctx, j.Kind, j.Key)
}
