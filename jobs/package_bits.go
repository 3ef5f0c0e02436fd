package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/blobstore"
	"cloudfoundry.org/cf-staging/store"
)

type BlobUploader interface {
	Upload(ctx context.Context, kind blobstore.Kind, key string, body io.Reader, sha256 string) error
}

// PackageBits moves uploaded bits into the package blobstore and marks the package READY,
// or FAILED when the upload does not succeed. The local file is removed either way.
type PackageBits struct {
	PackageGUID string
	BitsPath    string

	Store     *store.Store
	Blobstore BlobUploader
	Logger    logr.Logger
}

func (j *PackageBits) JobName() string {
	return "package_bits"
}

func (j *PackageBits) Perform(ctx context.Context) error {
	defer os.Remove(j.BitsPath)
	logger := j.Logger.WithValues("package", j.PackageGUID)

	pkg, err := j.Store.FindPackage(ctx, j.PackageGUID)
	if err != nil {
		return err
	}
	if pkg == nil {
		logger.Info("package deleted before its bits were stored")
		return nil
	}

	checksum, uploadErr := j.upload(ctx)
	if uploadErr != nil {
		logger.Error(uploadErr, "storing package bits failed")
		return j.markFailed(ctx, pkg, uploadErr)
	}

	return j.Store.CompareAndSwapStatus(ctx, pkg, func() error {
		pkg.Status.Checksum = appsv1alpha1.Checksum{Type: appsv1alpha1.SHA256ChecksumType, Value: checksum}
		if !pkg.AdvanceState(appsv1alpha1.PackageReadyState, "bits uploaded") {
			return fmt.Errorf("%w: package %s is %s", store.ErrInvalidTransition, pkg.Name, pkg.Status.State)
		}
		return nil
	})
}

func (j *PackageBits) upload(ctx context.Context) (string, error) {
	f, err := os.Open(j.BitsPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	sum := hash.Sum(nil)

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	err = j.Blobstore.Upload(ctx, blobstore.PackageBlobstore, blobstore.PackageKey(j.PackageGUID), f, base64.StdEncoding.EncodeToString(sum))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

func (j *PackageBits) markFailed(ctx context.Context, pkg *appsv1alpha1.Package, cause error) error {
	err := j.Store.CompareAndSwapStatus(ctx, pkg, func() error {
		pkg.Status.Error = "failed to upload package bits: " + cause.Error()
		if !pkg.AdvanceState(appsv1alpha1.PackageFailedState, "bits upload failed") {
			return fmt.Errorf("%w: package %s is %s", store.ErrInvalidTransition, pkg.Name, pkg.Status.State)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return cause
}
