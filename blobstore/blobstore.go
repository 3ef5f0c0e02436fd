// Package blobstore stores package bits, droplets, buildpacks and buildpack caches in S3
// and signs the URLs staging tasks use to move them.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cloudfoundry.org/cf-staging/settings"
)

// ObjectAPI is the subset of the S3 client used to move blobs.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner signs URLs without contacting S3.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Kind string

const (
	PackageBlobstore   Kind = "package_blobstore"
	DropletBlobstore   Kind = "droplet_blobstore"
	BuildpackBlobstore Kind = "buildpack_blobstore"
	CacheBlobstore     Kind = "buildpack_cache_blobstore"
)

type Blobstore struct {
	objects   ObjectAPI
	presigner Presigner
	config    settings.Blobstore
}

// New builds an S3 client from static credentials when they are configured and from the
// default AWS credential chain otherwise.
func New(ctx context.Context, cfg settings.Blobstore) (*Blobstore, error) {
	var client *s3.Client

	if cfg.AccessKeyID != "" {
		client = s3.New(s3.Options{
			Region:      cfg.Region,
			Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		}, endpointOptions(cfg)...)
	} else {
		awsConfig, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("blobstore client initialization: %w", err)
		}
		client = s3.NewFromConfig(awsConfig, endpointOptions(cfg)...)
	}

	return NewWithClient(client, s3.NewPresignClient(client), cfg), nil
}

func NewWithClient(objects ObjectAPI, presigner Presigner, cfg settings.Blobstore) *Blobstore {
	return &Blobstore{
		objects:   objects,
		presigner: presigner,
		config:    cfg,
	}
}

func endpointOptions(cfg settings.Blobstore) []func(*s3.Options) {
	if cfg.Endpoint == "" {
		return nil
	}
	return []func(*s3.Options){
		func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		},
	}
}

func (b *Blobstore) bucket(kind Kind) string {
	switch kind {
	case DropletBlobstore:
		return b.config.DropletsBucket
	case BuildpackBlobstore:
		return b.config.BuildpacksBucket
	case CacheBlobstore:
		return b.config.CacheBucket
	default:
		return b.config.PackagesBucket
	}
}

// Upload stores body under key, asking S3 to verify the sha256 when one is given.
func (b *Blobstore) Upload(ctx context.Context, kind Kind, key string, body io.Reader, sha256 string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket(kind)),
		Key:    aws.String(key),
		Body:   body,
	}
	if sha256 != "" {
		input.ChecksumSHA256 = aws.String(sha256)
	}

	if _, err := b.objects.PutObject(ctx, input); err != nil {
		return fmt.Errorf("upload %s to %s: %w", key, kind, err)
	}
	return nil
}

func (b *Blobstore) Delete(ctx context.Context, kind Kind, key string) error {
	_, err := b.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket(kind)),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s from %s: %w", key, kind, err)
	}
	return nil
}

func (b *Blobstore) expiry() time.Duration {
	if b.config.URLExpiry <= 0 {
		return time.Hour
	}
	return b.config.URLExpiry
}

func (b *Blobstore) downloadURL(ctx context.Context, kind Kind, key string) (string, error) {
	req, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket(kind)),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(b.expiry()))
	if err != nil {
		return "", fmt.Errorf("sign download url for %s: %w", key, err)
	}
	return req.URL, nil
}

func (b *Blobstore) uploadURL(ctx context.Context, kind Kind, key string) (string, error) {
	req, err := b.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket(kind)),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(b.expiry()))
	if err != nil {
		return "", fmt.Errorf("sign upload url for %s: %w", key, err)
	}
	return req.URL, nil
}
