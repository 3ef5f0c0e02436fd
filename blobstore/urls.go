package blobstore

import "context"

func PackageKey(packageGUID string) string    { return "packages/" + packageGUID }
func AppPackageKey(appGUID string) string     { return "app-packages/" + appGUID }
func DropletKey(dropletGUID string) string    { return "droplets/" + dropletGUID }
func BuildpackCacheKey(appGUID string) string { return "buildpack-cache/" + appGUID }
func BuildpackKey(buildpackKey string) string { return "buildpacks/" + buildpackKey }

// URLGenerator signs the URLs handed to staging tasks.
type URLGenerator interface {
	PackageDownloadURL(ctx context.Context, packageGUID string) (string, error)
	AppPackageDownloadURL(ctx context.Context, appGUID string) (string, error)
	DropletUploadURL(ctx context.Context, guid string) (string, error)
	BuildpackCacheDownloadURL(ctx context.Context, appGUID string) (string, error)
	BuildpackCacheUploadURL(ctx context.Context, appGUID string) (string, error)
	BuildpackDownloadURL(ctx context.Context, buildpackKey string) (string, error)
}

var _ URLGenerator = &Blobstore{}

func (b *Blobstore) PackageDownloadURL(ctx context.Context, packageGUID string) (string, error) {
	return b.downloadURL(ctx, PackageBlobstore, PackageKey(packageGUID))
}

func (b *Blobstore) AppPackageDownloadURL(ctx context.Context, appGUID string) (string, error) {
	return b.downloadURL(ctx, PackageBlobstore, AppPackageKey(appGUID))
}

// DropletUploadURL takes a droplet guid for package staging and an app guid for app staging.
func (b *Blobstore) DropletUploadURL(ctx context.Context, guid string) (string, error) {
	return b.uploadURL(ctx, DropletBlobstore, DropletKey(guid))
}

func (b *Blobstore) BuildpackCacheDownloadURL(ctx context.Context, appGUID string) (string, error) {
	return b.downloadURL(ctx, CacheBlobstore, BuildpackCacheKey(appGUID))
}

func (b *Blobstore) BuildpackCacheUploadURL(ctx context.Context, appGUID string) (string, error) {
	return b.uploadURL(ctx, CacheBlobstore, BuildpackCacheKey(appGUID))
}

func (b *Blobstore) BuildpackDownloadURL(ctx context.Context, buildpackKey string) (string, error) {
	return b.downloadURL(ctx, BuildpackBlobstore, BuildpackKey(buildpackKey))
}
