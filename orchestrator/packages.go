/*
Copyright 2021.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package orchestrator

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/authz"
	"cloudfoundry.org/cf-staging/blobstore"
	"cloudfoundry.org/cf-staging/cfshim/filters"
	"cloudfoundry.org/cf-staging/jobs"
	"cloudfoundry.org/cf-staging/messages"
	"cloudfoundry.org/cf-staging/store"
)

type Blobs interface {
	jobs.BlobUploader
	jobs.BlobDeleter
}

type PackagesHandler struct {
	Store  *store.Store
	Jobs   jobs.Enqueuer
	Blobs  Blobs
	Logger logr.Logger

	// NewGUID defaults to random uuids.
	NewGUID func() string
}

// Create persists a package for the message's app. Bits packages start CREATED and wait
// for an upload; docker packages are READY straight away.
func (h *PackagesHandler) Create(ctx context.Context, msg *messages.PackageCreateMessage, access authz.Authorizer) (*appsv1alpha1.Package, error) {
	app, err := h.Store.FindApp(ctx, msg.AppGUID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, ErrSpaceNotFound
	}
	space, err := h.Store.FindSpace(ctx, app.Namespace)
	if err != nil {
		return nil, err
	}
	if space == nil {
		return nil, ErrSpaceNotFound
	}

	pkg := &appsv1alpha1.Package{
		ObjectMeta: metav1.ObjectMeta{
			Name:      h.newGUID(),
			Namespace: app.Namespace,
		},
		Spec: appsv1alpha1.PackageSpec{
			Type: appsv1alpha1.PackageType(msg.Type),
			AppRef: appsv1alpha1.ApplicationReference{
				Kind:       "App",
				APIVersion: appsv1alpha1.GroupVersion.String(),
				Name:       app.Name,
			},
			URL: msg.URL,
		},
	}
	initial := appsv1alpha1.PackageCreatedState
	if pkg.Spec.Type == appsv1alpha1.DockerPackage {
		initial = appsv1alpha1.PackageReadyState
	}
	pkg.AdvanceState(initial, "package created")

	if access.Cannot(authz.Create, authz.PackageResource{Package: pkg}, space) {
		return nil, ErrUnauthorized
	}

	if err := h.Store.CreatePackage(ctx, pkg); err != nil {
		if apierrors.IsInvalid(err) || apierrors.IsAlreadyExists(err) {
			return nil, &InvalidPackageError{Err: err}
		}
		return nil, fmt.Errorf("error creating package for app %s: %w", app.Name, err)
	}
	return pkg, nil
}

// Upload accepts bits for a CREATED bits package and hands them to a job on the local
// queue, since only this instance has the uploaded file.
func (h *PackagesHandler) Upload(ctx context.Context, msg *messages.PackageUploadMessage, access authz.Authorizer) (*appsv1alpha1.Package, error) {
	pkg, err := h.Store.FindPackage(ctx, msg.PackageGUID)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, ErrPackageNotFound
	}
	if pkg.Spec.Type != appsv1alpha1.BitsPackage {
		return nil, ErrInvalidPackageType
	}
	if pkg.Status.State != appsv1alpha1.PackageCreatedState || pkg.Status.BitsUploaded {
		return nil, ErrBitsAlreadyUploaded
	}

	app, err := h.Store.FindApp(ctx, pkg.Spec.AppRef.Name)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, ErrSpaceNotFound
	}
	space, err := h.Store.FindSpace(ctx, app.Namespace)
	if err != nil {
		return nil, err
	}
	if space == nil {
		return nil, ErrSpaceNotFound
	}

	if access.Cannot(authz.Create, authz.PackageResource{Package: pkg}, space) {
		return nil, ErrUnauthorized
	}

	err = h.Store.CompareAndSwapStatus(ctx, pkg, func() error {
		if pkg.Status.BitsUploaded || !pkg.AdvanceState(appsv1alpha1.PackagePendingState, "bits upload accepted") {
			return ErrBitsAlreadyUploaded
		}
		pkg.Status.BitsUploaded = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	job := &jobs.PackageBits{
		PackageGUID: pkg.Name,
		BitsPath:    msg.BitsPath,
		Store:       h.Store,
		Blobstore:   h.Blobs,
		Logger:      h.Logger,
	}
	if err := h.Jobs.Enqueue(job, jobs.LocalQueue); err != nil {
		h.Logger.Error(err, "failed to enqueue package bits", "package", pkg.Name)
		if failErr := h.Store.AdvancePackage(ctx, pkg, appsv1alpha1.PackageFailedState, "bits upload not enqueued"); failErr != nil {
			h.Logger.Error(failErr, "failed to mark package failed", "package", pkg.Name)
		}
		return nil, fmt.Errorf("error enqueueing bits upload for package %s: %w", pkg.Name, err)
	}
	return pkg, nil
}

// Delete removes the package and then queues removal of its bits. A package that is
// already gone is not an error.
func (h *PackagesHandler) Delete(ctx context.Context, guid string, access authz.Authorizer) (*appsv1alpha1.Package, error) {
	pkg, err := h.Store.FindPackage(ctx, guid)
	if err != nil || pkg == nil {
		return nil, err
	}

	var container client.Object
	app, err := h.Store.FindApp(ctx, pkg.Spec.AppRef.Name)
	if err != nil {
		return nil, err
	}
	if app != nil {
		container = app
	}

	err = h.Store.LockAndTransact(ctx, pkg, func() (store.Commit, error) {
		if access.Cannot(authz.Delete, authz.PackageResource{Package: pkg}, container) {
			return store.CommitNothing, ErrUnauthorized
		}
		return store.CommitDelete, nil
	})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	job := &jobs.BlobstoreDelete{
		Key:       blobstore.PackageKey(pkg.Name),
		Kind:      blobstore.PackageBlobstore,
		Blobstore: h.Blobs,
	}
	if err := h.Jobs.Enqueue(job, jobs.GenericQueue); err != nil {
		h.Logger.Error(err, "failed to enqueue blobstore delete", "package", pkg.Name)
	}
	return pkg, nil
}

// List returns the page of packages the caller can see. Admins see every package.
func (h *PackagesHandler) List(ctx context.Context, pagination filters.Pagination, filter filters.Filter, access authz.AccessContext) (filters.PackagePage, error) {
	packages, err := h.Store.ListPackages(ctx)
	if err != nil {
		return filters.PackagePage{}, err
	}

	paginator := filters.Paginator{Access: access, Filter: filter, Pagination: pagination}
	return paginator.Packages(packages), nil
}

// Show returns nil when the package does not exist.
func (h *PackagesHandler) Show(ctx context.Context, guid string, access authz.Authorizer) (*appsv1alpha1.Package, error) {
	pkg, err := h.Store.FindPackage(ctx, guid)
	if err != nil || pkg == nil {
		return nil, err
	}
	if access.Cannot(authz.Read, authz.PackageResource{Package: pkg}, nil) {
		return nil, ErrUnauthorized
	}
	return pkg, nil
}

func (h *PackagesHandler) newGUID() string {
	if h.NewGUID != nil {
		return h.NewGUID()
	}
	return uuid.NewString()
}
