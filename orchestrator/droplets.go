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

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/authz"
	"cloudfoundry.org/cf-staging/messages"
	"cloudfoundry.org/cf-staging/store"
)

type PackageStager interface {
	StagePackage(ctx context.Context, droplet *appsv1alpha1.Droplet, stack string, memoryMB, diskMB int64) error
}

type DropletsHandler struct {
	Store  *store.Store
	Stager PackageStager

	// NewGUID defaults to random uuids.
	NewGUID func() string
}

// Create stages a READY bits package into a new PENDING droplet. The droplet is saved
// before dispatch so the completion report always has a record to land on.
func (h *DropletsHandler) Create(ctx context.Context, msg *messages.StagingMessage, access authz.Authorizer) (*appsv1alpha1.Droplet, error) {
	pkg, err := h.Store.FindPackage(ctx, msg.PackageGUID)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, ErrPackageNotFound
	}
	if pkg.Status.State != appsv1alpha1.PackageReadyState {
		return nil, &InvalidRequestError{Reason: "Package must be in READY state to stage"}
	}
	if pkg.Spec.Type != appsv1alpha1.BitsPackage {
		return nil, &InvalidRequestError{Reason: "Package type must be bits to stage"}
	}

	space, err := h.Store.FindSpace(ctx, pkg.Namespace)
	if err != nil {
		return nil, err
	}
	if space == nil {
		return nil, ErrSpaceNotFound
	}

	var requestedBuildpacks []string
	app, err := h.Store.FindApp(ctx, pkg.Spec.AppRef.Name)
	if err != nil {
		return nil, err
	}
	if app != nil {
		requestedBuildpacks = app.Spec.Lifecycle.Buildpacks
	}

	droplet := &appsv1alpha1.Droplet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      h.newGUID(),
			Namespace: pkg.Namespace,
		},
		Spec: appsv1alpha1.DropletSpec{
			PackageRef: appsv1alpha1.PackageReference{
				Kind:       "Package",
				APIVersion: appsv1alpha1.GroupVersion.String(),
				Name:       pkg.Name,
			},
			AppRef: pkg.Spec.AppRef,
			Lifecycle: appsv1alpha1.LifecycleData{
				Stack:      msg.Stack(),
				Buildpacks: requestedBuildpacks,
			},
			MemoryMB: msg.MemoryLimit(),
			DiskMB:   msg.DiskLimit(),
		},
		Status: appsv1alpha1.DropletStatus{State: appsv1alpha1.DropletPendingState},
	}

	if access.Cannot(authz.Create, authz.DropletResource{Droplet: droplet}, space) {
		return nil, ErrUnauthorized
	}

	if err := h.Store.CreateDroplet(ctx, droplet); err != nil {
		return nil, fmt.Errorf("error creating droplet for package %s: %w", pkg.Name, err)
	}

	if err := h.Stager.StagePackage(ctx, droplet, msg.Stack(), msg.MemoryLimit(), msg.DiskLimit()); err != nil {
		return nil, err
	}
	return droplet, nil
}

// Show returns nil when the droplet does not exist.
func (h *DropletsHandler) Show(ctx context.Context, guid string, access authz.Authorizer) (*appsv1alpha1.Droplet, error) {
	droplet, err := h.Store.FindDroplet(ctx, guid)
	if err != nil || droplet == nil {
		return nil, err
	}
	if access.Cannot(authz.Read, authz.DropletResource{Droplet: droplet}, nil) {
		return nil, ErrUnauthorized
	}
	return droplet, nil
}

func (h *DropletsHandler) newGUID() string {
	if h.NewGUID != nil {
		return h.NewGUID()
	}
	return uuid.NewString()
}
