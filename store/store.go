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

// Package store keeps packages, droplets and apps as custom resources. A space is the
// Namespace named by its guid, and records are found by guid across all namespaces.
package store

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
)

var ErrInvalidTransition = errors.New("invalid state transition")

type MultipleRecordsError struct {
	Kind string
	GUID string
}

func (e MultipleRecordsError) Error() string {
	return fmt.Sprintf("%s %s found in multiple namespaces", e.Kind, e.GUID)
}

type Store struct {
	client client.Client
}

func New(c client.Client) *Store {
	return &Store{client: c}
}

// FindSpace returns nil when the space does not exist.
func (s *Store) FindSpace(ctx context.Context, guid string) (*corev1.Namespace, error) {
	var ns corev1.Namespace
	if err := s.client.Get(ctx, types.NamespacedName{Name: guid}, &ns); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error fetching space %s: %w", guid, err)
	}
	return &ns, nil
}

// FindApp returns nil when no app has the guid.
func (s *Store) FindApp(ctx context.Context, guid string) (*appsv1alpha1.App, error) {
	var apps appsv1alpha1.AppList
	if err := s.client.List(ctx, &apps); err != nil {
		return nil, fmt.Errorf("error fetching app %s: %w", guid, err)
	}

	var found *appsv1alpha1.App
	for i := range apps.Items {
		if apps.Items[i].Name != guid {
			continue
		}
		if found != nil {
			return nil, MultipleRecordsError{Kind: "app", GUID: guid}
		}
		found = &apps.Items[i]
	}
	return found, nil
}

// FindPackage returns nil when no package has the guid.
func (s *Store) FindPackage(ctx context.Context, guid string) (*appsv1alpha1.Package, error) {
	var packages appsv1alpha1.PackageList
	if err := s.client.List(ctx, &packages, client.MatchingLabels{appsv1alpha1.PackageGUIDLabel: guid}); err != nil {
		return nil, fmt.Errorf("error fetching package %s: %w", guid, err)
	}

	switch len(packages.Items) {
	case 0:
		return nil, nil
	case 1:
		return &packages.Items[0], nil
	default:
		return nil, MultipleRecordsError{Kind: "package", GUID: guid}
	}
}

// FindDroplet returns nil when no droplet has the guid.
func (s *Store) FindDroplet(ctx context.Context, guid string) (*appsv1alpha1.Droplet, error) {
	var droplets appsv1alpha1.DropletList
	if err := s.client.List(ctx, &droplets, client.MatchingLabels{appsv1alpha1.DropletGUIDLabel: guid}); err != nil {
		return nil, fmt.Errorf("error fetching droplet %s: %w", guid, err)
	}

	switch len(droplets.Items) {
	case 0:
		return nil, nil
	case 1:
		return &droplets.Items[0], nil
	default:
		return nil, MultipleRecordsError{Kind: "droplet", GUID: guid}
	}
}

func (s *Store) ListPackages(ctx context.Context, opts ...client.ListOption) ([]appsv1alpha1.Package, error) {
	var packages appsv1alpha1.PackageList
	if err := s.client.List(ctx, &packages, opts...); err != nil {
		return nil, fmt.Errorf("error listing packages: %w", err)
	}
	return packages.Items, nil
}

// DropletsForPackage lists every droplet staged from the package.
func (s *Store) DropletsForPackage(ctx context.Context, pkg *appsv1alpha1.Package) ([]appsv1alpha1.Droplet, error) {
	var droplets appsv1alpha1.DropletList
	err := s.client.List(ctx, &droplets,
		client.InNamespace(pkg.Namespace),
		client.MatchingLabels{appsv1alpha1.PackageGUIDLabel: pkg.Name},
	)
	if err != nil {
		return nil, fmt.Errorf("error listing droplets for package %s: %w", pkg.Name, err)
	}
	return droplets.Items, nil
}

// CreatePackage persists pkg and then its status, which the API server drops on create.
func (s *Store) CreatePackage(ctx context.Context, pkg *appsv1alpha1.Package) error {
	labelGUID(pkg, appsv1alpha1.PackageGUIDLabel)
	setLabel(pkg, appsv1alpha1.AppGUIDLabel, pkg.Spec.AppRef.Name)

	status := *pkg.Status.DeepCopy()
	if err := s.client.Create(ctx, pkg); err != nil {
		return err
	}
	pkg.Status = status
	return s.client.Status().Update(ctx, pkg)
}

// CreateDroplet persists droplet and then its status, which the API server drops on create.
func (s *Store) CreateDroplet(ctx context.Context, droplet *appsv1alpha1.Droplet) error {
	labelGUID(droplet, appsv1alpha1.DropletGUIDLabel)
	setLabel(droplet, appsv1alpha1.AppGUIDLabel, droplet.Spec.AppRef.Name)
	if droplet.Spec.PackageRef.Name != "" {
		setLabel(droplet, appsv1alpha1.PackageGUIDLabel, droplet.Spec.PackageRef.Name)
	}

	status := *droplet.Status.DeepCopy()
	if err := s.client.Create(ctx, droplet); err != nil {
		return err
	}
	droplet.Status = status
	return s.client.Status().Update(ctx, droplet)
}

// CompareAndSwapStatus re-reads obj, lets mutate decide against the fresh copy and writes
// the status back conditioned on the resourceVersion that was read. A conflicting writer
// causes a fresh read and another decision. mutate returning an error aborts without writing.
func (s *Store) CompareAndSwapStatus(ctx context.Context, obj client.Object, mutate func() error) error {
	key := client.ObjectKeyFromObject(obj)
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		if err := s.client.Get(ctx, key, obj); err != nil {
			return err
		}
		if err := mutate(); err != nil {
			return err
		}
		return s.client.Status().Update(ctx, obj)
	})
}

// AdvancePackage moves the package state forward and fails with ErrInvalidTransition otherwise.
func (s *Store) AdvancePackage(ctx context.Context, pkg *appsv1alpha1.Package, next appsv1alpha1.PackageState, reason string) error {
	return s.CompareAndSwapStatus(ctx, pkg, func() error {
		if !pkg.AdvanceState(next, reason) {
			return fmt.Errorf("%w: package %s from %q to %q", ErrInvalidTransition, pkg.Name, pkg.Status.State, next)
		}
		return nil
	})
}

type Commit int

const (
	CommitNothing Commit = iota
	CommitUpdate
	CommitDelete
)

// LockAndTransact reads the latest obj and runs fn against it. The write fn chooses is
// conditioned on the resourceVersion read, so any change to obj since the read fails the
// transaction with a Conflict instead of being overwritten. An error from fn writes nothing.
func (s *Store) LockAndTransact(ctx context.Context, obj client.Object, fn func() (Commit, error)) error {
	if err := s.client.Get(ctx, client.ObjectKeyFromObject(obj), obj); err != nil {
		return err
	}

	commit, err := fn()
	if err != nil {
		return err
	}

	switch commit {
	case CommitUpdate:
		return s.client.Update(ctx, obj)
	case CommitDelete:
		rv := obj.GetResourceVersion()
		return s.client.Delete(ctx, obj, client.Preconditions{ResourceVersion: &rv})
	}
	return nil
}

func labelGUID(obj client.Object, label string) {
	setLabel(obj, label, obj.GetName())
}

func setLabel(obj client.Object, key, value string) {
	labels := obj.GetLabels()
	if labels == nil {
		labels = map[string]string{}
	}
	labels[key] = value
	obj.SetLabels(labels)
}
