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

// Package authz holds the capability check every build record operation is handed by its caller.
package authz

import (
	"sigs.k8s.io/controller-runtime/pkg/client"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
)

type Operation string

const (
	Create Operation = "create"
	Read   Operation = "read"
	Update Operation = "update"
	Delete Operation = "delete"
)

// Resource is either a PackageResource or a DropletResource.
type Resource interface {
	Object() client.Object
	resource()
}

type PackageResource struct {
	Package *appsv1alpha1.Package
}

func (r PackageResource) Object() client.Object { return r.Package }
func (PackageResource) resource()               {}

type DropletResource struct {
	Droplet *appsv1alpha1.Droplet
}

func (r DropletResource) Object() client.Object { return r.Droplet }
func (DropletResource) resource()               {}

// Authorizer decides whether the caller may perform op on resource inside container.
// container is the owning space Namespace or App and may be nil.
type Authorizer interface {
	Cannot(op Operation, resource Resource, container client.Object) bool
}

type AuthorizerFunc func(op Operation, resource Resource, container client.Object) bool

func (f AuthorizerFunc) Cannot(op Operation, resource Resource, container client.Object) bool {
	return f(op, resource, container)
}

// AccessContext scopes list operations to what a user can see.
type AccessContext struct {
	Authorizer
	Admin         bool
	VisibleSpaces []string
}

func (a AccessContext) CanSeeSpace(space string) bool {
	if a.Admin {
		return true
	}
	for _, s := range a.VisibleSpaces {
		if s == space {
			return true
		}
	}
	return false
}

// Admin allows every operation.
func Admin() AccessContext {
	return AccessContext{
		Authorizer: AuthorizerFunc(func(Operation, Resource, client.Object) bool { return false }),
		Admin:      true,
	}
}

// SpaceDeveloper allows every operation on resources in the given spaces and nothing else.
func SpaceDeveloper(spaces ...string) AccessContext {
	access := AccessContext{VisibleSpaces: spaces}
	access.Authorizer = AuthorizerFunc(func(_ Operation, resource Resource, _ client.Object) bool {
		return !access.CanSeeSpace(resource.Object().GetNamespace())
	})
	return access
}
