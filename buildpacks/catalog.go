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

// Package buildpacks resolves admin buildpacks registered as cluster scoped Buildpack resources.
package buildpacks

import (
	"context"
	"fmt"
	"sort"

	"sigs.k8s.io/controller-runtime/pkg/client"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
)

type Catalog struct {
	Client client.Client
}

// Resolve returns the guid of the buildpack whose key or name matches, or "" when none does.
// Keys win over names since a backend reports the key of the buildpack it ran.
func (c *Catalog) Resolve(ctx context.Context, keyOrName string) (string, error) {
	if keyOrName == "" {
		return "", nil
	}

	all, err := c.list(ctx)
	if err != nil {
		return "", err
	}

	for _, bp := range all {
		if bp.Spec.Key == keyOrName {
			return bp.Name, nil
		}
	}
	for _, bp := range all {
		if bp.Spec.Name == keyOrName {
			return bp.Name, nil
		}
	}
	return "", nil
}

// Enabled lists enabled buildpacks usable on stack, ordered by position.
func (c *Catalog) Enabled(ctx context.Context, stack string) ([]appsv1alpha1.Buildpack, error) {
	all, err := c.list(ctx)
	if err != nil {
		return nil, err
	}

	var enabled []appsv1alpha1.Buildpack
	for _, bp := range all {
		if !bp.Spec.Enabled {
			continue
		}
		if bp.Spec.Stack != "" && stack != "" && bp.Spec.Stack != stack {
			continue
		}
		enabled = append(enabled, bp)
	}

	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Spec.Position < enabled[j].Spec.Position
	})
	return enabled, nil
}

func (c *Catalog) list(ctx context.Context) ([]appsv1alpha1.Buildpack, error) {
	var buildpacks appsv1alpha1.BuildpackList
	if err := c.Client.List(ctx, &buildpacks); err != nil {
		return nil, fmt.Errorf("error fetching buildpacks: %w", err)
	}
	return buildpacks.Items, nil
}
