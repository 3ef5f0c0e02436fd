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

// Package staging dispatches staging requests to a DEA, Diego or kpack backend and applies
// their completion reports to the droplet or app that was staged.
package staging

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/client"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/blobstore"
	"cloudfoundry.org/cf-staging/bus"
	"cloudfoundry.org/cf-staging/settings"
)

// Target is what gets staged: an app on its own, or a droplet of a package. App may be
// nil for package staging when the package's app is gone.
type Target struct {
	App     *appsv1alpha1.App
	Package *appsv1alpha1.Package
	Droplet *appsv1alpha1.Droplet
}

// AppID is the identity a backend echoes back as app_id: the package guid for package
// staging and the app guid otherwise.
func (t Target) AppID() string {
	if t.Package != nil {
		return t.Package.Name
	}
	return t.App.Name
}

func (t Target) namespace() string {
	if t.Droplet != nil {
		return t.Droplet.Namespace
	}
	return t.App.Namespace
}

func (t Target) appGUID() string {
	if t.App != nil {
		return t.App.Name
	}
	return t.Droplet.Spec.AppRef.Name
}

func (t Target) environment() map[string]string {
	if t.App == nil {
		return nil
	}
	return t.App.Spec.Environment
}

type Params struct {
	TaskID          string
	Stack           string
	MemoryMB        int64
	DiskMB          int64
	FileDescriptors int64
	// Buildpacks requested for staging; empty means every enabled admin buildpack.
	Buildpacks []string
}

// Payload is a staging request ready to submit. Request is the backend specific body.
type Payload struct {
	Backend string
	TaskID  string
	AppID   string
	Subject string
	Request interface{}
}

// Summary is what gets recorded on an app as its last stager response.
func (p Payload) Summary() string {
	if p.Subject == "" {
		return fmt.Sprintf("%s staging task %s submitted", p.Backend, p.TaskID)
	}
	return fmt.Sprintf("%s staging task %s published on %s", p.Backend, p.TaskID, p.Subject)
}

// Backend builds and submits staging requests. Every backend takes the same target and
// params and differs only in payload shape and transport.
type Backend interface {
	Name() string
	BuildRequest(ctx context.Context, target Target, params Params) (Payload, error)
	Submit(ctx context.Context, payload Payload) error
	// CompletionSubject is the bus subject reports arrive on, "" when they arrive another way.
	CompletionSubject() string
}

type BuildpackCatalog interface {
	Resolve(ctx context.Context, keyOrName string) (string, error)
	Enabled(ctx context.Context, stack string) ([]appsv1alpha1.Buildpack, error)
}

// Dependencies are the collaborators a backend may need.
type Dependencies struct {
	Bus        bus.MessageBus
	URLs       blobstore.URLGenerator
	Buildpacks BuildpackCatalog
	Client     client.Client
}

// NewBackend picks the backend named by the staging settings.
func NewBackend(cfg *settings.Settings, deps Dependencies) (Backend, error) {
	switch cfg.Staging.Backend {
	case settings.DEABackend:
		return &DEABackend{Bus: deps.Bus, URLs: deps.URLs, Buildpacks: deps.Buildpacks, Config: cfg.Staging}, nil
	case settings.DiegoBackend:
		return &DiegoBackend{Bus: deps.Bus, URLs: deps.URLs, Buildpacks: deps.Buildpacks, Config: cfg.Staging}, nil
	case settings.KpackBackend:
		return &KpackBackend{Client: deps.Client, URLs: deps.URLs, Config: cfg.Kpack}, nil
	}
	return nil, fmt.Errorf("unknown staging backend %q", cfg.Staging.Backend)
}

type AdminBuildpack struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// adminBuildpacks lists the buildpacks a staging task may try, with signed download URLs.
// Requested buildpacks are matched by key or name, in the order requested.
func adminBuildpacks(ctx context.Context, catalog BuildpackCatalog, urls blobstore.URLGenerator, stack string, requested []string) ([]AdminBuildpack, error) {
	enabled, err := catalog.Enabled(ctx, stack)
	if err != nil {
		return nil, err
	}

	selected := enabled
	if len(requested) > 0 {
		selected = nil
		for _, want := range requested {
			for _, bp := range enabled {
				if bp.Spec.Key == want || bp.Spec.Name == want {
					selected = append(selected, bp)
					break
				}
			}
		}
	}

	result := make([]AdminBuildpack, 0, len(selected))
	for _, bp := range selected {
		url, err := urls.BuildpackDownloadURL(ctx, bp.Spec.Key)
		if err != nil {
			return nil, err
		}
		result = append(result, AdminBuildpack{Key: bp.Spec.Key, URL: url})
	}
	return result, nil
}

// environmentPairs renders the environment as sorted NAME=value pairs.
func environmentPairs(env map[string]string) [][]string {
	names := sortedKeys(env)
	pairs := make([][]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, []string{name, env[name]})
	}
	return pairs
}
