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

package staging

import (
	"context"
	"fmt"
	"sort"

	"cloudfoundry.org/cf-staging/blobstore"
	"cloudfoundry.org/cf-staging/bus"
	"cloudfoundry.org/cf-staging/settings"
)

// DEAStagingRequest is published on the staging subject. Package staging leaves the
// app-only fields empty.
type DEAStagingRequest struct {
	AppID                     string                `json:"app_id"`
	TaskID                    string                `json:"task_id"`
	Properties                *DEAStagingProperties `json:"properties,omitempty"`
	DownloadURI               string                `json:"download_uri"`
	UploadURI                 string                `json:"upload_uri"`
	BuildpackCacheDownloadURI string                `json:"buildpack_cache_download_uri,omitempty"`
	BuildpackCacheUploadURI   string                `json:"buildpack_cache_upload_uri,omitempty"`
	StartMessage              *DEAStartMessage      `json:"start_message,omitempty"`
	AdminBuildpacks           []AdminBuildpack      `json:"admin_buildpacks"`
	EgressNetworkRules        []settings.EgressRule `json:"egress_network_rules"`
	Stack                     string                `json:"stack"`
	MemoryMB                  int64                 `json:"memoryMB"`
	DiskMB                    int64                 `json:"diskMB"`
}

type DEAStagingProperties struct {
	Environment []string     `json:"environment"`
	Resources   DEAResources `json:"resources"`
	Buildpack   string       `json:"buildpack,omitempty"`
}

type DEAResources struct {
	Memory int64 `json:"memory"`
	Disk   int64 `json:"disk"`
	FDs    int64 `json:"fds"`
}

// DEAStartMessage lets the DEA start the first instance as soon as staging finishes.
type DEAStartMessage struct {
	Droplet string       `json:"droplet"`
	Name    string       `json:"name"`
	Index   int          `json:"index"`
	Stack   string       `json:"stack"`
	Limits  DEAResources `json:"limits"`
	SHA1    *string      `json:"sha1"`
}

type DEABackend struct {
	Bus        bus.MessageBus
	URLs       blobstore.URLGenerator
	Buildpacks BuildpackCatalog
	Config     settings.Staging
}

func (b *DEABackend) Name() string {
	return settings.DEABackend
}

func (b *DEABackend) CompletionSubject() string {
	return bus.DEAStagingFinishedSubject
}

func (b *DEABackend) BuildRequest(ctx context.Context, target Target, params Params) (Payload, error) {
	admin, err := adminBuildpacks(ctx, b.Buildpacks, b.URLs, params.Stack, params.Buildpacks)
	if err != nil {
		return Payload{}, err
	}

	request := &DEAStagingRequest{
		AppID:              target.AppID(),
		TaskID:             params.TaskID,
		AdminBuildpacks:    admin,
		EgressNetworkRules: egressRules(b.Config),
		Stack:              params.Stack,
		MemoryMB:           params.MemoryMB,
		DiskMB:             params.DiskMB,
	}

	if target.Package != nil {
		err = b.packageURIs(ctx, target, request)
	} else {
		err = b.appURIs(ctx, target, params, request)
	}
	if err != nil {
		return Payload{}, err
	}

	return Payload{
		Backend: b.Name(),
		TaskID:  params.TaskID,
		AppID:   request.AppID,
		Subject: bus.DEAStagingSubject,
		Request: request,
	}, nil
}

func (b *DEABackend) packageURIs(ctx context.Context, target Target, request *DEAStagingRequest) error {
	var err error
	if request.DownloadURI, err = b.URLs.PackageDownloadURL(ctx, target.Package.Name); err != nil {
		return err
	}
	request.UploadURI, err = b.URLs.DropletUploadURL(ctx, target.Droplet.Name)
	return err
}

func (b *DEABackend) appURIs(ctx context.Context, target Target, params Params, request *DEAStagingRequest) error {
	app := target.App
	var err error
	if request.DownloadURI, err = b.URLs.AppPackageDownloadURL(ctx, app.Name); err != nil {
		return err
	}
	if request.UploadURI, err = b.URLs.DropletUploadURL(ctx, app.Name); err != nil {
		return err
	}
	if request.BuildpackCacheDownloadURI, err = b.URLs.BuildpackCacheDownloadURL(ctx, app.Name); err != nil {
		return err
	}
	if request.BuildpackCacheUploadURI, err = b.URLs.BuildpackCacheUploadURL(ctx, app.Name); err != nil {
		return err
	}

	resources := DEAResources{Memory: params.MemoryMB, Disk: params.DiskMB, FDs: params.FileDescriptors}
	properties := &DEAStagingProperties{
		Environment: environmentStrings(app.Spec.Environment),
		Resources:   resources,
	}
	if len(params.Buildpacks) > 0 {
		properties.Buildpack = params.Buildpacks[0]
	}
	request.Properties = properties

	request.StartMessage = &DEAStartMessage{
		Droplet: app.Name,
		Name:    app.Spec.Name,
		Index:   0,
		Stack:   params.Stack,
		Limits:  resources,
	}
	return nil
}

func (b *DEABackend) Submit(_ context.Context, payload Payload) error {
	return b.Bus.Publish(payload.Subject, payload.Request)
}

func egressRules(cfg settings.Staging) []settings.EgressRule {
	if cfg.EgressRules == nil {
		return []settings.EgressRule{}
	}
	return cfg.EgressRules
}

func environmentStrings(env map[string]string) []string {
	vars := make([]string, 0, len(env))
	for _, name := range sortedKeys(env) {
		vars = append(vars, fmt.Sprintf("%s=%s", name, env[name]))
	}
	return vars
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
