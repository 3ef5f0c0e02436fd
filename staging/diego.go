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

	"cloudfoundry.org/cf-staging/blobstore"
	"cloudfoundry.org/cf-staging/bus"
	"cloudfoundry.org/cf-staging/settings"
)

// DiegoStagingRequest is published on diego.staging.start for the stager to turn into a
// staging task on a cell.
type DiegoStagingRequest struct {
	AppID                          string                `json:"app_id"`
	TaskID                         string                `json:"task_id"`
	Stack                          string                `json:"stack"`
	AppBitsDownloadURI             string                `json:"app_bits_download_uri"`
	BuildArtifactsCacheDownloadURI string                `json:"build_artifacts_cache_download_uri,omitempty"`
	BuildArtifactsCacheUploadURI   string                `json:"build_artifacts_cache_upload_uri,omitempty"`
	DropletUploadURI               string                `json:"droplet_upload_uri"`
	FileDescriptors                int64                 `json:"file_descriptors"`
	MemoryMB                       int64                 `json:"memory_mb"`
	DiskMB                         int64                 `json:"disk_mb"`
	Buildpacks                     []AdminBuildpack      `json:"buildpacks"`
	Environment                    [][]string            `json:"environment"`
	EgressRules                    []settings.EgressRule `json:"egress_rules"`
	// Timeout in seconds
	Timeout int64 `json:"timeout"`
}

type DiegoBackend struct {
	Bus        bus.MessageBus
	URLs       blobstore.URLGenerator
	Buildpacks BuildpackCatalog
	Config     settings.Staging
}

func (b *DiegoBackend) Name() string {
	return settings.DiegoBackend
}

func (b *DiegoBackend) CompletionSubject() string {
	return bus.DiegoStagingFinishedSubject
}

func (b *DiegoBackend) BuildRequest(ctx context.Context, target Target, params Params) (Payload, error) {
	admin, err := adminBuildpacks(ctx, b.Buildpacks, b.URLs, params.Stack, params.Buildpacks)
	if err != nil {
		return Payload{}, err
	}

	fds := params.FileDescriptors
	if fds == 0 {
		fds = b.Config.MinimumFileDescriptors
	}

	request := &DiegoStagingRequest{
		AppID:           target.AppID(),
		TaskID:          params.TaskID,
		Stack:           params.Stack,
		FileDescriptors: fds,
		MemoryMB:        params.MemoryMB,
		DiskMB:          params.DiskMB,
		Buildpacks:      admin,
		Environment:     environmentPairs(target.environment()),
		EgressRules:     egressRules(b.Config),
		Timeout:         int64(b.Config.Timeout.Seconds()),
	}

	if target.Package != nil {
		if request.AppBitsDownloadURI, err = b.URLs.PackageDownloadURL(ctx, target.Package.Name); err != nil {
			return Payload{}, err
		}
		if request.DropletUploadURI, err = b.URLs.DropletUploadURL(ctx, target.Droplet.Name); err != nil {
			return Payload{}, err
		}
	} else {
		appGUID := target.App.Name
		if request.AppBitsDownloadURI, err = b.URLs.AppPackageDownloadURL(ctx, appGUID); err != nil {
			return Payload{}, err
		}
		if request.DropletUploadURI, err = b.URLs.DropletUploadURL(ctx, appGUID); err != nil {
			return Payload{}, err
		}
		if request.BuildArtifactsCacheDownloadURI, err = b.URLs.BuildpackCacheDownloadURL(ctx, appGUID); err != nil {
			return Payload{}, err
		}
		if request.BuildArtifactsCacheUploadURI, err = b.URLs.BuildpackCacheUploadURL(ctx, appGUID); err != nil {
			return Payload{}, err
		}
	}

	return Payload{
		Backend: b.Name(),
		TaskID:  params.TaskID,
		AppID:   request.AppID,
		Subject: bus.DiegoStagingStartSubject,
		Request: request,
	}, nil
}

func (b *DiegoBackend) Submit(_ context.Context, payload Payload) error {
	return b.Bus.Publish(payload.Subject, payload.Request)
}
