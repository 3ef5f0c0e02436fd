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

// Package runners starts staged apps, either as Process records or as eirini LRPs.
package runners

import (
	"context"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
)

// Target is the record whose staging just completed. Droplet is nil for app-centric staging.
type Target struct {
	App     *appsv1alpha1.App
	Droplet *appsv1alpha1.Droplet
}

type Result struct {
	TaskID  string
	Staging appsv1alpha1.StagingResult

	// Backend is the request the dispatcher sent for TaskID, when this process sent it.
	Backend             interface{}
	TaskStreamingLogURL string
}

type Runner interface {
	Start(ctx context.Context, target Target, result Result) error
}

type Runners struct {
	Processes Runner
	LRPs      Runner
}

// RunnerFor picks the eirini runner for diego-run apps and Process records otherwise.
func (r *Runners) RunnerFor(app *appsv1alpha1.App) Runner {
	if app != nil && app.Spec.DiegoRun && r.LRPs != nil {
		return r.LRPs
	}
	return r.Processes
}

// processTypes falls back to a single web process running the detected start command.
func processTypes(result appsv1alpha1.StagingResult) map[string]string {
	if len(result.ProcessTypes) > 0 {
		return result.ProcessTypes
	}
	return map[string]string{"web": result.DetectedStartCommand}
}

func dropletRef(target Target) appsv1alpha1.DropletReference {
	if target.Droplet == nil {
		return target.App.Spec.CurrentDropletRef
	}
	return appsv1alpha1.DropletReference{
		Kind:       "Droplet",
		APIVersion: appsv1alpha1.GroupVersion.String(),
		Name:       target.Droplet.Name,
	}
}
