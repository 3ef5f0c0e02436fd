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

package runners

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
)

const (
	defaultPort     = 8080
	defaultMemoryMB = 1024
	defaultDiskMB   = 1024
)

var ErrMissingApp = errors.New("staged target has no app")

// ProcessRunner writes one Process per process type of the staged result.
type ProcessRunner struct {
	Client client.Client
}

//+kubebuilder:rbac:groups=apps.cloudfoundry.org,resources=processes,verbs=get;list;watch;create;update;patch

func (r *ProcessRunner) Start(ctx context.Context, target Target, result Result) error {
	logger := log.FromContext(ctx)
	if target.App == nil {
		return ErrMissingApp
	}
	app := target.App

	types := processTypes(result.Staging)
	names := make([]string, 0, len(types))
	for processType := range types {
		names = append(names, processType)
	}
	sort.Strings(names)

	var errStrings []string
	for _, processType := range names {
		desired := desiredProcess(app, dropletRef(target), processType, types[processType])
		actual := &appsv1alpha1.Process{
			ObjectMeta: metav1.ObjectMeta{
				Name:      desired.Name,
				Namespace: desired.Namespace,
			},
		}

		op, err := controllerutil.CreateOrUpdate(ctx, r.Client, actual, processMutateFunction(actual, desired))
		if err != nil {
			logger.Info(fmt.Sprintf("Error occurred creating/updating Process %s: %s", desired.Name, err))
			errStrings = append(errStrings, err.Error())
			continue
		}
		logger.Info(fmt.Sprintf("Process %s %s", desired.Name, op))
	}

	if len(errStrings) != 0 {
		return fmt.Errorf("error during Process creation: %s", strings.Join(errStrings, ", "))
	}
	return nil
}

func desiredProcess(app *appsv1alpha1.App, droplet appsv1alpha1.DropletReference, processType, command string) *appsv1alpha1.Process {
	// Default 1 for web process or Default 0
	var instances int64
	if processType == "web" {
		instances = 1
		if app.Spec.Instances > 0 {
			instances = app.Spec.Instances
		}
	}

	state := app.Spec.DesiredState
	if state == "" {
		state = appsv1alpha1.StoppedState
	}

	processGUID := fmt.Sprintf("%s-%s", app.Name, processType)
	return &appsv1alpha1.Process{
		ObjectMeta: metav1.ObjectMeta{
			Name:      processGUID,
			Namespace: app.Namespace,
			Labels: map[string]string{
				appsv1alpha1.AppGUIDLabel:     app.Name,
				appsv1alpha1.ProcessGUIDLabel: processGUID,
				appsv1alpha1.ProcessTypeLabel: processType,
			},
			OwnerReferences: []metav1.OwnerReference{
				{
					APIVersion: appsv1alpha1.GroupVersion.String(),
					Kind:       "App",
					Name:       app.Name,
					UID:        app.UID,
				},
			},
		},
		Spec: appsv1alpha1.ProcessSpec{
			AppRef: appsv1alpha1.ApplicationReference{
				Kind:       "App",
				APIVersion: appsv1alpha1.GroupVersion.String(),
				Name:       app.Name,
			},
			DropletRef:  droplet,
			ProcessType: processType,
			Command:     command,
			State:       state,
			HealthCheck: appsv1alpha1.HealthCheck{
				Type: appsv1alpha1.ProcessHealthCheckType,
			},
			Instances:   instances,
			MemoryMB:    orDefault(app.Spec.MemoryMB, defaultMemoryMB),
			DiskQuotaMB: orDefault(app.Spec.DiskMB, defaultDiskMB),
			Ports:       []int32{defaultPort},
		},
	}
}

func processMutateFunction(actual, desired *appsv1alpha1.Process) controllerutil.MutateFn {
	return func() error {
		actual.ObjectMeta.Labels = desired.ObjectMeta.Labels
		actual.ObjectMeta.OwnerReferences = desired.ObjectMeta.OwnerReferences
		actual.Spec = desired.Spec
		return nil
	}
}

func orDefault(value, fallback int64) int64 {
	if value <= 0 {
		return fallback
	}
	return value
}
