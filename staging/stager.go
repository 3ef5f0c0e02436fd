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
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"sigs.k8s.io/controller-runtime/pkg/client"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/settings"
	"cloudfoundry.org/cf-staging/store"
)

// Stager records a new outstanding task on the staged record and dispatches it. The
// completion report for the task is applied later by the CompletionHandler.
type Stager struct {
	Store      *store.Store
	Dispatcher *Dispatcher
	Config     settings.Staging
	Logger     logr.Logger

	// NewTaskID defaults to random uuids.
	NewTaskID func() string
}

// StageApp supersedes any earlier staging of app with a fresh task id.
func (s *Stager) StageApp(ctx context.Context, app *appsv1alpha1.App) error {
	taskID := s.newTaskID()
	logger := s.Logger.WithValues("app", app.Name, "task", taskID)

	err := s.Store.CompareAndSwapStatus(ctx, app, func() error {
		app.MarkStagingPending(taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("error recording staging task on app %s: %w", app.Name, err)
	}

	fds := app.Spec.FileDescriptors
	if fds == 0 {
		fds = s.Config.MinimumFileDescriptors
	}
	params := Params{
		TaskID:          taskID,
		Stack:           s.stack(app.Spec.Lifecycle.Stack),
		MemoryMB:        atLeast(app.Spec.MemoryMB, s.Config.MinimumMemory()),
		DiskMB:          atLeast(app.Spec.DiskMB, s.Config.MinimumDisk()),
		FileDescriptors: fds,
		Buildpacks:      app.Spec.Lifecycle.Buildpacks,
	}

	payload, err := s.Dispatcher.Dispatch(ctx, Target{App: app}, params)
	if err != nil {
		logger.Error(err, "staging.dispatch-failed")
		s.recordDispatchFailure(ctx, logger, app, taskID, err)
		return stagingError(err)
	}
	logger.Info("staging.dispatched", "backend", payload.Backend)

	return s.Store.CompareAndSwapStatus(ctx, app, func() error {
		app.Status.LastStagerResponse = payload.Summary()
		return nil
	})
}

// StagePackage dispatches staging of droplet's package with the droplet guid as task id.
// The package records which droplet is current, so of two concurrent stagings only the
// one written last is applied. Older droplets that are still waiting also lose their
// task id.
func (s *Stager) StagePackage(ctx context.Context, droplet *appsv1alpha1.Droplet, stack string, memoryMB, diskMB int64) error {
	taskID := droplet.Name
	logger := s.Logger.WithValues("droplet", droplet.Name, "package", droplet.Spec.PackageRef.Name)

	pkg, err := s.Store.FindPackage(ctx, droplet.Spec.PackageRef.Name)
	if err != nil {
		return err
	}
	if pkg == nil {
		return fmt.Errorf("package %s of droplet %s not found", droplet.Spec.PackageRef.Name, droplet.Name)
	}

	err = s.Store.CompareAndSwapStatus(ctx, pkg, func() error {
		pkg.Status.StagingTaskID = taskID
		return nil
	})
	if err != nil {
		return fmt.Errorf("error recording staging task on package %s: %w", pkg.Name, err)
	}

	if err := s.supersede(ctx, pkg, droplet); err != nil {
		return err
	}

	err = s.Store.CompareAndSwapStatus(ctx, droplet, func() error {
		droplet.MarkStagingPending(taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("error recording staging task on droplet %s: %w", droplet.Name, err)
	}

	app, err := s.Store.FindApp(ctx, droplet.Spec.AppRef.Name)
	if err != nil {
		return err
	}

	params := Params{
		TaskID:          taskID,
		Stack:           s.stack(stack),
		MemoryMB:        memoryMB,
		DiskMB:          diskMB,
		FileDescriptors: s.Config.MinimumFileDescriptors,
		Buildpacks:      droplet.Spec.Lifecycle.Buildpacks,
	}

	payload, err := s.Dispatcher.Dispatch(ctx, Target{App: app, Package: pkg, Droplet: droplet}, params)
	if err != nil {
		logger.Error(err, "staging.dispatch-failed")
		s.recordDispatchFailure(ctx, logger, droplet, taskID, err)
		return stagingError(err)
	}

	logger.Info("staging.dispatched", "backend", payload.Backend, "task", taskID)
	return nil
}

func (s *Stager) supersede(ctx context.Context, pkg *appsv1alpha1.Package, current *appsv1alpha1.Droplet) error {
	droplets, err := s.Store.DropletsForPackage(ctx, pkg)
	if err != nil {
		return err
	}

	for i := range droplets {
		older := &droplets[i]
		if older.Name == current.Name || older.StagingCompleted() || older.Status.StagingTaskID == "" {
			continue
		}
		err := s.Store.CompareAndSwapStatus(ctx, older, func() error {
			if older.StagingCompleted() {
				return errNotCurrent
			}
			latest, err := s.Store.FindPackage(ctx, pkg.Name)
			if err != nil {
				return err
			}
			// a concurrent staging of older already took over the package
			if latest != nil && latest.Status.StagingTaskID == older.Name {
				return errNotCurrent
			}
			older.Status.StagingTaskID = ""
			return nil
		})
		if errors.Is(err, errNotCurrent) {
			continue
		}
		if err != nil {
			return fmt.Errorf("error superseding droplet %s: %w", older.Name, err)
		}
		s.Logger.Info("staging.superseded", "droplet", older.Name, "by", current.Name)
	}
	return nil
}

// stagingRecord is a droplet or app that carries an outstanding staging task.
type stagingRecord interface {
	client.Object
	CurrentStagingTaskID() string
	StagingCompleted() bool
	MarkStagingFailed(reason, description string)
}

// recordDispatchFailure fails the record unless a newer dispatch already replaced taskID.
func (s *Stager) recordDispatchFailure(ctx context.Context, logger logr.Logger, record stagingRecord, taskID string, cause error) {
	err := s.Store.CompareAndSwapStatus(ctx, record, func() error {
		if record.CurrentStagingTaskID() != taskID || record.StagingCompleted() {
			return errNotCurrent
		}
		record.MarkStagingFailed(StagingErrorCode, cause.Error())
		return nil
	})
	if err != nil && err != errNotCurrent {
		logger.Error(err, "staging.saving-staging-result-failed")
	}
}

func (s *Stager) stack(requested string) string {
	if requested != "" {
		return requested
	}
	return s.Config.DefaultStack()
}

func (s *Stager) newTaskID() string {
	if s.NewTaskID != nil {
		return s.NewTaskID()
	}
	return uuid.NewString()
}

func atLeast(value, minimum int64) int64 {
	if value < minimum {
		return minimum
	}
	return value
}
