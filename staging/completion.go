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
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/tools/record"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/bus"
	"cloudfoundry.org/cf-staging/runners"
	"cloudfoundry.org/cf-staging/store"
)

const StagingFailedReason = "StagingFailed"

var (
	errNotCurrent    = errors.New("staging task is no longer current")
	errUnknownTarget = errors.New("staging target not found")
)

type BuildpackResolver interface {
	Resolve(ctx context.Context, keyOrName string) (string, error)
}

type RunnerSelector interface {
	RunnerFor(app *appsv1alpha1.App) runners.Runner
}

// CompletionHandler applies completion reports. Each report is applied at most once:
// the task id comparison and the status write happen in one conditional update.
type CompletionHandler struct {
	Store      *store.Store
	Dispatcher *Dispatcher
	Buildpacks BuildpackResolver
	Runners    RunnerSelector
	Recorder   record.EventRecorder
	Logger     logr.Logger
}

// target is the record a report resolved to. For droplets, app is the droplet's app and
// may be nil, and pkg holds the task id that is current for the whole package.
type target struct {
	app     *appsv1alpha1.App
	droplet *appsv1alpha1.Droplet
	pkg     *appsv1alpha1.Package
}

func (t *target) object() stagingRecord {
	if t.droplet != nil {
		return t.droplet
	}
	return t.app
}

func (t *target) record() *Record {
	if t == nil {
		return nil
	}
	obj := t.object()
	taskID := obj.CurrentStagingTaskID()
	if t.droplet != nil {
		if t.pkg == nil {
			return nil
		}
		if t.pkg.Status.StagingTaskID != taskID {
			taskID = t.pkg.Status.StagingTaskID
		}
	}
	return &Record{TaskID: taskID, Completed: obj.StagingCompleted()}
}

// refresh re-reads the package of a droplet target so the task id check sees dispatches
// that happened after resolve.
func (t *target) refresh(ctx context.Context, s *store.Store) error {
	if t.droplet == nil {
		return nil
	}
	pkg, err := s.FindPackage(ctx, t.droplet.Spec.PackageRef.Name)
	if err != nil {
		return err
	}
	t.pkg = pkg
	return nil
}

func (t *target) markStaged(result appsv1alpha1.StagingResult) {
	if t.droplet != nil {
		t.droplet.MarkStaged(result)
		return
	}
	t.app.MarkStaged(result)
}

// Handle applies one report. Reports for unknown targets or superseded tasks are logged
// and dropped with a nil error. Malformed reports return an *APIError.
func (h *CompletionHandler) Handle(ctx context.Context, payload map[string]interface{}) (Outcome, error) {
	logger := h.Logger

	report, err := ParseReport(payload)
	if err != nil {
		logger.Error(err, "staging.invalid-message", "payload", payload)
		return Outcome{Kind: Malformed}, &APIError{Code: InvalidMessageCode, Message: err.Error()}
	}
	logger = logger.WithValues("task", report.TaskID)

	t, err := h.resolve(ctx, report)
	if err != nil {
		logger.Error(err, "staging.lookup-failed", "response", payload)
		return Outcome{TaskID: report.TaskID}, err
	}

	outcome := Transition(report, t.record())
	if outcome.Kind != Applied {
		h.logDropped(logger, outcome, payload)
		h.forget(outcome)
		return outcome, nil
	}

	var buildpackGUID string
	if report.Failure == nil && h.Buildpacks != nil {
		buildpackGUID, err = h.Buildpacks.Resolve(ctx, report.BuildpackReference())
		if err != nil {
			logger.Error(err, "staging.lookup-failed", "response", payload)
			return outcome, err
		}
	}
	result := report.StagingResult(buildpackGUID)

	obj := t.object()
	err = h.Store.CompareAndSwapStatus(ctx, obj, func() error {
		if err := t.refresh(ctx, h.Store); err != nil {
			return err
		}
		outcome = Transition(report, t.record())
		if outcome.Kind != Applied {
			return errNotCurrent
		}
		if report.Failure != nil {
			obj.MarkStagingFailed(report.Failure.ID, report.Failure.Message)
		} else {
			t.markStaged(result)
		}
		if t.app != nil && t.droplet == nil && report.TaskStreamingLogURL != "" {
			t.app.Status.LastStagerResponse = report.TaskStreamingLogURL
		}
		return nil
	})
	switch {
	case errors.Is(err, errNotCurrent):
		h.logDropped(logger, outcome, payload)
		h.forget(outcome)
		return outcome, nil
	case err != nil:
		logger.Error(err, "staging.saving-staging-result-failed", "response", payload)
		return outcome, err
	}

	logger.Info("staging.finished", "response", payload)
	backendPayload := h.forget(outcome)

	if report.Failure != nil {
		if h.Recorder != nil {
			h.Recorder.Eventf(obj, corev1.EventTypeWarning, StagingFailedReason,
				"Failed to stage %s: %s", report.TaskID, report.Failure.Message)
		}
		return outcome, nil
	}

	if err := h.start(ctx, t, report, result, backendPayload); err != nil {
		logger.Error(err, "staging.runner-start-failed")
		return outcome, err
	}
	return outcome, nil
}

// BusHandler adapts Handle to a bus subscription. Errors are already logged by Handle.
func (h *CompletionHandler) BusHandler(ctx context.Context) bus.Handler {
	return func(payload map[string]interface{}) {
		_, _ = h.Handle(ctx, payload)
	}
}

// resolve finds the droplet whose guid is the task id and whose package is app_id, or
// else the app whose guid is app_id. A droplet whose package is gone is not a target.
func (h *CompletionHandler) resolve(ctx context.Context, report Report) (*target, error) {
	droplet, err := h.Store.FindDroplet(ctx, report.TaskID)
	if err != nil {
		return nil, err
	}
	if droplet != nil && droplet.Spec.PackageRef.Name != "" && droplet.Spec.PackageRef.Name == report.AppID {
		pkg, err := h.Store.FindPackage(ctx, report.AppID)
		if err != nil {
			return nil, err
		}
		if pkg == nil {
			return nil, nil
		}
		app, err := h.Store.FindApp(ctx, droplet.Spec.AppRef.Name)
		if err != nil {
			return nil, err
		}
		return &target{app: app, droplet: droplet, pkg: pkg}, nil
	}

	if report.AppID == "" {
		return nil, nil
	}
	app, err := h.Store.FindApp(ctx, report.AppID)
	if err != nil || app == nil {
		return nil, err
	}
	return &target{app: app}, nil
}

func (h *CompletionHandler) start(ctx context.Context, t *target, report Report, result appsv1alpha1.StagingResult, backend interface{}) error {
	if h.Runners == nil {
		return nil
	}
	runner := h.Runners.RunnerFor(t.app)
	if runner == nil {
		return fmt.Errorf("no runner for task %s", report.TaskID)
	}

	return runner.Start(ctx, runners.Target{App: t.app, Droplet: t.droplet}, runners.Result{
		TaskID:              report.TaskID,
		Staging:             result,
		Backend:             backend,
		TaskStreamingLogURL: report.TaskStreamingLogURL,
	})
}

func (h *CompletionHandler) logDropped(logger logr.Logger, outcome Outcome, payload map[string]interface{}) {
	switch outcome.Kind {
	case UnknownTarget:
		logger.Error(errUnknownTarget, "staging.unknown-app", "response", payload)
	case Stale:
		logger.Info("staging.not-current", "response", payload, "current", outcome.CurrentTaskID)
	case Duplicate:
		logger.Info("staging.duplicate", "response", payload)
	}
}

// forget drops the cached request of a task that will never be applied again and
// returns it.
func (h *CompletionHandler) forget(outcome Outcome) interface{} {
	if h.Dispatcher == nil || outcome.Kind == Stale {
		return nil
	}
	payload, ok := h.Dispatcher.Claim(outcome.TaskID)
	if !ok {
		return nil
	}
	return payload.Request
}
