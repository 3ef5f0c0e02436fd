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

package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/buildpacks/lifecycle/launch"
	"github.com/buildpacks/lifecycle/platform"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	buildv1alpha1 "github.com/pivotal/kpack/pkg/apis/build/v1alpha1"
	corev1alpha1 "github.com/pivotal/kpack/pkg/apis/core/v1alpha1"
	"github.com/pivotal/kpack/pkg/registry"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/staging"
)

const (
	BuildReasonAnnotation  = "image.kpack.io/reason"
	StackUpdateBuildReason = "STACK"
)

type CompletionHandler interface {
	Handle(ctx context.Context, payload map[string]interface{}) (staging.Outcome, error)
}

type ImageConfigFetcher interface {
	FetchImageConfig(ctx context.Context, imageRef string, secretRef registry.SecretRef) (*v1.Config, error)
}

// KpackBuildReconciler turns finished kpack Builds into staging completion reports.
type KpackBuildReconciler struct {
	client.Client
	Scheme      *runtime.Scheme
	Completion  CompletionHandler
	ImageConfig ImageConfigFetcher
}

//+kubebuilder:rbac:groups=kpack.io,resources=builds,verbs=get;list;watch
//+kubebuilder:rbac:groups=kpack.io,resources=builds/status,verbs=get
//+kubebuilder:rbac:groups="",resources=serviceaccounts,verbs=get;list;watch
//+kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch

func (r *KpackBuildReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	var kpackBuild buildv1alpha1.Build
	logger.Info(fmt.Sprintf("Attempting to reconcile %s", req.NamespacedName))
	if err := r.Get(ctx, req.NamespacedName, &kpackBuild); err != nil {
		if apierrors.IsNotFound(err) {
			logger.Info("Kpack Build no longer exists")
		}
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}

	var (
		payload map[string]interface{}
		err     error
	)
	condition := kpackBuild.Status.GetCondition(corev1alpha1.ConditionSucceeded)
	switch {
	case condition == nil || condition.IsUnknown():
		logger.Info("Kpack Build is still running")
		return ctrl.Result{}, nil
	case condition.IsTrue():
		logger.Info("Kpack Build completed successfully")
		payload, err = r.successReport(ctx, &kpackBuild)
		if err != nil {
			logger.Error(err, "unable to read the built image")
			return ctrl.Result{}, err
		}
	default:
		logger.Info("Kpack Build failed")
		payload = failureReport(&kpackBuild, failureMessage(&kpackBuild, condition))
	}

	outcome, err := r.Completion.Handle(ctx, payload)
	var apiErr *staging.APIError
	if errors.As(err, &apiErr) {
		logger.Error(err, "dropping unusable kpack Build report")
		return ctrl.Result{}, nil
	}
	if err != nil {
		return ctrl.Result{}, err
	}

	logger.V(1).Info("kpack Build report handled", "outcome", outcome.Kind)
	return ctrl.Result{}, nil
}

// SetupWithManager sets up the controller with the Manager.
func (r *KpackBuildReconciler) SetupWithManager(mgr ctrl.Manager) error {
	logger := log.FromContext(context.Background())

	return ctrl.NewControllerManagedBy(mgr).
		For(&buildv1alpha1.Build{}).
		WithEventFilter(predicate.Funcs{
			CreateFunc: func(e event.CreateEvent) bool {
				logger.WithValues("requestLink", e.Object.GetSelfLink()).
					V(1).Info("Kpack Build create event received")
				return buildFilter(e.Object)
			},
			UpdateFunc: func(e event.UpdateEvent) bool {
				logger.WithValues("requestLink", e.ObjectNew.GetSelfLink()).
					V(1).Info("Kpack Build update event received")
				return buildFilter(e.ObjectNew)
			},
			DeleteFunc:  func(_ event.DeleteEvent) bool { return false },
			GenericFunc: func(_ event.GenericEvent) bool { return false },
		}).
		Complete(r)
}

var BuildFilterError = errors.New("Received a build event with a non-build runtime.Object")

func buildFilter(e runtime.Object) bool {
	logger := log.FromContext(context.Background())

	newBuild, ok := e.(*buildv1alpha1.Build)
	if !ok {
		logger.WithValues("event", e).Error(BuildFilterError, "ignoring event")
		return false
	}

	if _, ok := newBuild.ObjectMeta.Labels[appsv1alpha1.StagingTaskIDLabel]; !ok {
		logger.WithValues("build", newBuild.Name).V(1).Info("ignoring event: build was not started by a staging task")
		return false
	}
	buildReason, ok := newBuild.ObjectMeta.Annotations[BuildReasonAnnotation]
	if !ok {
		logger.WithValues("build", newBuild.Name).V(1).Info("ignoring event: received update event that was missing the build reason")
		return false
	}

	// Stack updates rebuild an already staged droplet and have no task waiting on them
	if buildReason == StackUpdateBuildReason {
		logger.WithValues("build", newBuild.Name).V(1).Info("ignoring event: build triggered due to an automatic stack update")
		return false
	}

	if newBuild.Status.GetCondition(corev1alpha1.ConditionSucceeded).IsUnknown() {
		logger.WithValues("build", newBuild.Name).V(1).Info("ignoring event: build 'Succeeded' condition status is Unknown")
		return false
	}
	return true
}

func baseReport(kpackBuild *buildv1alpha1.Build) map[string]interface{} {
	return map[string]interface{}{
		"task_id": kpackBuild.Labels[appsv1alpha1.StagingTaskIDLabel],
		"app_id":  kpackBuild.Labels[staging.StagingAppIDLabel],
	}
}

func failureReport(kpackBuild *buildv1alpha1.Build, message string) map[string]interface{} {
	report := baseReport(kpackBuild)
	report["error"] = map[string]interface{}{
		"id":      staging.StagingErrorCode,
		"message": message,
	}
	return report
}

func failureMessage(kpackBuild *buildv1alpha1.Build, condition *corev1alpha1.Condition) string {
	if failed := findAnyFailedContainerState(kpackBuild.Status.StepStates); failed != nil {
		return fmt.Sprintf(
			"Kpack build failed during container execution: Step failure reason: '%s', message: '%s'.",
			failed.Terminated.Reason,
			failed.Terminated.Message,
		)
	}
	return fmt.Sprintf(
		"Kpack build unsuccessful: Build failure reason: '%s', message: '%s'.",
		condition.Reason,
		condition.Message,
	)
}

func (r *KpackBuildReconciler) successReport(ctx context.Context, kpackBuild *buildv1alpha1.Build) (map[string]interface{}, error) {
	report := baseReport(kpackBuild)

	var detected string
	if len(kpackBuild.Status.BuildMetadata) > 0 {
		detected = kpackBuild.Status.BuildMetadata[0].Id
	}
	report["detected_buildpack"] = detected
	report["buildpack_key"] = detected

	image := kpackBuild.Status.LatestImage
	report["image"] = image
	if digest, err := name.NewDigest(image); err == nil {
		report["droplet_hash"] = digest.DigestStr()
	}

	if image == "" || r.ImageConfig == nil {
		return report, nil
	}

	imageConfig, err := r.ImageConfig.FetchImageConfig(ctx, image, registry.SecretRef{
		ServiceAccount:   kpackBuild.Spec.ServiceAccount,
		Namespace:        kpackBuild.Namespace,
		ImagePullSecrets: kpackBuild.Spec.Builder.ImagePullSecrets,
	})
	if err != nil {
		return nil, err
	}

	processTypes, err := extractProcessTypes(imageConfig)
	if err != nil {
		return nil, err
	}
	if len(processTypes) > 0 {
		report["detected_start_command"] = processTypes
	}

	ports, err := extractExposedPorts(imageConfig)
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(executionMetadata{Ports: ports})
	if err != nil {
		return nil, err
	}
	report["execution_metadata"] = string(metadata)
	return report, nil
}

type executionMetadata struct {
	Ports []int32 `json:"ports"`
}

// returns the first container that terminated with a non-zero exit code
func findAnyFailedContainerState(containerStates []corev1.ContainerState) *corev1.ContainerState {
	for i := range containerStates {
		if containerStates[i].Terminated != nil && containerStates[i].Terminated.ExitCode != 0 {
			return &containerStates[i]
		}
	}
	return nil
}

// extractProcessTypes reads the lifecycle build metadata label into a process type to
// command map. An image without the label has no process types.
func extractProcessTypes(imageConfig *v1.Config) (map[string]interface{}, error) {
	raw, ok := imageConfig.Labels[platform.BuildMetadataLabel]
	if !ok {
		return nil, nil
	}

	var buildMetadata platform.BuildMetadata
	if err := json.Unmarshal([]byte(raw), &buildMetadata); err != nil {
		return nil, fmt.Errorf("parse %s label: %w", platform.BuildMetadataLabel, err)
	}

	processTypes := make(map[string]interface{}, len(buildMetadata.Processes))
	for _, process := range buildMetadata.Processes {
		processTypes[process.Type] = extractFullCommand(process)
	}
	return processTypes, nil
}

// Reconstruct command with arguments into a single command string
func extractFullCommand(process launch.Process) string {
	commandWithArgs := append([]string{process.Command}, process.Args...)
	return strings.Join(commandWithArgs, " ")
}

// Drop the protocol since we only use TCP and only store the port number
func extractExposedPorts(imageConfig *v1.Config) ([]int32, error) {
	ports := []int32{}
	for port := range imageConfig.ExposedPorts {
		portInt, err := strconv.Atoi(strings.SplitN(port, "/", 2)[0])
		if err != nil {
			return nil, fmt.Errorf("invalid exposed port %q: %w", port, err)
		}
		ports = append(ports, int32(portInt))
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports, nil
}

// RegistryImageConfigFetcher reads image configs from the registry using kpack's
// keychains.
type RegistryImageConfigFetcher struct {
	KeychainFactory registry.KeychainFactory
}

// fetch the Image Configuration Spec from the OCI image
// See: https://github.com/opencontainers/image-spec/blob/main/config.md
func (f *RegistryImageConfigFetcher) FetchImageConfig(ctx context.Context, imageRef string, secretRef registry.SecretRef) (*v1.Config, error) {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return nil, err
	}

	keychain, err := f.KeychainFactory.KeychainForSecretRef(ctx, secretRef)
	if err != nil {
		return nil, err
	}

	img, err := remote.Image(ref, remote.WithAuthFromKeychain(keychain))
	if err != nil {
		return nil, err
	}

	cfgFile, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}
	return &cfgFile.Config, nil
}
