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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// AppSpec defines the desired state of App
type AppSpec struct {
	Name string `json:"name"`

	// Specifies the current state of the app
	// Valid values are:
	// "STARTED": App is started
	// "STOPPED": App is stopped
	DesiredState DesiredState `json:"desiredState"`

	// Specifies the CF Lifecycle type:
	// https://v3-apidocs.cloudfoundry.org/version/3.101.0/index.html#sample-requests
	// Valid values are:
	// "docker": run prebuilt docker image
	// "buildpack": stage the app on a DEA or Diego cell
	// "kpack": stage the app with kpack
	Type LifecycleType `json:"type,omitempty"`

	// Specifies the stack and buildpacks used for staging
	Lifecycle LifecycleData `json:"lifecycle,omitempty"`

	// Environment passed to the staging task
	Environment map[string]string `json:"environment,omitempty"`

	MemoryMB        int64 `json:"memoryMB,omitempty"`
	DiskMB          int64 `json:"diskMB,omitempty"`
	FileDescriptors int64 `json:"fileDescriptors,omitempty"`
	Instances       int64 `json:"instances,omitempty"`

	// Run the app as an eirini LRP once it is staged
	DiegoRun bool `json:"diegoRun,omitempty"`

	// Specifies the Droplet info for the droplet that is currently assigned (active) for the app
	CurrentDropletRef DropletReference `json:"currentDropletRef,omitempty"`
}

// AppPackageState is the staging state of an app-centric package
// +kubebuilder:validation:Enum=PENDING;STAGED;FAILED
type AppPackageState string

const (
	AppPackagePendingState AppPackageState = "PENDING"
	AppPackageStagedState  AppPackageState = "STAGED"
	AppPackageFailedState  AppPackageState = "FAILED"
)

// AppStatus defines the observed state of App
type AppStatus struct {
	PackageState AppPackageState `json:"packageState,omitempty"`

	// The task id of the most recent staging dispatch for this app
	StagingTaskID string `json:"stagingTaskId,omitempty"`

	DetectedBuildpack     string `json:"detectedBuildpack,omitempty"`
	DetectedBuildpackGUID string `json:"detectedBuildpackGuid,omitempty"`
	DetectedStartCommand  string `json:"detectedStartCommand,omitempty"`
	ExecutionMetadata     string `json:"executionMetadata,omitempty"`
	DropletHash           string `json:"dropletHash,omitempty"`

	StagingFailedReason      string `json:"stagingFailedReason,omitempty"`
	StagingFailedDescription string `json:"stagingFailedDescription,omitempty"`

	// Summary returned by the staging backend when the task was dispatched
	LastStagerResponse string `json:"lastStagerResponse,omitempty"`

	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

//+kubebuilder:object:root=true
//+kubebuilder:subresource:status

// App is the Schema for the apps API
// CF API Docs for App:
// https://v3-apidocs.cloudfoundry.org/version/3.101.0/index.html#the-app-object
type App struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   AppSpec   `json:"spec,omitempty"`
	Status AppStatus `json:"status,omitempty"`
}

func (a *App) CurrentStagingTaskID() string {
	return a.Status.StagingTaskID
}

func (a *App) StagingCompleted() bool {
	return a.Status.PackageState == AppPackageStagedState || a.Status.PackageState == AppPackageFailedState
}

// MarkStagingPending supersedes any earlier dispatch for the app.
func (a *App) MarkStagingPending(taskID string) {
	a.Status.PackageState = AppPackagePendingState
	a.Status.StagingTaskID = taskID
	a.Status.StagingFailedReason = ""
	a.Status.StagingFailedDescription = ""
	setCondition(&a.Status.Conditions, StagingConditionType, metav1.ConditionTrue, "Dispatched", "")
}

func (a *App) MarkStaged(result StagingResult) {
	a.Status.PackageState = AppPackageStagedState
	a.Status.DetectedBuildpack = result.DetectedBuildpack
	a.Status.DetectedBuildpackGUID = result.BuildpackGUID
	a.Status.DetectedStartCommand = result.DetectedStartCommand
	a.Status.ExecutionMetadata = result.ExecutionMetadata
	a.Status.DropletHash = result.DropletHash
	setCondition(&a.Status.Conditions, StagingConditionType, metav1.ConditionFalse, "Staged", "")
	setCondition(&a.Status.Conditions, SucceededConditionType, metav1.ConditionTrue, "Staged", "")
}

func (a *App) MarkStagingFailed(reason, description string) {
	a.Status.PackageState = AppPackageFailedState
	a.Status.StagingFailedReason = reason
	a.Status.StagingFailedDescription = description
	setCondition(&a.Status.Conditions, StagingConditionType, metav1.ConditionFalse, "Failed", description)
	setCondition(&a.Status.Conditions, SucceededConditionType, metav1.ConditionFalse, reason, description)
}

//+kubebuilder:object:root=true

// AppList contains a list of App
type AppList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []App `json:"items"`
}

func init() {
	SchemeBuilder.Register(&App{}, &AppList{})
}
