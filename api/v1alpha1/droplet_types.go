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

// DropletSpec defines the desired state of Droplet
type DropletSpec struct {
	// Specifies the Package this Droplet is staged from, empty for app-centric droplets
	PackageRef PackageReference `json:"packageRef,omitempty"`

	// Specifies the App associated with this Droplet
	AppRef ApplicationReference `json:"appRef"`

	// Specifies the stack and buildpacks requested for staging
	Lifecycle LifecycleData `json:"lifecycle,omitempty"`

	// Specifies the memory and disk limits the staging task ran with
	MemoryMB int64 `json:"memoryMB,omitempty"`
	DiskMB   int64 `json:"diskMB,omitempty"`
}

// DropletState follows PENDING -> STAGED | FAILED
// +kubebuilder:validation:Enum=PENDING;STAGED;FAILED
type DropletState string

const (
	DropletPendingState DropletState = "PENDING"
	DropletStagedState  DropletState = "STAGED"
	DropletFailedState  DropletState = "FAILED"
)

// DropletStatus defines the observed state of Droplet
type DropletStatus struct {
	State DropletState `json:"state,omitempty"`

	// The correlation id the staging backend must echo back on completion.
	// Cleared when a newer dispatch for the same package supersedes this one.
	StagingTaskID string `json:"stagingTaskId,omitempty"`

	DropletHash          string            `json:"dropletHash,omitempty"`
	BuildpackGUID        string            `json:"buildpackGuid,omitempty"`
	DetectedBuildpack    string            `json:"detectedBuildpack,omitempty"`
	DetectedStartCommand string            `json:"detectedStartCommand,omitempty"`
	ProcessTypes         map[string]string `json:"processTypes,omitempty"`

	// Marshalled blob of JSON goo
	ExecutionMetadata string `json:"executionMetadata,omitempty"`

	// Runnable image reference for droplets staged into a registry
	Image string `json:"image,omitempty"`

	FailureReason      string `json:"failureReason,omitempty"`
	FailureDescription string `json:"failureDescription,omitempty"`

	// Describes the conditions of the Droplet
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

//+kubebuilder:object:root=true
//+kubebuilder:subresource:status
//+kubebuilder:printcolumn:name="State",type=string,JSONPath=`.status.state`

// Droplet is the Schema for the droplets API
type Droplet struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   DropletSpec   `json:"spec,omitempty"`
	Status DropletStatus `json:"status,omitempty"`
}

func (d *Droplet) CurrentStagingTaskID() string {
	return d.Status.StagingTaskID
}

func (d *Droplet) StagingCompleted() bool {
	return d.Status.State == DropletStagedState || d.Status.State == DropletFailedState
}

func (d *Droplet) MarkStagingPending(taskID string) {
	d.Status.State = DropletPendingState
	d.Status.StagingTaskID = taskID
	setCondition(&d.Status.Conditions, StagingConditionType, metav1.ConditionTrue, "Dispatched", "")
	setCondition(&d.Status.Conditions, SucceededConditionType, metav1.ConditionUnknown, "Dispatched", "")
}

func (d *Droplet) MarkStaged(result StagingResult) {
	d.Status.State = DropletStagedState
	d.Status.DetectedBuildpack = result.DetectedBuildpack
	d.Status.BuildpackGUID = result.BuildpackGUID
	d.Status.DetectedStartCommand = result.DetectedStartCommand
	d.Status.ProcessTypes = result.ProcessTypes
	d.Status.ExecutionMetadata = result.ExecutionMetadata
	d.Status.DropletHash = result.DropletHash
	d.Status.Image = result.Image
	setCondition(&d.Status.Conditions, StagingConditionType, metav1.ConditionFalse, "Staged", "")
	setCondition(&d.Status.Conditions, SucceededConditionType, metav1.ConditionTrue, "Staged", "")
}

func (d *Droplet) MarkStagingFailed(reason, description string) {
	d.Status.State = DropletFailedState
	d.Status.FailureReason = reason
	d.Status.FailureDescription = description
	setCondition(&d.Status.Conditions, StagingConditionType, metav1.ConditionFalse, "Failed", description)
	setCondition(&d.Status.Conditions, SucceededConditionType, metav1.ConditionFalse, reason, description)
}

//+kubebuilder:object:root=true

// DropletList contains a list of Droplet
type DropletList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Droplet `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Droplet{}, &DropletList{})
}
