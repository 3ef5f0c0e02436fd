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

// PackageSpec defines the desired state of Package
type PackageSpec struct {
	// Specifies the package type, either bits or docker
	// Valid values are:
	// "bits": package to upload source code
	// "docker": package references a docker image from a registry
	Type PackageType `json:"type"`

	// Specifies the App that owns this package
	AppRef ApplicationReference `json:"appRef"`

	// Specifies the docker image reference for docker packages, empty for bits packages
	URL string `json:"url,omitempty"`
}

// PackageType used to enum the inputs to package.type
// +kubebuilder:validation:Enum=bits;docker
type PackageType string

const (
	BitsPackage   PackageType = "bits"
	DockerPackage PackageType = "docker"
)

// PackageState tracks bits ingestion
// +kubebuilder:validation:Enum=CREATED;PENDING;READY;FAILED
type PackageState string

const (
	PackageCreatedState PackageState = "CREATED"
	PackagePendingState PackageState = "PENDING"
	PackageReadyState   PackageState = "READY"
	PackageFailedState  PackageState = "FAILED"
)

var packageStateTransitions = map[PackageState][]PackageState{
	"":                  {PackageCreatedState, PackageReadyState},
	PackageCreatedState: {PackagePendingState, PackageFailedState},
	PackagePendingState: {PackageReadyState, PackageFailedState},
	PackageReadyState:   {PackageFailedState},
	PackageFailedState:  {},
}

// CanTransitionTo reports whether a package may move from s to next. States only move forward.
func (s PackageState) CanTransitionTo(next PackageState) bool {
	for _, allowed := range packageStateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PackageStatus defines the observed state of Package
type PackageStatus struct {
	// Contains the current state of the package
	State PackageState `json:"state,omitempty"`

	// Set once bits have been accepted for upload; bits may be uploaded only once
	BitsUploaded bool `json:"bitsUploaded,omitempty"`

	// Contains the checksum for the uploaded bits
	Checksum Checksum `json:"checksum,omitempty"`

	// Describes why bits ingestion failed
	Error string `json:"error,omitempty"`

	// Names the droplet whose staging is current. Reports for other droplets of the package are stale.
	StagingTaskID string `json:"stagingTaskId,omitempty"`

	// Contains the current status of the package
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

//+kubebuilder:object:root=true
//+kubebuilder:subresource:status
//+kubebuilder:printcolumn:name="Type",type=string,JSONPath=`.spec.type`
//+kubebuilder:printcolumn:name="State",type=string,JSONPath=`.status.state`

// Package is the Schema for the packages API
type Package struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   PackageSpec   `json:"spec,omitempty"`
	Status PackageStatus `json:"status,omitempty"`
}

// AdvanceState moves the package forward and returns false when the move would go backwards.
func (p *Package) AdvanceState(next PackageState, reason string) bool {
	if !p.Status.State.CanTransitionTo(next) {
		return false
	}
	p.Status.State = next
	status := metav1.ConditionFalse
	if next == PackageReadyState {
		status = metav1.ConditionTrue
	}
	setCondition(&p.Status.Conditions, ReadyConditionType, status, string(next), reason)
	return true
}

//+kubebuilder:object:root=true

// PackageList contains a list of Package
type PackageList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Package `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Package{}, &PackageList{})
}
