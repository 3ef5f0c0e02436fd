package v1alpha1

import (
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Labels stamped on every record so that a guid can be found without knowing its namespace
const (
	AppGUIDLabel       = "apps.cloudfoundry.org/appGuid"
	PackageGUIDLabel   = "apps.cloudfoundry.org/packageGuid"
	DropletGUIDLabel   = "apps.cloudfoundry.org/dropletGuid"
	ProcessGUIDLabel   = "apps.cloudfoundry.org/processGuid"
	ProcessTypeLabel   = "apps.cloudfoundry.org/processType"
	StagingTaskIDLabel = "apps.cloudfoundry.org/stagingTaskId"
)

// ApplicationReference defines App resource that owns to this Process
type ApplicationReference struct {
	Kind       string `json:"kind"`
	APIVersion string `json:"apiVersion"`
	Name       string `json:"name"`
}

// PackageReference defines Package resource that is associated to this Droplet
// a package gets a new droplet each time it is staged
type PackageReference struct {
	Kind       string `json:"kind,omitempty"`
	APIVersion string `json:"apiVersion,omitempty"`
	Name       string `json:"name,omitempty"`
}

// DropletReference defines Droplet resource that is associated to an App or Process
type DropletReference struct {
	Kind       string `json:"kind,omitempty"`
	APIVersion string `json:"apiVersion,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Checksum defines checksum for uploaded package bits
type Checksum struct {
	Type  CheckSumType `json:"type"`
	Value string       `json:"value"`
}

// CheckSumType restrict allowed checksum types to enum
// +kubebuilder:validation:Enum=sha256;sha1
type CheckSumType string

const (
	SHA256ChecksumType CheckSumType = "sha256"
	SHA1ChecksumType   CheckSumType = "sha1"
)

// Condition types shared by App, Package and Droplet
const (
	StagingConditionType   = "Staging"
	SucceededConditionType = "Succeeded"
	ReadyConditionType     = "Ready"
)

// Shared by App Lifecycle and Droplet
// Droplet can override lifecycle level definition
type LifecycleData struct {
	// List of buildpacks used to stage the app
	Buildpacks []string `json:"buildpacks,omitempty"`

	// Stack is the base image the droplet is built for
	Stack string `json:"stack,omitempty"`
}

// LifecycleType inform the platform of how to build droplets and run apps
// +kubebuilder:validation:Enum=buildpack;docker;kpack
type LifecycleType string

const (
	BuildpackLifecycle LifecycleType = "buildpack"
	DockerLifecycle    LifecycleType = "docker"
	KPackLifecycle     LifecycleType = "kpack"
)

// DesiredState used to ensure that illegal states are not provided as a string to the CRD
// +kubebuilder:validation:Enum=STARTED;STOPPED
type DesiredState string

const (
	StartedState DesiredState = "STARTED"

	StoppedState DesiredState = "STOPPED"
)

// StagingResult is what a successful completion report writes onto the record it targets.
//+kubebuilder:object:generate=false
type StagingResult struct {
	DetectedBuildpack    string
	BuildpackGUID        string
	DetectedStartCommand string
	ProcessTypes         map[string]string
	ExecutionMetadata    string
	DropletHash          string
	Image                string
}

func setCondition(conditions *[]metav1.Condition, conditionType string, status metav1.ConditionStatus, reason, message string) {
	meta.SetStatusCondition(conditions, metav1.Condition{
		Type:    conditionType,
		Status:  status,
		Reason:  reason,
		Message: message,
	})
}
