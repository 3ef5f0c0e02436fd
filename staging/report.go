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
	"fmt"
	"strings"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
)

const missingKey = "Missing key"

// Report is a decoded completion report. Failure is set exactly when the report
// carried an error.
type Report struct {
	TaskID string
	AppID  string

	DetectedBuildpack    string
	BuildpackKey         string
	DetectedStartCommand string
	ProcessTypes         map[string]string
	ExecutionMetadata    string
	DropletHash          string
	Image                string
	TaskStreamingLogURL  string

	Failure *Failure
}

type Failure struct {
	ID      string
	Message string
}

// ParseReport checks the keys a report needs and decodes it. A report without an error
// must name its detected buildpack. error_info alone does not make a report a failure.
func ParseReport(payload map[string]interface{}) (Report, error) {
	var r Report

	taskID, err := requiredString(payload, "task_id")
	if err != nil {
		return Report{}, err
	}
	if strings.TrimSpace(taskID) == "" {
		return Report{}, &KeyError{Key: "task_id", Reason: missingKey}
	}
	r.TaskID = taskID

	if raw, ok := payload["error"]; ok && raw != nil {
		failure, err := parseFailure(raw)
		if err != nil {
			return Report{}, err
		}
		r.Failure = failure
	} else if _, ok := payload["detected_buildpack"]; !ok {
		return Report{}, &KeyError{Key: "detected_buildpack", Reason: missingKey}
	}

	fields := []struct {
		key string
		dst *string
	}{
		{"app_id", &r.AppID},
		{"detected_buildpack", &r.DetectedBuildpack},
		{"buildpack_key", &r.BuildpackKey},
		{"execution_metadata", &r.ExecutionMetadata},
		{"droplet_hash", &r.DropletHash},
		{"image", &r.Image},
		{"task_streaming_log_url", &r.TaskStreamingLogURL},
	}
	for _, f := range fields {
		if *f.dst, err = optionalString(payload, f.key); err != nil {
			return Report{}, err
		}
	}

	if r.DropletHash == "" {
		if r.DropletHash, err = optionalString(payload, "droplet_sha1"); err != nil {
			return Report{}, err
		}
	}

	if err := r.parseStartCommand(payload["detected_start_command"]); err != nil {
		return Report{}, err
	}
	return r, nil
}

// StagingResult is what a successful report writes onto its target.
func (r Report) StagingResult(buildpackGUID string) appsv1alpha1.StagingResult {
	return appsv1alpha1.StagingResult{
		DetectedBuildpack:    r.DetectedBuildpack,
		BuildpackGUID:        buildpackGUID,
		DetectedStartCommand: r.DetectedStartCommand,
		ProcessTypes:         r.ProcessTypes,
		ExecutionMetadata:    r.ExecutionMetadata,
		DropletHash:          r.DropletHash,
		Image:                r.Image,
	}
}

// BuildpackReference is the key when the backend reported one and the name otherwise.
func (r Report) BuildpackReference() string {
	if r.BuildpackKey != "" {
		return r.BuildpackKey
	}
	return r.DetectedBuildpack
}

// detected_start_command is either a command or a map of process type to command.
func (r *Report) parseStartCommand(raw interface{}) error {
	switch v := raw.(type) {
	case nil:
	case string:
		r.DetectedStartCommand = v
	case map[string]interface{}:
		r.ProcessTypes = make(map[string]string, len(v))
		for processType, command := range v {
			s, ok := command.(string)
			if !ok {
				return &KeyError{Key: "detected_start_command", Reason: "Expected instance of String or Hash of String"}
			}
			r.ProcessTypes[processType] = s
		}
		r.DetectedStartCommand = r.ProcessTypes["web"]
	default:
		return &KeyError{Key: "detected_start_command", Reason: "Expected instance of String or Hash of String"}
	}
	return nil
}

func parseFailure(raw interface{}) (*Failure, error) {
	switch v := raw.(type) {
	case string:
		return &Failure{ID: StagingErrorCode, Message: v}, nil
	case map[string]interface{}:
		id, err := requiredString(v, "id")
		if err != nil {
			return nil, &KeyError{Key: "error", Reason: err.Error()}
		}
		message, err := optionalString(v, "message")
		if err != nil {
			return nil, &KeyError{Key: "error", Reason: err.Error()}
		}
		return &Failure{ID: id, Message: message}, nil
	}
	return nil, &KeyError{Key: "error", Reason: "Expected instance of Hash"}
}

func requiredString(payload map[string]interface{}, key string) (string, error) {
	raw, ok := payload[key]
	if !ok {
		return "", &KeyError{Key: key, Reason: missingKey}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &KeyError{Key: key, Reason: fmt.Sprintf("Expected instance of String, given an instance of %T", raw)}
	}
	return s, nil
}

func optionalString(payload map[string]interface{}, key string) (string, error) {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", &KeyError{Key: key, Reason: fmt.Sprintf("Expected instance of String, given an instance of %T", raw)}
	}
	return s, nil
}
