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
	"errors"
	"fmt"
)

// APIError is surfaced to whoever is waiting on a staging operation: the HTTP caller for
// a dispatch, or the transport for a completion report.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	StagingErrorCode   = "StagingError"
	InvalidMessageCode = "InvalidMessage"
)

// FailedToStageError means a backend could not build or accept a staging request.
type FailedToStageError struct {
	Backend string
	Err     error
}

func (e *FailedToStageError) Error() string {
	return fmt.Sprintf("failed to stage with %s backend: %s", e.Backend, e.Err)
}

func (e *FailedToStageError) Unwrap() error {
	return e.Err
}

// stagingError turns a backend failure into the error handed back to the caller and keeps
// the original message.
func stagingError(err error) error {
	var failed *FailedToStageError
	if errors.As(err, &failed) {
		return &APIError{Code: StagingErrorCode, Message: failed.Error()}
	}
	return err
}

// KeyError names a completion report key that is missing or has the wrong type.
type KeyError struct {
	Key    string
	Reason string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("{ %s => %s }", e.Key, e.Reason)
}
