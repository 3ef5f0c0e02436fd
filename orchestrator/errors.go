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

// Package orchestrator holds the package and droplet operations behind the v3 API:
// every operation checks the caller's authorizer before it touches a record.
package orchestrator

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized        = errors.New("not authorized to perform the requested operation")
	ErrPackageNotFound     = errors.New("package not found")
	ErrSpaceNotFound       = errors.New("space not found")
	ErrInvalidPackageType  = errors.New("Package type must be bits.")
	ErrBitsAlreadyUploaded = errors.New("Bits may be uploaded only once. Create a new package to upload different bits.")
)

// InvalidPackageError is a package the store refused to persist.
type InvalidPackageError struct {
	Err error
}

func (e *InvalidPackageError) Error() string {
	return fmt.Sprintf("invalid package: %s", e.Err)
}

func (e *InvalidPackageError) Unwrap() error {
	return e.Err
}

// InvalidRequestError is a request that is well formed but cannot be carried out.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return e.Reason
}
