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
	"sync"
)

// Dispatcher hands staging requests to the backend and remembers what it sent, keyed by
// task id, until the matching completion report claims it. Dispatching again for the same
// app_id forgets the earlier request.
type Dispatcher struct {
	Backend Backend

	mu          sync.Mutex
	outstanding map[string]Payload
	currentTask map[string]string
}

func NewDispatcher(backend Backend) *Dispatcher {
	return &Dispatcher{
		Backend:     backend,
		outstanding: map[string]Payload{},
		currentTask: map[string]string{},
	}
}

// Dispatch returns as soon as the backend has accepted the request. Failures are
// reported as *FailedToStageError.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, params Params) (Payload, error) {
	payload, err := d.Backend.BuildRequest(ctx, target, params)
	if err != nil {
		return Payload{}, &FailedToStageError{Backend: d.Backend.Name(), Err: err}
	}

	d.remember(payload)
	if err := d.Backend.Submit(ctx, payload); err != nil {
		d.Claim(payload.TaskID)
		return Payload{}, &FailedToStageError{Backend: d.Backend.Name(), Err: err}
	}
	return payload, nil
}

// Claim removes and returns the request sent for taskID.
func (d *Dispatcher) Claim(taskID string) (Payload, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	payload, ok := d.outstanding[taskID]
	if !ok {
		return Payload{}, false
	}
	delete(d.outstanding, taskID)
	if d.currentTask[payload.AppID] == taskID {
		delete(d.currentTask, payload.AppID)
	}
	return payload, true
}

func (d *Dispatcher) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.outstanding)
}

func (d *Dispatcher) remember(payload Payload) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if previous, ok := d.currentTask[payload.AppID]; ok && previous != payload.TaskID {
		delete(d.outstanding, previous)
	}
	d.outstanding[payload.TaskID] = payload
	d.currentTask[payload.AppID] = payload.TaskID
}
