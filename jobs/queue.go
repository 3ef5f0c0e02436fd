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

// Package jobs runs asynchronous work such as bits ingestion and blob cleanup on named
// in-process queues.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

const (
	// GenericQueue takes work that any API instance may run.
	GenericQueue = "cc-generic"
	// LocalQueue takes work that needs files only this instance has, such as uploaded bits.
	LocalQueue = "cc-local"
)

var (
	ErrUnknownQueue = errors.New("unknown queue")
	ErrQueueFull    = errors.New("queue is full")
	ErrStopped      = errors.New("queues are stopped")
)

type Job interface {
	Perform(ctx context.Context) error
	JobName() string
}

type Enqueuer interface {
	Enqueue(job Job, queue string) error
}

// Queues owns a worker pool per queue name. Start blocks until its context is done,
// so Queues can be added to a controller manager as a Runnable.
type Queues struct {
	Logger logr.Logger

	mu      sync.Mutex
	queues  map[string]*queue
	stopped bool
	wg      sync.WaitGroup
}

type queue struct {
	name    string
	workers int
	jobs    chan Job
}

func NewQueues(logger logr.Logger) *Queues {
	return &Queues{
		Logger: logger,
		queues: map[string]*queue{},
	}
}

// Add registers a queue. Jobs enqueued before Start wait in its buffer.
func (q *Queues) Add(name string, workers, buffer int) {
	if workers < 1 {
		workers = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[name] = &queue{name: name, workers: workers, jobs: make(chan Job, buffer)}
}

// Enqueue never blocks: a full buffer is reported as ErrQueueFull.
func (q *Queues) Enqueue(job Job, name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrStopped
	}
	target, ok := q.queues[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}

	select {
	case target.jobs <- job:
		q.Logger.V(1).Info("job enqueued", "job", job.JobName(), "queue", name)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, name)
	}
}

func (q *Queues) Start(ctx context.Context) error {
	q.mu.Lock()
	for _, target := range q.queues {
		for i := 0; i < target.workers; i++ {
			q.wg.Add(1)
			go q.worker(ctx, target, i)
		}
	}
	q.mu.Unlock()

	<-ctx.Done()

	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

func (q *Queues) worker(ctx context.Context, target *queue, workerID int) {
	defer q.wg.Done()
	logger := q.Logger.WithValues("queue", target.name, "workerID", workerID)
	logger.V(1).Info("worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-target.jobs:
			q.perform(ctx, logger, job)
		}
	}
}

func (q *Queues) perform(ctx context.Context, logger logr.Logger, job Job) {
	jobLogger := logger.WithValues("job", job.JobName())
	defer func() {
		if r := recover(); r != nil {
			jobLogger.Error(fmt.Errorf("panic: %v", r), "job panicked")
		}
	}()

	if err := job.Perform(ctx); err != nil {
		jobLogger.Error(err, "job failed")
		return
	}
	jobLogger.V(1).Info("job finished")
}
