package jobs_test

import (
	"context"
	"errors"
	"sync/atomic"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"cloudfoundry.org/cf-staging/jobs"
)

type funcJob struct {
	name    string
	perform func(ctx context.Context) error
}

func (j *funcJob) JobName() string                   { return j.name }
func (j *funcJob) Perform(ctx context.Context) error { return j.perform(ctx) }

var _ = Describe("Queues", func() {
	var (
		queues *jobs.Queues
		ctx    context.Context
		cancel context.CancelFunc
		done   chan struct{}
	)

	BeforeEach(func() {
		queues = jobs.NewQueues(logger)
		queues.Add(jobs.GenericQueue, 2, 10)
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan struct{})
	})

	startQueues := func() {
		go func() {
			defer GinkgoRecover()
			defer close(done)
			Expect(queues.Start(ctx)).To(Succeed())
		}()
	}

	AfterEach(func() {
		cancel()
	})

	It("runs jobs enqueued before and after start", func() {
		var ran int32
		job := &funcJob{name: "count", perform: func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}}

		Expect(queues.Enqueue(job, jobs.GenericQueue)).To(Succeed())
		startQueues()
		Expect(queues.Enqueue(job, jobs.GenericQueue)).To(Succeed())

		Eventually(func() int32 { return atomic.LoadInt32(&ran) }).Should(Equal(int32(2)))
	})

	It("keeps working after a job fails or panics", func() {
		startQueues()
		var ran int32
		Expect(queues.Enqueue(&funcJob{name: "fails", perform: func(context.Context) error {
			return errors.New("boom")
		}}, jobs.GenericQueue)).To(Succeed())
		Expect(queues.Enqueue(&funcJob{name: "panics", perform: func(context.Context) error {
			panic("boom")
		}}, jobs.GenericQueue)).To(Succeed())
		Expect(queues.Enqueue(&funcJob{name: "ok", perform: func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}}, jobs.GenericQueue)).To(Succeed())

		Eventually(func() int32 { return atomic.LoadInt32(&ran) }).Should(Equal(int32(1)))
	})

	It("rejects unknown queues", func() {
		err := queues.Enqueue(&funcJob{name: "lost"}, "nowhere")
		Expect(errors.Is(err, jobs.ErrUnknownQueue)).To(BeTrue())
	})

	It("reports a full queue instead of blocking", func() {
		queues.Add("tiny", 1, 1)
		job := &funcJob{name: "wait", perform: func(context.Context) error { return nil }}

		Expect(queues.Enqueue(job, "tiny")).To(Succeed())
		err := queues.Enqueue(job, "tiny")
		Expect(errors.Is(err, jobs.ErrQueueFull)).To(BeTrue())
	})

	It("stops accepting jobs once stopped", func() {
		startQueues()
		cancel()
		Eventually(done).Should(BeClosed())

		err := queues.Enqueue(&funcJob{name: "late"}, jobs.GenericQueue)
		Expect(err).To(MatchError(jobs.ErrStopped))
	})
})
