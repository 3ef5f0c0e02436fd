package bus

import (
	"sync"

	"github.com/go-logr/logr"
)

// InMemoryBus delivers messages synchronously to subscribers in this process and keeps
// a copy of everything published. It backs single-process deployments and tests.
type InMemoryBus struct {
	logger logr.Logger

	mu        sync.Mutex
	nextID    int
	handlers  map[string]map[int]Handler
	published map[string][]map[string]interface{}
}

func NewInMemoryBus(logger logr.Logger) *InMemoryBus {
	return &InMemoryBus{
		logger:    logger,
		handlers:  map[string]map[int]Handler{},
		published: map[string][]map[string]interface{}{},
	}
}

func (b *InMemoryBus) Publish(subject string, payload interface{}) error {
	data, err := encode(subject, payload)
	if err != nil {
		return err
	}
	decoded, err := decode(data)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.published[subject] = append(b.published[subject], decoded)
	handlers := make([]Handler, 0, len(b.handlers[subject]))
	for _, h := range b.handlers[subject] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		deliver(b.logger, subject, data, h)
	}
	return nil
}

func (b *InMemoryBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[subject] == nil {
		b.handlers[subject] = map[int]Handler{}
	}
	b.handlers[subject][id] = handler

	return &memorySubscription{bus: b, subject: subject, id: id}, nil
}

// Published returns the messages published on subject so far, oldest first.
func (b *InMemoryBus) Published(subject string) []map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]interface{}(nil), b.published[subject]...)
}

type memorySubscription struct {
	bus     *InMemoryBus
	subject string
	id      int
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.handlers[s.subject], s.id)
	return nil
}
