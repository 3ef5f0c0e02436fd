// Package bus carries staging requests to DEA and Diego backends and their completion
// reports back, either over NATS or in process.
package bus

import (
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"
)

const (
	// DEAStagingSubject takes DEA staging requests.
	DEAStagingSubject = "staging"
	// DEAStagingFinishedSubject carries DEA completion reports.
	DEAStagingFinishedSubject = "staging.finished"

	DiegoStagingStartSubject    = "diego.staging.start"
	DiegoStagingFinishedSubject = "diego.staging.finished"
)

// Handler receives one decoded message. Handlers run on transport goroutines.
type Handler func(payload map[string]interface{})

type Subscription interface {
	Unsubscribe() error
}

type MessageBus interface {
	// Publish encodes payload as JSON. Maps and structs with json tags are both accepted.
	Publish(subject string, payload interface{}) error
	Subscribe(subject string, handler Handler) (Subscription, error)
}

func encode(subject string, payload interface{}) ([]byte, error) {
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode message for %s: %w", subject, err)
	}
	return data, nil
}

func decode(data []byte) (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// deliver decodes data and hands it to handler. A panicking handler is logged and
// does not take the subscription down with it.
func deliver(logger logr.Logger, subject string, data []byte, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Errorf("panic: %v", r), "message handler panicked", "subject", subject)
		}
	}()

	payload, err := decode(data)
	if err != nil {
		logger.Error(err, "dropping undecodable message", "subject", subject, "message", string(data))
		return
	}
	handler(payload)
}
