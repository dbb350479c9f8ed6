// Package memory keeps score-change events in process. It backs the service
// when Pub/Sub is disabled and doubles as a test spy.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Message is one accepted publish.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher appends every event to an in-memory log.
type Publisher struct {
	mu   sync.RWMutex
	log  []Message
	fail error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every following Publish return err. A nil err clears it.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

// Publish implements records.Publisher. IDs are "memory-N" in publish order.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, p.fail)
	}
	msg := Message{ID: fmt.Sprintf("memory-%d", len(p.log)+1), Topic: topic, Payload: payload}
	p.log = append(p.log, msg)
	return msg.ID, nil
}

// Messages returns a copy of the log.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.log)
}

// Topic returns the payloads published to topic, oldest first.
func (p *Publisher) Topic(topic string) []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []any
	for _, m := range p.log {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}
