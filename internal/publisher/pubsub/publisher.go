// Package pubsub publishes snapshot events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
)

// topicHandle is the subset of *pubsub.Topic the publisher needs.
type topicHandle interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Stop()
}

// Publisher publishes JSON payloads, one Pub/Sub topic per logical topic name.
type Publisher struct {
	mu       sync.Mutex
	topics   map[string]topicHandle
	newTopic func(id string) topicHandle
	// attributes are attached to every message.
	attributes map[string]string
}

// New creates a Publisher backed by client.
func New(client *pubsub.Client, attributes map[string]string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return newWithFactory(func(id string) topicHandle { return client.Topic(id) }, attributes), nil
}

func newWithFactory(factory func(id string) topicHandle, attributes map[string]string) *Publisher {
	return &Publisher{
		topics:     make(map[string]topicHandle),
		newTopic:   factory,
		attributes: attributes,
	}
}

// Publish marshals payload to JSON, publishes it to topic and waits for the server ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data}
	if len(p.attributes) > 0 {
		msg.Attributes = make(map[string]string, len(p.attributes))
		for k, v := range p.attributes {
			msg.Attributes[k] = v
		}
	}
	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and stops every topic's goroutines.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.topics {
		t.Stop()
		delete(p.topics, id)
	}
}

func (p *Publisher) topic(id string) topicHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[id]; ok {
		return t
	}
	t := p.newTopic(id)
	p.topics[id] = t
	return t
}
