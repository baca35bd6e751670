// Package consumer turns Pub/Sub deliveries of outbox events into typed,
// exactly-once handler calls.
package consumer

import (
	"context"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/registry"
)

// Verdict is what happens to a delivery once the pipeline is done with it.
type Verdict int

const (
	// Ack removes the message from the subscription.
	Ack Verdict = iota
	// Nack asks Pub/Sub to redeliver.
	Nack
)

// Runner guards a handler so each (consumer, event) pair runs at most once.
type Runner interface {
	Run(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error)
}

// Handler reacts to one decoded event. Returning an error nacks the delivery.
type Handler[T any] func(ctx context.Context, payload *T) error

// Pipeline filters, decodes and deduplicates deliveries of a single event type.
type Pipeline[T any] struct {
	name      string
	eventType enums.OutboxEventType
	decoders  *registry.DecoderRegistry
	dedupe    Runner
	handle    Handler[T]
	skip      func(*T) bool
	logg      *logger.Logger
}

// New builds a pipeline for v1 payloads of eventType. name scopes idempotency keys.
func New[T any](name string, eventType enums.OutboxEventType, dedupe Runner, handle Handler[T], logg *logger.Logger) (*Pipeline[T], error) {
	switch {
	case name == "":
		return nil, errors.New("consumer name required")
	case dedupe == nil:
		return nil, errors.New("idempotency manager required")
	case handle == nil:
		return nil, errors.New("handler required")
	case logg == nil:
		return nil, errors.New("logger required")
	}
	decoders := registry.NewDecoderRegistry()
	decoders.Register(eventType, 1, registry.JSONDecoder[T]())
	return &Pipeline[T]{
		name:      name,
		eventType: eventType,
		decoders:  decoders,
		dedupe:    dedupe,
		handle:    handle,
		logg:      logg,
	}, nil
}

// SkipWhen acks matching payloads without running the handler.
func (p *Pipeline[T]) SkipWhen(fn func(*T) bool) *Pipeline[T] {
	p.skip = fn
	return p
}

// Receive drives the pipeline from sub until ctx is canceled.
func (p *Pipeline[T]) Receive(ctx context.Context, sub *pubsub.Subscriber) error {
	if sub == nil {
		return errors.New(p.name + ": subscription required")
	}
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if p.Process(ctx, msg.ID, msg.Attributes, msg.Data) == Nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Process handles one delivery. Messages that can never succeed (foreign
// event types, malformed envelopes, unknown versions) are acked so they do
// not loop.
func (p *Pipeline[T]) Process(ctx context.Context, messageID string, attrs map[string]string, data []byte) Verdict {
	eventType := enums.OutboxEventType(attrs["event_type"])
	if eventType != p.eventType {
		return Ack
	}
	ctx = p.logg.WithFields(ctx, map[string]any{
		"consumer":   p.name,
		"message_id": messageID,
		"event_type": eventType,
	})

	envelope, err := outbox.DecodeEnvelope(data)
	if err != nil {
		p.logg.Error(ctx, "dropping undecodable envelope", err)
		return Ack
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		p.logg.Error(ctx, "dropping message with bad event id", err)
		return Ack
	}
	ctx = p.logg.WithField(ctx, "event_id", eventID.String())
	decoded, err := p.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		p.logg.Error(ctx, "dropping unreadable payload", err)
		return Ack
	}
	payload := decoded.(*T)
	if p.skip != nil && p.skip(payload) {
		return Ack
	}

	ran, err := p.dedupe.Run(ctx, p.name, eventID, func(ctx context.Context) error {
		return p.handle(ctx, payload)
	})
	if err != nil {
		p.logg.Error(ctx, "handler failed; requesting redelivery", err)
		return Nack
	}
	if !ran {
		p.logg.Info(ctx, "event already processed")
	}
	return Ack
}
