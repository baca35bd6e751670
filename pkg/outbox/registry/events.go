package registry

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/angelmondragon/cooperative-backend/pkg/config"
	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/payloads"
)

// EventDescriptor ties an event type to the aggregate that owns it, the topic
// it is published on and the payload shape it carries.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row that passed validation, with its payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

func schema[T any](event enums.OutboxEventType, aggregate enums.OutboxAggregateType) EventDescriptor {
	return EventDescriptor{
		EventType:      event,
		AggregateType:  aggregate,
		PayloadFactory: func() any { return new(T) },
	}
}

// catalog lists every event the engine emits.
var catalog = []EventDescriptor{
	schema[payloads.ContributionSettledEvent](enums.EventContributionSettled, enums.AggregateContribution),
	schema[payloads.ContributionMissedEvent](enums.EventContributionMissed, enums.AggregateContribution),
	schema[payloads.SubscriptionCompletedEvent](enums.EventSubscriptionCompleted, enums.AggregateSubscription),
	schema[payloads.SubscriptionDefaultedEvent](enums.EventSubscriptionDefaulted, enums.AggregateSubscription),
	schema[payloads.ReferralBonusPaidEvent](enums.EventReferralBonusPaid, enums.AggregateReferral),
	schema[payloads.FundsDepositedEvent](enums.EventFundsDeposited, enums.AggregateMember),
}

// EventRegistry validates outbox rows against the catalog before publishing.
type EventRegistry struct {
	byType map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry routes every catalog event to the configured domain topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.DomainTopic == "" {
		return nil, errors.New("event registry: domain topic is required")
	}
	reg := &EventRegistry{byType: make(map[enums.OutboxEventType]EventDescriptor, len(catalog))}
	for _, d := range catalog {
		d.Topic = cfg.DomainTopic
		reg.byType[d.EventType] = d
	}
	return reg, nil
}

// Resolve checks the row's type, aggregate and envelope and decodes the
// payload. Every failure is non-retryable: the row will never become valid.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	d, known := r.byType[event.EventType]
	switch {
	case !known:
		return nil, permanent("unsupported event type %s", event.EventType)
	case d.AggregateType != event.AggregateType:
		return nil, permanent("aggregate mismatch: %s belongs to %s, row says %s", event.EventType, d.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, permanent("%s row has no aggregate_id", event.EventType)
	}

	env, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, permanent("decode envelope: %w", err)
	}
	if body := bytes.TrimSpace(env.Data); len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, permanent("%s envelope has no data", event.EventType)
	}
	payload := d.PayloadFactory()
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, permanent("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: d, Envelope: env, Payload: payload}, nil
}
