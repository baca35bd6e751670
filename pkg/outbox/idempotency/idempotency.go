// Package idempotency guards outbox consumers against duplicate Pub/Sub
// deliveries. Markers live in Redis under
// coop:idempotency:evt:<consumer>:<event_id>.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/angelmondragon/cooperative-backend/pkg/redis"
)

const (
	markerInFlight = "in_flight"
	markerDone     = "done"

	// DefaultClaimTTL bounds how long a crashed consumer blocks redelivery.
	DefaultClaimTTL = 5 * time.Minute
)

// ErrInFlight means another delivery of the same event is being handled. The
// caller should nack so Pub/Sub redelivers after the claim resolves.
var ErrInFlight = errors.New("event is being processed by another delivery")

// State is the marker state of an event for a consumer.
type State int

const (
	StateNew State = iota
	StateInFlight
	StateDone
)

// Manager claims events before processing and records completion.
type Manager struct {
	store    redis.IdempotencyStore
	doneTTL  time.Duration
	claimTTL time.Duration
}

// NewManager keeps completion markers for doneTTL.
func NewManager(store redis.IdempotencyStore, doneTTL time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if doneTTL < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	claimTTL := DefaultClaimTTL
	if doneTTL > 0 && doneTTL < claimTTL {
		claimTTL = doneTTL
	}
	return &Manager{store: store, doneTTL: doneTTL, claimTTL: claimTTL}, nil
}

// Claim reserves eventID for consumer. It returns StateNew when the caller now
// owns the event, otherwise the state of the existing marker.
func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (State, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return StateNew, err
	}
	claimed, err := m.store.SetNX(ctx, key, markerInFlight, m.claimTTL)
	if err != nil {
		return StateNew, err
	}
	if claimed {
		return StateNew, nil
	}
	marker, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// claim expired between SETNX and GET
		return StateInFlight, nil
	case err != nil:
		return StateNew, err
	case marker == markerDone:
		return StateDone, nil
	default:
		return StateInFlight, nil
	}
}

// Complete marks a claimed event as handled.
func (m *Manager) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, markerDone, m.doneTTL)
}

// Release drops a claim so the next delivery is handled again.
func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

// Run executes fn at most once per (consumer, eventID) and reports whether fn
// ran. A failing fn releases the claim. A concurrent delivery gets ErrInFlight.
func (m *Manager) Run(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error) {
	state, err := m.Claim(ctx, consumer, eventID)
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	switch state {
	case StateDone:
		return false, nil
	case StateInFlight:
		return false, ErrInFlight
	}

	if err := fn(ctx); err != nil {
		if relErr := m.Release(context.WithoutCancel(ctx), consumer, eventID); relErr != nil {
			err = multierr.Append(err, fmt.Errorf("release claim: %w", relErr))
		}
		return true, err
	}
	if err := m.Complete(context.WithoutCancel(ctx), consumer, eventID); err != nil {
		return true, fmt.Errorf("record completion: %w", err)
	}
	return true, nil
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
