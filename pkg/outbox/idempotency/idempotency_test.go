package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	values   map[string]string
	ttls     map[string]time.Duration
	setNXErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.setNXErr != nil {
		return false, m.setNXErr
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "coop:idempotency:" + scope + ":" + id
}

func TestNewManagerValidates(t *testing.T) {
	_, err := NewManager(nil, time.Hour)
	require.Error(t, err)
	_, err = NewManager(newMemoryStore(), -time.Second)
	require.Error(t, err)

	m, err := NewManager(newMemoryStore(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, m.claimTTL)
}

func TestClaimLifecycle(t *testing.T) {
	store := newMemoryStore()
	m, err := NewManager(store, 720*time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	eventID := uuid.New()
	key := "coop:idempotency:evt:referral-cascade:" + eventID.String()

	state, err := m.Claim(ctx, "referral-cascade", eventID)
	require.NoError(t, err)
	assert.Equal(t, StateNew, state)
	assert.Equal(t, markerInFlight, store.values[key])
	assert.Equal(t, DefaultClaimTTL, store.ttls[key])

	state, err = m.Claim(ctx, "referral-cascade", eventID)
	require.NoError(t, err)
	assert.Equal(t, StateInFlight, state)

	require.NoError(t, m.Complete(ctx, "referral-cascade", eventID))
	assert.Equal(t, 720*time.Hour, store.ttls[key])
	state, err = m.Claim(ctx, "referral-cascade", eventID)
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)

	state, err = m.Claim(ctx, "bonus-notifications", eventID)
	require.NoError(t, err)
	assert.Equal(t, StateNew, state, "markers are per consumer")
}

func TestClaimValidationAndStoreErrors(t *testing.T) {
	store := newMemoryStore()
	m, err := NewManager(store, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Claim(ctx, "", uuid.New())
	assert.Error(t, err)
	_, err = m.Claim(ctx, "c", uuid.Nil)
	assert.Error(t, err)

	store.setNXErr = errors.New("redis down")
	_, err = m.Run(ctx, "c", uuid.New(), func(context.Context) error { return nil })
	assert.ErrorContains(t, err, "redis down")
}

func TestRunSkipsCompletedEvents(t *testing.T) {
	m, err := NewManager(newMemoryStore(), time.Hour)
	require.NoError(t, err)
	eventID := uuid.New()
	calls := 0
	fn := func(context.Context) error {
		calls++
		return nil
	}
	for i := 0; i < 3; i++ {
		ran, err := m.Run(context.Background(), "referral-cascade", eventID, fn)
		require.NoError(t, err)
		assert.Equal(t, i == 0, ran)
	}
	assert.Equal(t, 1, calls)
}

func TestRunReportsConcurrentDelivery(t *testing.T) {
	m, err := NewManager(newMemoryStore(), time.Hour)
	require.NoError(t, err)
	eventID := uuid.New()

	var innerErr error
	ran, err := m.Run(context.Background(), "referral-cascade", eventID, func(ctx context.Context) error {
		_, innerErr = m.Run(ctx, "referral-cascade", eventID, func(context.Context) error { return nil })
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.ErrorIs(t, innerErr, ErrInFlight)
}

func TestRunReleasesClaimOnFailure(t *testing.T) {
	store := newMemoryStore()
	m, err := NewManager(store, time.Hour)
	require.NoError(t, err)
	eventID := uuid.New()
	boom := errors.New("db unavailable")

	ran, err := m.Run(context.Background(), "referral-cascade", eventID, func(context.Context) error { return boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, store.values)

	ran, err = m.Run(context.Background(), "referral-cascade", eventID, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ran)
}
