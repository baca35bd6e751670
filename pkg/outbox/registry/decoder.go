package registry

import (
	"encoding/json"
	"sync"

	"github.com/angelmondragon/cooperative-backend/pkg/enums"
)

// DecoderFunc turns an envelope's data into a typed payload.
type DecoderFunc func(payload json.RawMessage) (any, error)

type schemaVersion struct {
	event   enums.OutboxEventType
	version int
}

// DecoderRegistry is the consumer side of the catalog: each subscriber
// registers the event versions it understands.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[schemaVersion]DecoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: map[schemaVersion]DecoderFunc{}}
}

// Register binds decoder to one event version, replacing any earlier binding.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder DecoderFunc) {
	r.mu.Lock()
	r.decoders[schemaVersion{eventType, version}] = decoder
	r.mu.Unlock()
}

// Decode runs the decoder bound to the event version. An unknown version is
// non-retryable, and so is a body the decoder rejects.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mu.RLock()
	decode, ok := r.decoders[schemaVersion{eventType, version}]
	r.mu.RUnlock()
	if !ok {
		return nil, permanent("no decoder for %s@v%d", eventType, version)
	}
	out, err := decode(payload)
	if err != nil {
		return nil, permanent("decode %s@v%d: %w", eventType, version, err)
	}
	return out, nil
}

// JSONDecoder unmarshals into a fresh *T.
func JSONDecoder[T any]() DecoderFunc {
	return func(payload json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(payload, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}
