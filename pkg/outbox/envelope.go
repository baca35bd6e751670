package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who produced the event. System is set for scheduler-driven
// transitions where no member initiated the change.
type ActorRef struct {
	MemberID *uuid.UUID `json:"memberId,omitempty"`
	System   string     `json:"system,omitempty"`
}

// SystemActor is the actor for engine-initiated transitions.
func SystemActor(name string) *ActorRef {
	return &ActorRef{System: name}
}

// MemberActor is the actor for member-initiated transitions.
func MemberActor(id uuid.UUID) *ActorRef {
	return &ActorRef{MemberID: &id}
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
// TraceID links consumers back to the transaction that queued the event.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	TraceID    string          `json:"traceId,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a raw outbox payload.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	err := json.Unmarshal(raw, &envelope)
	return envelope, err
}

// DecodeData unmarshals the event body into dest.
func (e PayloadEnvelope) DecodeData(dest any) error {
	if len(e.Data) == 0 {
		return errors.New("envelope has no data")
	}
	return json.Unmarshal(e.Data, dest)
}
