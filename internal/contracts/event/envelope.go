package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Meta carries optional deployment context on every envelope.
type Meta struct {
	Env          string   `json:"env,omitempty"`
	Version      string   `json:"version,omitempty"`
	FeatureFlags []string `json:"feature_flags,omitempty"`
}

// Envelope is the bit-exact boundary format for every domain event.
// Payload is the typed event body, serialized in place.
type Envelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	TraceID   string          `json:"trace_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Meta      *Meta           `json:"meta,omitempty"`
}

// NewEnvelope builds an envelope with a fresh event_id and current UTC
// timestamp. It is pure apart from the id/clock reads; serialization
// failures surface to the caller so the enclosing transaction can roll back.
func NewEnvelope(eventType, source string, payload any, meta *Meta) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Payload:   body,
		Meta:      meta,
	}, nil
}

// Encode serializes the full envelope for the outbox payload column and the
// broker record. Serialization happens exactly once per event.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// DecodePayload unmarshals the typed body of the envelope into out.
func (e Envelope) DecodePayload(out any) error {
	return json.Unmarshal(e.Payload, out)
}
