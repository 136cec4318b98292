package stream

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeMessage      = "message"
	EventTypeMalformed    = "malformed"
	EventTypeDisconnected = "disconnected"
)

// Event is one normalized inbound frame. Terminal marks logical completion
// of the subscription's response; the socket stays open so a caller can keep
// listening or close on its own schedule.
type Event struct {
	CorrelationID string
	Type          string
	Payload       []byte
	Model         string
	ProviderID    string
	ErrInfo       map[string]any
	Metadata      map[string]any
	Terminal      bool
	ReceivedAt    time.Time
}

type eventEnvelope struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Data          json.RawMessage `json:"data"`
	Terminal      bool            `json:"terminal"`
	Done          bool            `json:"done"`
	CorrelationID string          `json:"correlationId"`
	Model         string          `json:"model"`
	ProviderID    string          `json:"providerId"`
	ErrorInfo     map[string]any  `json:"errorInfo"`
}

// NormalizeFrame turns a raw frame into an event. Structured frames carry a
// JSON envelope with a type, payload, and terminal discriminator; anything
// else is delivered verbatim as a message event. A frame that looks
// structured but fails to parse becomes a malformed event rather than an
// error, so one bad frame never tears the subscription down. Frames without
// a correlation id get a generated one so every event is addressable.
func NormalizeFrame(raw []byte) Event {
	event := Event{
		CorrelationID: uuid.NewString(),
		Type:          EventTypeMessage,
		Payload:       append([]byte(nil), raw...),
		ReceivedAt:    time.Now().UTC(),
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		event.Payload = nil
		return event
	}
	if !strings.HasPrefix(trimmed, "{") {
		return event
	}

	envelope := eventEnvelope{}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		event.Type = EventTypeMalformed
		event.Metadata = map[string]any{"error": err.Error()}
		return event
	}

	if eventType := strings.TrimSpace(envelope.Type); eventType != "" {
		event.Type = eventType
	}
	if id := strings.TrimSpace(envelope.CorrelationID); id != "" {
		event.CorrelationID = id
	}
	event.Model = strings.TrimSpace(envelope.Model)
	event.ProviderID = strings.TrimSpace(envelope.ProviderID)
	event.ErrInfo = envelope.ErrorInfo
	event.Terminal = envelope.Terminal || envelope.Done
	switch {
	case len(envelope.Payload) > 0:
		event.Payload = append([]byte(nil), envelope.Payload...)
	case len(envelope.Data) > 0:
		event.Payload = append([]byte(nil), envelope.Data...)
	}
	return event
}
