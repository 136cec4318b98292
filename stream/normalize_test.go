package stream

import (
	"testing"
)

func TestNormalizeFrame(t *testing.T) {
	cases := []struct {
		name        string
		raw         string
		wantType    string
		wantPayload string
		wantTerm    bool
	}{
		{
			name:        "typed envelope with payload",
			raw:         `{"type":"order.update","payload":{"id":7}}`,
			wantType:    "order.update",
			wantPayload: `{"id":7}`,
		},
		{
			name:        "typed envelope with data field",
			raw:         `{"type":"tick","data":[1,2,3]}`,
			wantType:    "tick",
			wantPayload: `[1,2,3]`,
		},
		{
			name:        "envelope without type keeps message default",
			raw:         `{"payload":"raw"}`,
			wantType:    EventTypeMessage,
			wantPayload: `"raw"`,
		},
		{
			name:        "plain text frame",
			raw:         "heartbeat",
			wantType:    EventTypeMessage,
			wantPayload: "heartbeat",
		},
		{
			name:     "malformed structured frame",
			raw:      `{"type": broken`,
			wantType: EventTypeMalformed,
		},
		{
			name:     "empty frame",
			raw:      "   ",
			wantType: EventTypeMessage,
		},
		{
			name:        "terminal discriminator",
			raw:         `{"type":"done","terminal":true,"payload":"all good"}`,
			wantType:    "done",
			wantPayload: `"all good"`,
			wantTerm:    true,
		},
		{
			name:        "done flag marks completion",
			raw:         `{"type":"completion","done":true,"payload":{}}`,
			wantType:    "completion",
			wantPayload: `{}`,
			wantTerm:    true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event := NormalizeFrame([]byte(tc.raw))
			if event.Type != tc.wantType {
				t.Fatalf("expected type %q got %q", tc.wantType, event.Type)
			}
			if tc.wantPayload != "" && string(event.Payload) != tc.wantPayload {
				t.Fatalf("expected payload %q got %q", tc.wantPayload, string(event.Payload))
			}
			if event.Terminal != tc.wantTerm {
				t.Fatalf("expected terminal=%v got %v", tc.wantTerm, event.Terminal)
			}
			if event.ReceivedAt.IsZero() {
				t.Fatalf("expected received timestamp")
			}
		})
	}
}

func TestNormalizeFrameCorrelationFields(t *testing.T) {
	raw := `{"type":"delta","correlationId":"corr-9","model":"gpt-x","providerId":"openai","errorInfo":{"code":"rate_limited"},"payload":"partial"}`
	event := NormalizeFrame([]byte(raw))
	if event.CorrelationID != "corr-9" {
		t.Fatalf("expected correlation id from frame, got %q", event.CorrelationID)
	}
	if event.Model != "gpt-x" {
		t.Fatalf("expected model, got %q", event.Model)
	}
	if event.ProviderID != "openai" {
		t.Fatalf("expected provider id, got %q", event.ProviderID)
	}
	if event.ErrInfo["code"] != "rate_limited" {
		t.Fatalf("expected error info, got %v", event.ErrInfo)
	}
	if event.Terminal {
		t.Fatalf("expected non-terminal delta")
	}
}

func TestNormalizeFrameGeneratesCorrelationID(t *testing.T) {
	first := NormalizeFrame([]byte("heartbeat"))
	second := NormalizeFrame([]byte(`{"type":"tick"}`))
	if first.CorrelationID == "" || second.CorrelationID == "" {
		t.Fatalf("expected generated correlation ids")
	}
	if first.CorrelationID == second.CorrelationID {
		t.Fatalf("expected distinct correlation ids per frame")
	}
}

func TestNormalizeFrameMalformedIsNeverTerminal(t *testing.T) {
	event := NormalizeFrame([]byte(`{"type":`))
	if event.Type != EventTypeMalformed {
		t.Fatalf("expected malformed type, got %q", event.Type)
	}
	if event.Terminal {
		t.Fatalf("a malformed frame must not end the subscription")
	}
	if event.Metadata["error"] == nil {
		t.Fatalf("expected decode error in metadata")
	}
}
