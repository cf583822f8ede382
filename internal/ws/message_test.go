package ws

import (
	"encoding/json"
	"testing"
	"time"
)

func TestOutboundEnvelopeShape(t *testing.T) {
	msg := NewOutbound(EventNewMessage, ChatMessagePayload{
		MessageID: "m1",
		SessionID: "s1",
		Body:      "hi",
	})

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(msg.Encode(), &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	for _, key := range []string{"event", "data", "timestamp"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("envelope missing %q", key)
		}
	}

	var event string
	if err := json.Unmarshal(decoded["event"], &event); err != nil || event != EventNewMessage {
		t.Errorf("event = %q, want %q", event, EventNewMessage)
	}

	var ts time.Time
	if err := json.Unmarshal(decoded["timestamp"], &ts); err != nil {
		t.Errorf("timestamp not RFC3339: %v", err)
	}
	if ts.IsZero() {
		t.Error("timestamp not stamped")
	}
}

func TestInboundFrameParsing(t *testing.T) {
	raw := []byte(`{"action":"send_message","data":{"session_id":"s1","message":"hello"}}`)

	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal inbound: %v", err)
	}
	if msg.Action != ActionSendMessage {
		t.Errorf("action = %q", msg.Action)
	}

	var payload SendMessagePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.SessionID != "s1" || payload.Message != "hello" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestEncodeNeverReturnsEmpty(t *testing.T) {
	// Channels cannot be marshalled; the envelope must degrade to an error
	// frame instead of dropping the event.
	msg := NewOutbound(EventPong, make(chan int))
	frame := msg.Encode()
	if len(frame) == 0 {
		t.Fatal("expected fallback frame")
	}
	var decoded OutboundMessage
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("fallback frame invalid: %v", err)
	}
	if decoded.Event != EventError {
		t.Errorf("fallback event = %q, want error", decoded.Event)
	}
}
