package kafka

import (
	"testing"
	"time"
)

func TestParseEvent_TenantFromHeader(t *testing.T) {
	msg := Message{
		Topic:     "analytics_events",
		Value:     []byte(`{"id":"1","type":"metric","source":"ingest","data":{"v":1}}`),
		Headers:   map[string]string{"tenant_id": "org-1"},
		Timestamp: time.Now(),
	}

	event, err := ParseEvent(msg)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if event.TenantID != "org-1" {
		t.Fatalf("expected tenant from header, got %q", event.TenantID)
	}
	if event.Timestamp.IsZero() {
		t.Fatalf("expected timestamp fallback from message")
	}
}

func TestParseEvent_TenantAndStreamFromData(t *testing.T) {
	msg := Message{
		Topic: "analytics_events",
		Value: []byte(`{"id":"2","type":"dataUpdate","data":{"tenant_id":"org-2","stream_id":"s-9"}}`),
	}

	event, err := ParseEvent(msg)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if event.TenantID != "org-2" {
		t.Fatalf("expected tenant from data, got %q", event.TenantID)
	}
	if event.StreamID != "s-9" {
		t.Fatalf("expected stream from data, got %q", event.StreamID)
	}
}

func TestParseEvent_InvalidJSON(t *testing.T) {
	if _, err := ParseEvent(Message{Topic: "analytics_events", Value: []byte("{")}); err == nil {
		t.Fatalf("expected decode error")
	}
}
