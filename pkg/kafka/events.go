package kafka

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the envelope produced onto the analytics topics and consumed by the
// realtime bridge. TenantID may arrive either in the envelope or, for older
// producers, inside Data.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	StreamID  string                 `json:"stream_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// ParseEvent decodes a consumed message value into an Event, resolving the
// tenant id from the message headers or payload data when the envelope field
// is empty.
func ParseEvent(msg Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return Event{}, fmt.Errorf("failed to decode event from topic %s: %w", msg.Topic, err)
	}

	if event.TenantID == "" {
		if v, ok := msg.Headers["tenant_id"]; ok && v != "" {
			event.TenantID = v
		} else if v, ok := event.Data["tenant_id"].(string); ok && v != "" {
			event.TenantID = v
		}
	}
	if event.StreamID == "" {
		if v, ok := event.Data["stream_id"].(string); ok && v != "" {
			event.StreamID = v
		}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = msg.Timestamp
	}

	return event, nil
}
