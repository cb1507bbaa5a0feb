package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/victormalit/mutsynchub/internal/websocket"
	"github.com/victormalit/mutsynchub/pkg/kafka"
)

type fakeBroadcaster struct {
	mu         sync.Mutex
	orgCalls   []websocket.OrgPayload
	streamByID map[string][]websocket.DataUpdate
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{streamByID: make(map[string][]websocket.DataUpdate)}
}

func (f *fakeBroadcaster) BroadcastToOrg(orgID string, payload websocket.OrgPayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orgCalls = append(f.orgCalls, payload)
	return nil
}

func (f *fakeBroadcaster) BroadcastToStream(streamID string, payload websocket.DataUpdate) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamByID[streamID] = append(f.streamByID[streamID], payload)
	return nil
}

func newTestBridge() (*EventBridge, *fakeBroadcaster) {
	logger, _ := logrustest.NewNullLogger()
	gw := newFakeBroadcaster()
	return NewEventBridge(gw, logger, nil), gw
}

func TestEventBridgeStreamEvent(t *testing.T) {
	bridge, gw := newTestBridge()

	err := bridge.HandleEvent(kafka.Event{
		ID:       "evt-1",
		Type:     "data-sync",
		TenantID: "org-1",
		StreamID: "stream-7",
		Data:     map[string]interface{}{"rows": 10.0},
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	updates := gw.streamByID["stream-7"]
	if len(updates) != 1 {
		t.Fatalf("expected 1 stream update, got %d", len(updates))
	}
	if updates[0].EventType != "data-sync" {
		t.Fatalf("unexpected event type: %s", updates[0].EventType)
	}
	if updates[0].CorrelationID != "evt-1" {
		t.Fatalf("correlation id not propagated: %s", updates[0].CorrelationID)
	}
	if len(gw.orgCalls) != 0 {
		t.Fatalf("stream events must not also hit the org room")
	}
}

func TestEventBridgeOrgEventKinds(t *testing.T) {
	tests := []struct {
		eventType string
		wantKind  string
	}{
		{"analytics-metric", websocket.AnalyticsKindMetric},
		{"analytics-alert", websocket.AnalyticsKindAlert},
		{"analytics-report", websocket.AnalyticsKindReport},
		{"something-else", websocket.AnalyticsKindMetric},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			bridge, gw := newTestBridge()

			err := bridge.HandleEvent(kafka.Event{
				ID:       "evt-2",
				Type:     tt.eventType,
				TenantID: "org-1",
				Data:     map[string]interface{}{"value": 1.0},
			})
			if err != nil {
				t.Fatalf("HandleEvent: %v", err)
			}
			if len(gw.orgCalls) != 1 {
				t.Fatalf("expected 1 org broadcast, got %d", len(gw.orgCalls))
			}
			ae, ok := gw.orgCalls[0].(websocket.AnalyticsEvent)
			if !ok {
				t.Fatalf("expected AnalyticsEvent, got %T", gw.orgCalls[0])
			}
			if ae.Kind != tt.wantKind {
				t.Fatalf("expected kind %s, got %s", tt.wantKind, ae.Kind)
			}
			if ae.OrgID != "org-1" {
				t.Fatalf("unexpected org: %s", ae.OrgID)
			}
		})
	}
}

func TestEventBridgeDropsTenantlessEvent(t *testing.T) {
	bridge, gw := newTestBridge()

	err := bridge.HandleEvent(kafka.Event{
		ID:   "evt-3",
		Type: "analytics-metric",
		Data: map[string]interface{}{"value": 1.0},
	})
	if err != nil {
		t.Fatalf("dropping must not error: %v", err)
	}
	if len(gw.orgCalls) != 0 || len(gw.streamByID) != 0 {
		t.Fatal("tenantless event must not be broadcast")
	}
}

func TestEventBridgeSkipsPoisonMessage(t *testing.T) {
	bridge, gw := newTestBridge()

	err := bridge.HandleMessage(context.Background(), kafka.Message{
		Topic:     "analytics_events",
		Value:     []byte("not json"),
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("poison message must not block the partition: %v", err)
	}
	if len(gw.orgCalls) != 0 {
		t.Fatal("nothing should be broadcast")
	}
}

func TestEventBridgeResolvesTenantFromMessage(t *testing.T) {
	bridge, gw := newTestBridge()

	err := bridge.HandleMessage(context.Background(), kafka.Message{
		Topic:   "analytics_events",
		Value:   []byte(`{"id":"evt-4","type":"analytics-alert","data":{"threshold":5}}`),
		Headers: map[string]string{"tenant_id": "org-9"},
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(gw.orgCalls) != 1 {
		t.Fatalf("expected 1 org broadcast, got %d", len(gw.orgCalls))
	}
	ae := gw.orgCalls[0].(websocket.AnalyticsEvent)
	if ae.OrgID != "org-9" {
		t.Fatalf("tenant from header not applied: %s", ae.OrgID)
	}
}
