package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/victormalit/mutsynchub/internal/metrics"
	"github.com/victormalit/mutsynchub/internal/websocket"
	"github.com/victormalit/mutsynchub/pkg/kafka"
	"github.com/victormalit/mutsynchub/pkg/logging"
)

// Broadcaster is the gateway surface the bridge needs.
type Broadcaster interface {
	BroadcastToOrg(orgID string, payload websocket.OrgPayload) error
	BroadcastToStream(streamID string, payload websocket.DataUpdate) error
}

// EventBridge maps consumed analytics events onto websocket broadcasts.
// Events carrying a stream id go to the stream room; tenant-scoped events go
// to the org room; events with no tenant context are dropped so nothing can
// leak across tenants.
type EventBridge struct {
	gateway Broadcaster
	logger  logging.Logger
	metrics *metrics.Metrics
}

func NewEventBridge(gateway Broadcaster, logger logging.Logger, m *metrics.Metrics) *EventBridge {
	return &EventBridge{
		gateway: gateway,
		logger:  logger,
		metrics: m,
	}
}

// HandleMessage is the kafka.Handler entry point. Undecodable messages are
// logged and skipped; blocking the partition on a poison message would stall
// every event behind it.
func (b *EventBridge) HandleMessage(ctx context.Context, msg kafka.Message) error {
	start := time.Now()

	event, err := kafka.ParseEvent(msg)
	if err != nil {
		b.logger.WithError(err).WithFields(logging.Fields{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("Skipping undecodable event")
		b.recordConsumed(msg.Topic, "error", start)
		return nil
	}

	handleErr := b.HandleEvent(event)
	b.recordConsumed(msg.Topic, "success", start)
	return handleErr
}

func (b *EventBridge) recordConsumed(topic, status string, start time.Time) {
	if b.metrics == nil {
		return
	}
	b.metrics.KafkaMessages.WithLabelValues(topic, "consume", status).Inc()
	b.metrics.KafkaDuration.WithLabelValues("consume").Observe(time.Since(start).Seconds())
}

// analyticsKind maps an event type to an analytics notification kind, or ""
// when the event is a plain data update.
func analyticsKind(eventType string) string {
	switch {
	case strings.HasSuffix(eventType, "metric"):
		return websocket.AnalyticsKindMetric
	case strings.HasSuffix(eventType, "alert"):
		return websocket.AnalyticsKindAlert
	case strings.HasSuffix(eventType, "report"):
		return websocket.AnalyticsKindReport
	default:
		return ""
	}
}

// HandleEvent routes one decoded event to the right room.
func (b *EventBridge) HandleEvent(event kafka.Event) error {
	if event.StreamID != "" {
		err := b.gateway.BroadcastToStream(event.StreamID, websocket.DataUpdate{
			StreamID:      event.StreamID,
			Data:          event.Data,
			EventType:     event.Type,
			CorrelationID: event.ID,
		})
		if err != nil {
			b.logger.WithError(err).WithField("event_type", event.Type).Warn("Dropping invalid stream event")
			return nil
		}
		b.recordPublished(event.Type, "stream")
		return nil
	}

	if event.TenantID == "" {
		// No tenant context; drop to avoid cross-tenant leakage
		b.logger.WithFields(logging.Fields{
			"event_type": event.Type,
			"source":     event.Source,
		}).Warn("Dropping event without tenant context")
		return nil
	}

	kind := analyticsKind(event.Type)
	if kind == "" {
		kind = websocket.AnalyticsKindMetric
	}
	err := b.gateway.BroadcastToOrg(event.TenantID, websocket.AnalyticsEvent{
		Kind:          kind,
		OrgID:         event.TenantID,
		Payload:       event.Data,
		CorrelationID: event.ID,
	})
	if err != nil {
		b.logger.WithError(err).WithFields(logging.Fields{
			"event_type": event.Type,
			"tenant_id":  event.TenantID,
		}).Warn("Dropping invalid org event")
		return nil
	}
	b.recordPublished(event.Type, "org")
	return nil
}

func (b *EventBridge) recordPublished(eventType, scope string) {
	if b.metrics != nil {
		b.metrics.EventsPublished.WithLabelValues(eventType, scope).Inc()
	}
}
