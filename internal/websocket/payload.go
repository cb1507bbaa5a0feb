package websocket

import (
	"errors"
	"fmt"
)

// ErrInvalidPayload is returned when a broadcast payload fails validation.
// Nothing is emitted on validation failure; the caller decides whether to
// retry.
var ErrInvalidPayload = errors.New("invalid broadcast payload")

// Broadcast event names recognized by clients.
const (
	EventDataUpdate     = "dataUpdate"
	EventStreamUpdate   = "streamUpdate"
	EventAnalyticsEvent = "analyticsEvent"
)

// Analytics event kinds.
const (
	AnalyticsKindMetric = "metric"
	AnalyticsKindAlert  = "alert"
	AnalyticsKindReport = "report"
)

// OrgPayload is a broadcast payload addressed to an organization room. Each
// payload kind knows its own event name and validation rules; callers pick
// the concrete type rather than selecting behavior by event-name string.
type OrgPayload interface {
	Event() string
	Validate() error
}

// DataUpdate carries a stream-scoped data change.
type DataUpdate struct {
	StreamID      string                 `json:"streamId"`
	Data          map[string]interface{} `json:"data"`
	EventType     string                 `json:"eventType,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
}

func (p DataUpdate) Event() string { return EventDataUpdate }

func (p DataUpdate) Validate() error {
	if p.StreamID == "" {
		return fmt.Errorf("%w: streamId is required", ErrInvalidPayload)
	}
	if p.Data == nil {
		return fmt.Errorf("%w: data is required", ErrInvalidPayload)
	}
	return nil
}

// AnalyticsEvent carries an org-scoped analytics notification.
type AnalyticsEvent struct {
	Kind          string                 `json:"type"`
	OrgID         string                 `json:"orgId"`
	Payload       map[string]interface{} `json:"payload"`
	CorrelationID string                 `json:"correlationId,omitempty"`
}

func (p AnalyticsEvent) Event() string { return EventAnalyticsEvent }

func (p AnalyticsEvent) Validate() error {
	switch p.Kind {
	case AnalyticsKindMetric, AnalyticsKindAlert, AnalyticsKindReport:
	default:
		return fmt.Errorf("%w: unknown analytics event type %q", ErrInvalidPayload, p.Kind)
	}
	if p.OrgID == "" {
		return fmt.Errorf("%w: orgId is required", ErrInvalidPayload)
	}
	if p.Payload == nil {
		return fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	return nil
}
