// Package registry tracks the tenant binding, activity and topic subscriptions
// of every live realtime connection. It is the authority the gateway consults
// for tenant-isolation bookkeeping and bulk operations such as the stale sweep.
package registry

import (
	"sync"
	"time"

	"github.com/victormalit/mutsynchub/pkg/logging"
)

// Event types emitted on connection lifecycle changes.
const (
	EventConnected    = "client.connected"
	EventDisconnected = "client.disconnected"
)

// Event describes a connection lifecycle change.
type Event struct {
	Type         string
	ConnectionID string
	OrgID        string
}

// State is the per-connection record. OrgID is empty until the connection
// joins an organization.
type State struct {
	OrgID         string
	LastActivity  time.Time
	Subscriptions map[string]bool
}

// Registry is an in-memory map of connection id to State. All mutating
// operations are atomic per connection id; the registry is safe for use by
// many concurrent connection handlers.
type Registry struct {
	mu      sync.RWMutex
	states  map[string]*State
	logger  logging.Logger
	onEvent func(Event)
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithEventSink registers a callback invoked on connect/disconnect events.
// The callback runs synchronously under the registry lock and must not call
// back into the registry.
func WithEventSink(fn func(Event)) Option {
	return func(r *Registry) {
		r.onEvent = fn
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty registry.
func New(logger logging.Logger, opts ...Option) *Registry {
	r := &Registry{
		states: make(map[string]*State),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts or overwrites the state for a connection with an empty
// subscription set and fresh activity. Registering an already-known
// connection is an overwrite, not an error; the gateway relies on this when a
// connection joins an organization after connecting unbound.
func (r *Registry) Register(connectionID, orgID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[connectionID] = &State{
		OrgID:         orgID,
		LastActivity:  r.now(),
		Subscriptions: make(map[string]bool),
	}

	r.logger.WithFields(logging.Fields{
		"connection_id": connectionID,
		"org_id":        orgID,
	}).Debug("Connection registered")

	r.emit(Event{Type: EventConnected, ConnectionID: connectionID, OrgID: orgID})
}

// Deregister removes the state for a connection and emits a disconnected
// event carrying the previous org. Unknown connections are a no-op: no
// mutation, no event.
func (r *Registry) Deregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[connectionID]
	if !ok {
		return
	}

	delete(r.states, connectionID)

	r.logger.WithField("connection_id", connectionID).Debug("Connection deregistered")

	r.emit(Event{Type: EventDisconnected, ConnectionID: connectionID, OrgID: state.OrgID})
}

// Touch refreshes the connection's last-activity time. No-op if absent.
func (r *Registry) Touch(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.states[connectionID]; ok {
		state.LastActivity = r.now()
	}
}

// Get returns a snapshot of the connection's state. Callers must handle
// absence explicitly; subscription bookkeeping is best-effort for unknown
// connections.
func (r *Registry) Get(connectionID string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[connectionID]
	if !ok {
		return State{}, false
	}

	snapshot := State{
		OrgID:         state.OrgID,
		LastActivity:  state.LastActivity,
		Subscriptions: make(map[string]bool, len(state.Subscriptions)),
	}
	for topic := range state.Subscriptions {
		snapshot.Subscriptions[topic] = true
	}
	return snapshot, true
}

// ListByOrg returns the ids of all connections currently bound to the org.
// Ordering is not guaranteed.
func (r *Registry) ListByOrg(orgID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, state := range r.states {
		if state.OrgID == orgID {
			ids = append(ids, id)
		}
	}
	return ids
}

// AddSubscription records a topic subscription. No-op if the connection is
// not registered.
func (r *Registry) AddSubscription(connectionID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.states[connectionID]; ok {
		state.Subscriptions[topic] = true
		r.logger.WithFields(logging.Fields{
			"connection_id": connectionID,
			"topic":         topic,
		}).Debug("Subscription added")
	}
}

// RemoveSubscription drops a topic subscription. No-op if the connection or
// subscription is absent.
func (r *Registry) RemoveSubscription(connectionID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.states[connectionID]; ok {
		delete(state.Subscriptions, topic)
		r.logger.WithFields(logging.Fields{
			"connection_id": connectionID,
			"topic":         topic,
		}).Debug("Subscription removed")
	}
}

// ListStale returns the ids of connections whose last activity is older than
// now minus threshold. Used by the sweep job to force-disconnect zombies.
func (r *Registry) ListStale(threshold time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.now().Add(-threshold)
	var ids []string
	for id, state := range r.states {
		if state.LastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}

func (r *Registry) emit(event Event) {
	if r.onEvent != nil {
		r.onEvent(event)
	}
}
