package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victormalit/mutsynchub/internal/metrics"
	"github.com/victormalit/mutsynchub/internal/registry"
	"github.com/victormalit/mutsynchub/pkg/auth"
	"github.com/victormalit/mutsynchub/pkg/logging"
)

// ErrTenantMismatch is returned when a join targets an org different from the
// tenant embedded in the connection's credential. The connection stays open.
var ErrTenantMismatch = errors.New("tenant/org mismatch")

// Client actions recognized on the wire.
const (
	ActionJoinOrg               = "joinOrg"
	ActionLeaveOrg              = "leaveOrg"
	ActionSubscribeToStream     = "subscribeToStream"
	ActionUnsubscribeFromStream = "unsubscribeFromStream"
)

// ClientMessage is a request from a connected client.
type ClientMessage struct {
	Action   string `json:"action"`
	OrgID    string `json:"orgId,omitempty"`
	StreamID string `json:"streamId,omitempty"`
}

// Message is the envelope delivered to clients.
type Message struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Gateway owns the websocket connection lifecycle: it authenticates
// handshakes, enforces tenant isolation on org joins, tracks room membership
// and exposes the broadcast API used by backend collaborators. Room
// membership is authoritative for delivery; the registry is bookkeeping.
type Gateway struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[*Client]bool

	registry *registry.Registry
	logger   logging.Logger
	metrics  *metrics.Metrics
	secret   []byte
}

// Client represents one websocket connection.
type Client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte

	id       string
	userID   string
	tenantID string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// NewGateway creates a gateway backed by the given connection registry.
// Metrics may be nil (tests).
func NewGateway(reg *registry.Registry, secret []byte, logger logging.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[*Client]bool),
		registry: reg,
		logger:   logger,
		metrics:  m,
		secret:   secret,
	}
}

// ServeWS upgrades an HTTP request to a websocket connection. A missing or
// invalid credential closes the connection without registering any state.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	claims, err := g.authenticate(r)
	if err != nil {
		g.logger.WithFields(logging.Fields{
			"remote_addr": r.RemoteAddr,
		}).WithError(err).Warn("Connection rejected: invalid credential")
		conn.Close()
		return
	}

	client := &Client{
		gateway:  g,
		conn:     conn,
		send:     make(chan []byte, 256),
		id:       uuid.New().String(),
		userID:   claims.UserID,
		tenantID: claims.TenantID,
	}

	g.mu.Lock()
	g.clients[client.id] = client
	g.mu.Unlock()

	// Org binding happens via an explicit join, not at the transport layer.
	g.registry.Register(client.id, "")

	if g.metrics != nil {
		g.metrics.Connections.WithLabelValues("total").Inc()
	}

	g.logger.WithFields(logging.Fields{
		"connection_id": client.id,
		"user_id":       claims.UserID,
		"tenant_id":     claims.TenantID,
	}).Info("Client connected")

	go client.writePump()
	go client.readPump()
}

// authenticate extracts and validates the handshake credential from the
// `token` query parameter or the Authorization header.
func (g *Gateway) authenticate(r *http.Request) (*auth.Claims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		header := r.Header.Get("Authorization")
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token == "" {
		return nil, auth.ErrUnauthenticated
	}
	return auth.ValidateJWT(token, g.secret)
}

// Disconnect force-closes a connection by id. Used by the stale sweep. No-op
// for unknown ids.
func (g *Gateway) Disconnect(connectionID string) {
	g.mu.RLock()
	client, ok := g.clients[connectionID]
	g.mu.RUnlock()

	if ok {
		client.conn.Close()
	}
}

// BroadcastToOrg validates the payload and delivers it to every connection in
// the org's room. Validation failure returns a typed error and nothing is
// emitted. Broadcasts come from trusted backend collaborators; tenant
// isolation is enforced at join time, not re-checked here.
func (g *Gateway) BroadcastToOrg(orgID string, payload OrgPayload) error {
	if err := payload.Validate(); err != nil {
		if g.metrics != nil {
			g.metrics.BroadcastsRejected.WithLabelValues(payload.Event()).Inc()
		}
		g.logger.WithFields(logging.Fields{
			"org_id": orgID,
			"event":  payload.Event(),
		}).WithError(err).Error("Rejected org broadcast")
		return err
	}

	g.deliver(orgRoom(orgID), payload.Event(), payload)
	g.logger.WithFields(logging.Fields{
		"org_id": orgID,
		"event":  payload.Event(),
	}).Debug("Broadcast to org")
	return nil
}

// BroadcastToStream validates the payload and delivers it to every connection
// subscribed to the stream's room as a streamUpdate event.
func (g *Gateway) BroadcastToStream(streamID string, payload DataUpdate) error {
	if err := payload.Validate(); err != nil {
		if g.metrics != nil {
			g.metrics.BroadcastsRejected.WithLabelValues(EventStreamUpdate).Inc()
		}
		g.logger.WithField("stream_id", streamID).WithError(err).Error("Rejected stream broadcast")
		return err
	}

	g.deliver(streamRoom(streamID), EventStreamUpdate, payload)
	g.logger.WithField("stream_id", streamID).Debug("Broadcast to stream")
	return nil
}

// GetStats returns gateway statistics for the health endpoint.
func (g *Gateway) GetStats() map[string]interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	roomSizes := make(map[string]int, len(g.rooms))
	for room, members := range g.rooms {
		roomSizes[room] = len(members)
	}

	return map[string]interface{}{
		"total_clients": len(g.clients),
		"rooms":         roomSizes,
	}
}

// deliver fans a message out to the room's members in emission order. Slow
// clients are dropped rather than blocking the fan-out.
func (g *Gateway) deliver(room, event string, payload interface{}) {
	message, err := json.Marshal(Message{
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		g.logger.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for client := range g.rooms[room] {
		select {
		case client.send <- message:
			if g.metrics != nil {
				g.metrics.Messages.WithLabelValues(event, "out").Inc()
			}
		default:
			// Slow consumer; drop it.
			g.removeClientLocked(client)
			client.conn.Close()
		}
	}
}

func orgRoom(orgID string) string       { return "org:" + orgID }
func streamRoom(streamID string) string { return "stream:" + streamID }

func (g *Gateway) joinRoom(room string, client *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	members, ok := g.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		g.rooms[room] = members
	}
	members[client] = true
}

func (g *Gateway) leaveRoom(room string, client *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if members, ok := g.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(g.rooms, room)
		}
	}
}

// removeClientLocked removes the client from every room and the client map.
// Caller holds g.mu.
func (g *Gateway) removeClientLocked(client *Client) {
	for room, members := range g.rooms {
		delete(members, client)
		if len(members) == 0 {
			delete(g.rooms, room)
		}
	}
	if _, ok := g.clients[client.id]; ok {
		delete(g.clients, client.id)
		close(client.send)
	}
}

// unregisterClient tears down a disconnecting client.
func (g *Gateway) unregisterClient(client *Client) {
	g.mu.Lock()
	g.removeClientLocked(client)
	g.mu.Unlock()

	g.registry.Deregister(client.id)

	if g.metrics != nil {
		g.metrics.Connections.WithLabelValues("total").Dec()
	}

	g.logger.WithField("connection_id", client.id).Info("Client disconnected")
}

// readPump pumps messages from the websocket connection to the action
// handlers.
func (c *Client) readPump() {
	defer func() {
		c.gateway.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gateway.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.gateway.logger.WithError(err).Warn("Invalid client message")
			continue
		}

		c.handleAction(&msg)
	}
}

// writePump pumps messages from the gateway to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush any queued messages into the same frame batch.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleAction dispatches a client request. Every recognized action counts as
// activity.
func (c *Client) handleAction(msg *ClientMessage) {
	g := c.gateway

	switch msg.Action {
	case ActionJoinOrg, ActionLeaveOrg, ActionSubscribeToStream, ActionUnsubscribeFromStream:
		g.registry.Touch(c.id)
	default:
		g.logger.WithFields(logging.Fields{
			"connection_id": c.id,
			"action":        msg.Action,
		}).Warn("Unknown client action")
		return
	}

	if g.metrics != nil {
		g.metrics.Messages.WithLabelValues(msg.Action, "in").Inc()
	}

	switch msg.Action {
	case ActionJoinOrg:
		c.handleJoinOrg(msg.OrgID)
	case ActionLeaveOrg:
		c.handleLeaveOrg(msg.OrgID)
	case ActionSubscribeToStream:
		c.handleSubscribeToStream(msg.StreamID)
	case ActionUnsubscribeFromStream:
		c.handleUnsubscribeFromStream(msg.StreamID)
	}
}

func (c *Client) handleJoinOrg(orgID string) {
	g := c.gateway

	if c.tenantID != "" && c.tenantID != orgID {
		g.logger.WithFields(logging.Fields{
			"connection_id": c.id,
			"user_id":       c.userID,
			"user_tenant":   c.tenantID,
			"requested_org": orgID,
		}).Warn("Tenant/org isolation violation")
		c.sendError(ActionJoinOrg, "tenant_mismatch", ErrTenantMismatch.Error())
		return
	}

	g.joinRoom(orgRoom(orgID), c)
	g.registry.Register(c.id, orgID)

	g.logger.WithFields(logging.Fields{
		"connection_id": c.id,
		"org_id":        orgID,
	}).Info("Client joined org")
	c.sendAck(ActionJoinOrg, "Joined organization successfully")
}

func (c *Client) handleLeaveOrg(orgID string) {
	g := c.gateway

	g.leaveRoom(orgRoom(orgID), c)
	// Leaving an org resets subscription state rather than selectively
	// removing org membership.
	g.registry.Deregister(c.id)

	g.logger.WithFields(logging.Fields{
		"connection_id": c.id,
		"org_id":        orgID,
	}).Info("Client left org")
	c.sendAck(ActionLeaveOrg, "Left organization successfully")
}

func (c *Client) handleSubscribeToStream(streamID string) {
	g := c.gateway

	// Room membership is authoritative for delivery; registry bookkeeping is
	// best-effort.
	g.joinRoom(streamRoom(streamID), c)
	if _, ok := g.registry.Get(c.id); ok {
		g.registry.AddSubscription(c.id, streamRoom(streamID))
	} else {
		g.logger.WithFields(logging.Fields{
			"connection_id": c.id,
			"stream_id":     streamID,
		}).Debug("No registry state for subscribing connection")
	}

	g.logger.WithFields(logging.Fields{
		"connection_id": c.id,
		"stream_id":     streamID,
	}).Info("Client subscribed to stream")
	c.sendAck(ActionSubscribeToStream, "Subscribed to stream successfully")
}

func (c *Client) handleUnsubscribeFromStream(streamID string) {
	g := c.gateway

	g.leaveRoom(streamRoom(streamID), c)
	g.registry.RemoveSubscription(c.id, streamRoom(streamID))

	g.logger.WithFields(logging.Fields{
		"connection_id": c.id,
		"stream_id":     streamID,
	}).Info("Client unsubscribed from stream")
	c.sendAck(ActionUnsubscribeFromStream, "Unsubscribed from stream successfully")
}

func (c *Client) sendAck(action, message string) {
	c.sendJSON(map[string]interface{}{
		"type":    "ack",
		"action":  action,
		"success": true,
		"message": message,
	})
}

func (c *Client) sendError(action, code, message string) {
	c.sendJSON(map[string]interface{}{
		"type":    "error",
		"action":  action,
		"code":    code,
		"message": message,
	})
}

func (c *Client) sendJSON(data map[string]interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		c.gateway.logger.WithError(err).Error("Failed to marshal client message")
		return
	}

	select {
	case c.send <- message:
	default:
		// Channel full; the client will be dropped on its next delivery.
	}
}
