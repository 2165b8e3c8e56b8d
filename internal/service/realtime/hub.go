// Package realtime fans chat frames out to the customer and admin sockets
// attached to the dev server.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/chatdesk/internal/metrics"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"

	writeWait = 5 * time.Second
)

// Client is one attached socket. Writes are serialised per client.
type Client struct {
	conn      *websocket.Conn
	role      string
	sessionID string

	writeMu sync.Mutex
}

// Role returns "customer" or "admin".
func (c *Client) Role() string { return c.role }

// SessionID is the conversation a customer socket belongs to.
func (c *Client) SessionID() string { return c.sessionID }

// Conn exposes the underlying socket for the read loop.
func (c *Client) Conn() *websocket.Conn { return c.conn }

func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WriteJSON encodes v and writes it to this client only.
func (c *Client) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(data)
}

// Hub tracks customer sockets per session and every admin socket.
type Hub struct {
	mu        sync.RWMutex
	customers map[string]map[*Client]struct{}
	admins    map[*Client]struct{}
	metrics   *metrics.Metrics
}

// NewHub creates an empty hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		customers: make(map[string]map[*Client]struct{}),
		admins:    make(map[*Client]struct{}),
		metrics:   m,
	}
}

// AddCustomer attaches a customer socket to a session. A session may have
// several tabs open.
func (h *Hub) AddCustomer(sessionID string, conn *websocket.Conn) *Client {
	c := &Client{conn: conn, role: RoleCustomer, sessionID: sessionID}

	h.mu.Lock()
	if h.customers[sessionID] == nil {
		h.customers[sessionID] = make(map[*Client]struct{})
	}
	h.customers[sessionID][c] = struct{}{}
	h.mu.Unlock()

	h.gauge(RoleCustomer, 1)
	glog.V(1).Infof("[hub] customer connected: session=%s", sessionID)
	return c
}

// AddAdmin attaches an admin socket.
func (h *Hub) AddAdmin(conn *websocket.Conn) *Client {
	c := &Client{conn: conn, role: RoleAdmin}

	h.mu.Lock()
	h.admins[c] = struct{}{}
	h.mu.Unlock()

	h.gauge(RoleAdmin, 1)
	glog.V(1).Infof("[hub] admin connected")
	return c
}

// Remove detaches and closes a client. Removing twice is harmless.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	removed := false
	if c.role == RoleAdmin {
		if _, ok := h.admins[c]; ok {
			delete(h.admins, c)
			removed = true
		}
	} else if set, ok := h.customers[c.sessionID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			removed = true
		}
		if len(set) == 0 {
			delete(h.customers, c.sessionID)
		}
	}
	h.mu.Unlock()

	_ = c.conn.Close()
	if removed {
		h.gauge(c.role, -1)
		glog.V(1).Infof("[hub] %s disconnected: session=%s", c.role, c.sessionID)
	}
}

// SendToCustomer delivers v to every socket of a session and returns how
// many received it.
func (h *Hub) SendToCustomer(sessionID string, v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		glog.Errorf("[hub] encode frame for session %s: %v", sessionID, err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.customers[sessionID]))
	for c := range h.customers[sessionID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	return h.deliver(targets, data)
}

// BroadcastAdmins delivers v to every admin except skip, which may be nil.
func (h *Hub) BroadcastAdmins(v any, skip *Client) int {
	data, err := json.Marshal(v)
	if err != nil {
		glog.Errorf("[hub] encode admin frame: %v", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.admins))
	for c := range h.admins {
		if c != skip {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	return h.deliver(targets, data)
}

func (h *Hub) deliver(targets []*Client, data []byte) int {
	sent := 0
	for _, c := range targets {
		if err := c.write(data); err != nil {
			glog.Warningf("[hub] write to %s socket failed, dropping it: %v", c.role, err)
			h.Remove(c)
			continue
		}
		sent++
		if h.metrics != nil {
			h.metrics.FramesOut.WithLabelValues(c.role).Inc()
		}
	}
	return sent
}

// Counts returns the attached customer and admin sockets.
func (h *Hub) Counts() (customers, admins int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.customers {
		customers += len(set)
	}
	return customers, len(h.admins)
}

// CloseAll closes every socket.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var all []*Client
	for _, set := range h.customers {
		for c := range set {
			all = append(all, c)
		}
	}
	for c := range h.admins {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		h.Remove(c)
	}
}

func (h *Hub) gauge(role string, delta float64) {
	if h.metrics != nil {
		h.metrics.HubClients.WithLabelValues(role).Add(delta)
	}
}
