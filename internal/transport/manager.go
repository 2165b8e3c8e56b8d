package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/chatdesk/internal/metrics"
)

const (
	writeWait    = 3 * time.Second
	pongWait     = 25 * time.Second
	pingPeriod   = 20 * time.Second
	maxFrameSize = 4 << 20

	defaultReconnectDelay = 3 * time.Second
)

// ErrNotConnected is returned by Send while no socket is open.
var ErrNotConnected = errors.New("socket not connected")

// State is the connection lifecycle as seen by the UI.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Target resolves the URL and headers for the next dial. It is called on
// every attempt so the session id or credentials can change between them.
type Target func(ctx context.Context) (string, http.Header, error)

// Config configures a Manager.
type Config struct {
	// Role labels logs and metrics ("customer" or "admin").
	Role   string
	Target Target
	// ReconnectDelay is the fixed pause between attempts. There is no
	// attempt cap; the loop runs until its context ends.
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	// OnFrame receives every text frame that is valid JSON.
	OnFrame func(json.RawMessage)
	// OnState is called on every state transition.
	OnState func(State)
	Metrics *metrics.Metrics
}

// Manager keeps one socket open, reconnecting after every close.
type Manager struct {
	cfg Config

	mu    sync.RWMutex
	conn  *websocket.Conn
	state State

	writeMu sync.Mutex
}

// NewManager validates cfg and returns an idle manager. Call Run to connect.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Target == nil {
		return nil, errors.New("transport: target is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if cfg.Role == "" {
		cfg.Role = "customer"
	}
	return &Manager{cfg: cfg}, nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Connected reports whether a socket is open.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Run dials, reads until the socket closes, waits ReconnectDelay and dials
// again. It returns when ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return nil
		}

		m.setState(StateConnecting)
		conn, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			glog.Warningf("[ws:%s] dial failed: %v, retry in %s", m.cfg.Role, err, m.cfg.ReconnectDelay)
			m.setState(StateDisconnected)
		} else {
			m.serve(ctx, conn)
			if ctx.Err() != nil {
				return nil
			}
			glog.Infof("[ws:%s] connection closed, reconnect in %s", m.cfg.Role, m.cfg.ReconnectDelay)
		}

		if !m.wait(ctx) {
			return nil
		}
	}
}

// Send writes v as a JSON text frame.
func (m *Manager) Send(v any) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.FramesOut.WithLabelValues(m.cfg.Role).Inc()
	}
	return nil
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Dials.WithLabelValues(m.cfg.Role).Inc()
	}

	target, header, err := m.cfg.Target(ctx)
	if err != nil {
		m.dialFailed()
		return nil, fmt.Errorf("resolve target: %w", err)
	}

	conn, resp, err := m.cfg.Dialer.DialContext(ctx, target, header)
	if err != nil {
		m.dialFailed()
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}

func (m *Manager) dialFailed() {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.DialFailures.WithLabelValues(m.cfg.Role).Inc()
	}
}

// serve owns conn until the read side fails or ctx ends.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.setState(StateConnected)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Connected.WithLabelValues(m.cfg.Role).Set(1)
	}
	glog.Infof("[ws:%s] connected", m.cfg.Role)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			m.writeMu.Unlock()
			_ = conn.Close()
		case <-done:
		}
	}()
	go m.pingLoop(conn, done)

	m.readLoop(conn)
	close(done)

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Connected.WithLabelValues(m.cfg.Role).Set(0)
	}
	m.setState(StateDisconnected)
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.Warningf("[ws:%s] read error: %v", m.cfg.Role, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			continue
		}
		if !json.Valid(data) {
			glog.V(1).Infof("[ws:%s] dropping malformed frame (%d bytes)", m.cfg.Role, len(data))
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.FramesDropped.WithLabelValues(m.cfg.Role).Inc()
			}
			continue
		}

		glog.V(2).Infof("[ws:%s] <- %s", m.cfg.Role, data)
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.FramesIn.WithLabelValues(m.cfg.Role).Inc()
		}
		if m.cfg.OnFrame != nil {
			m.cfg.OnFrame(json.RawMessage(data))
		}
	}
}

func (m *Manager) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			m.writeMu.Unlock()
			if err != nil {
				glog.V(1).Infof("[ws:%s] ping failed: %v", m.cfg.Role, err)
				_ = conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

// wait sleeps for the reconnect delay. It returns false if ctx ended first.
func (m *Manager) wait(ctx context.Context) bool {
	timer := time.NewTimer(m.cfg.ReconnectDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()

	if changed && m.cfg.OnState != nil {
		m.cfg.OnState(s)
	}
}
