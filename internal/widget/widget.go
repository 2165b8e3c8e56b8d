package widget

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/chatdesk/internal/history"
	"github.com/zhouzirui/chatdesk/internal/metrics"
	"github.com/zhouzirui/chatdesk/internal/model/chat"
	"github.com/zhouzirui/chatdesk/internal/session"
	"github.com/zhouzirui/chatdesk/internal/transport"
	"github.com/zhouzirui/chatdesk/internal/view"
)

// DefaultWelcome is shown when a conversation has no history yet.
const DefaultWelcome = "Xin chào! Tôi có thể giúp gì cho bạn?"

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrNotConnected = transport.ErrNotConnected
	ErrNoSession    = errors.New("no active session")
)

// Backend is what the widget needs from the REST API.
type Backend interface {
	session.Backend
	History(ctx context.Context, sessionID string, page, limit int) ([]chat.Message, error)
}

// Options configures a Widget.
type Options struct {
	// WSURL is the socket base, e.g. ws://localhost:8000.
	WSURL          string
	HistoryLimit   int
	ReconnectDelay time.Duration
	Welcome        string
	Metrics        *metrics.Metrics
	// OnState observes connection state changes.
	OnState func(transport.State)
}

// Widget is the customer side of a conversation.
type Widget struct {
	backend  Backend
	resolver *session.Resolver
	opts     Options

	list      *view.List
	loader    *history.Loader
	transport *transport.Manager

	mu        sync.RWMutex
	sessionID string
	waiting   bool

	reload chan struct{}
}

// New wires a widget. Nothing touches the network until Run.
func New(backend Backend, store session.Store, urlChannel string, opts Options) (*Widget, error) {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.Welcome == "" {
		opts.Welcome = DefaultWelcome
	}

	w := &Widget{
		backend:  backend,
		resolver: session.NewResolver(backend, store, urlChannel),
		opts:     opts,
		list:     view.NewList(),
		reload:   make(chan struct{}, 1),
	}

	loader, err := history.NewLoader(w.fetchHistory, w.list, opts.HistoryLimit, history.WithWelcome(w.welcomeMessage))
	if err != nil {
		return nil, err
	}
	w.loader = loader

	manager, err := transport.NewManager(transport.Config{
		Role:           "customer",
		Target:         w.target,
		ReconnectDelay: opts.ReconnectDelay,
		OnFrame:        w.handleFrame,
		OnState:        w.onState,
		Metrics:        opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	w.transport = manager
	return w, nil
}

// Run resolves the session, keeps the socket open and loads history in
// parallel until ctx is cancelled.
func (w *Widget) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.transport.Run(gctx)
	})
	g.Go(func() error {
		w.historyWorker(gctx)
		return nil
	})
	return g.Wait()
}

// Messages returns the displayed conversation.
func (w *Widget) Messages() []chat.Message {
	return w.list.Messages()
}

// View exposes the message list for observers.
func (w *Widget) View() *view.List {
	return w.list
}

// SessionID returns the active session id, "" before the first resolve.
func (w *Widget) SessionID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sessionID
}

// Waiting reports whether a customer message is still unanswered.
func (w *Widget) Waiting() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.waiting
}

// State returns the socket state.
func (w *Widget) State() transport.State {
	return w.transport.State()
}

// Send shows text immediately and writes it to the socket.
func (w *Widget) Send(text string) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, ErrEmptyMessage
	}
	if !w.transport.Connected() {
		return chat.Message{}, ErrNotConnected
	}

	sessionID := w.SessionID()
	if sessionID == "" {
		return chat.Message{}, ErrNoSession
	}

	msg := chat.Message{
		ID:            chat.NewTempID(time.Now()),
		ChatSessionID: sessionID,
		SenderType:    chat.SenderCustomer,
		Content:       text,
		CreatedAt:     time.Now(),
	}
	w.list.AppendUnchecked(msg)

	frame := chat.OutgoingFrame{ChatSessionID: sessionID, SenderType: chat.SenderCustomer, Content: text}
	if err := w.transport.Send(frame); err != nil {
		w.list.Remove(msg.ID)
		return chat.Message{}, err
	}

	w.mu.Lock()
	w.waiting = true
	w.mu.Unlock()
	return msg, nil
}

// LoadOlder pages in the next older history page. While the first page
// has not loaded it retries that page instead.
func (w *Widget) LoadOlder(ctx context.Context) (int, error) {
	if !w.loader.Loaded() {
		before := w.list.Len()
		if err := w.loader.LoadInitial(ctx); err != nil {
			return 0, err
		}
		return w.list.Len() - before, nil
	}
	return w.loader.LoadOlder(ctx)
}

// HasMore reports whether older history may exist.
func (w *Widget) HasMore() bool {
	return w.loader.HasMore()
}

// target resolves the session before every dial, as the id may have been
// invalidated while the socket was down.
func (w *Widget) target(ctx context.Context) (string, http.Header, error) {
	res, err := w.resolver.Resolve(ctx)
	if err != nil {
		return "", nil, err
	}
	w.adoptSession(res.ID)

	base := strings.TrimRight(w.opts.WSURL, "/")
	return base + "/chat/ws/customer?sessionId=" + url.QueryEscape(res.ID), nil, nil
}

func (w *Widget) adoptSession(id string) {
	w.mu.Lock()
	previous := w.sessionID
	w.sessionID = id
	if previous != "" && previous != id {
		w.waiting = false
	}
	w.mu.Unlock()

	if previous == id {
		return
	}
	if previous != "" {
		glog.Infof("[widget] session changed %s -> %s, resetting history", previous, id)
		w.loader.Reset()
		w.list.Reset()
	}

	w.requestHistory()
}

// onState retries a failed first history load on every successful connect.
func (w *Widget) onState(s transport.State) {
	if s == transport.StateConnected && !w.loader.Loaded() {
		w.requestHistory()
	}
	if w.opts.OnState != nil {
		w.opts.OnState(s)
	}
}

func (w *Widget) requestHistory() {
	select {
	case w.reload <- struct{}{}:
	default:
	}
}

func (w *Widget) historyWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.reload:
			if err := w.loader.LoadInitial(ctx); err != nil && ctx.Err() == nil {
				glog.Warningf("[widget] load history failed: %v", err)
			}
		}
	}
}

func (w *Widget) fetchHistory(ctx context.Context, page, limit int) ([]chat.Message, error) {
	id := w.SessionID()
	if id == "" {
		return nil, ErrNoSession
	}
	return w.backend.History(ctx, id, page, limit)
}

func (w *Widget) welcomeMessage() chat.Message {
	return chat.Message{SenderType: chat.SenderBot, Content: w.opts.Welcome, CreatedAt: time.Now()}
}

func (w *Widget) handleFrame(raw json.RawMessage) {
	var msg chat.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		glog.Warningf("[widget] skip undecodable frame: %v", err)
		return
	}

	if msg.SenderType == chat.SenderBot || msg.SenderType == chat.SenderAdmin {
		w.mu.Lock()
		w.waiting = false
		w.mu.Unlock()
	}

	// our own messages were shown when sent
	if msg.SenderType == chat.SenderCustomer {
		return
	}

	if current := w.SessionID(); msg.ChatSessionID != "" && current != "" && msg.ChatSessionID != current {
		glog.V(1).Infof("[widget] skip frame for session %s", msg.ChatSessionID)
		return
	}

	w.list.Append(msg)
}
