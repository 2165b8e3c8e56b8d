package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/zhouzirui/chatdesk/internal/api"
	"github.com/zhouzirui/chatdesk/internal/history"
	"github.com/zhouzirui/chatdesk/internal/model/chat"
	"github.com/zhouzirui/chatdesk/internal/view"
)

const defaultPageSize = 10

var (
	ErrNoSelection    = errors.New("no conversation selected")
	ErrNothingToSend  = errors.New("message needs text or an image")
	ErrEmptyQuery     = errors.New("search query is empty")
	ErrUnknownSession = errors.New("conversation not found")
)

// Backend is the REST surface the dashboard drives.
type Backend interface {
	Conversations(ctx context.Context) ([]chat.Conversation, error)
	Tags(ctx context.Context) ([]chat.Tag, error)
	History(ctx context.Context, sessionID string, page, limit int) ([]chat.Message, error)
	SendMessage(ctx context.Context, req api.SendRequest) ([]chat.Message, error)
	DeleteMessages(ctx context.Context, sessionID string, ids []chat.MessageID) (chat.DeleteResult, error)
	DeleteSessions(ctx context.Context, ids []string) error
	UpdateSessionTags(ctx context.Context, sessionID string, tagIDs []int) error
	UpdateStatus(ctx context.Context, sessionID string, update chat.StatusUpdate) error
	UpdateAlert(ctx context.Context, sessionID string, alert bool) error
	SearchKnowledge(ctx context.Context, query string) ([]chat.KnowledgeResult, error)
}

// Options configures a Console.
type Options struct {
	PageSize int
	// Now is the clock used for optimistic timestamps and mode expiry.
	Now func() time.Time
	// OnEvent observes every feed event after it was applied.
	OnEvent func(chat.AdminEvent)
}

// Console is the administrator's view of every conversation.
type Console struct {
	backend  Backend
	pageSize int
	now      func() time.Time
	onEvent  func(chat.AdminEvent)

	mu            sync.RWMutex
	conversations []chat.Conversation
	tags          []chat.Tag
	alerts        map[string]struct{}
	selected      string

	list   *view.List
	loader *history.Loader
}

// NewConsole creates an empty console. Call Refresh to populate it.
func NewConsole(backend Backend, opts Options) (*Console, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Console{
		backend:  backend,
		pageSize: opts.PageSize,
		now:      opts.Now,
		onEvent:  opts.OnEvent,
		alerts:   make(map[string]struct{}),
		list:     view.NewList(),
	}

	loader, err := history.NewLoader(c.fetchSelected, c.list, c.pageSize)
	if err != nil {
		return nil, err
	}
	c.loader = loader
	return c, nil
}

// Refresh reloads the conversation list and the tag catalogue. A tag
// failure is logged and leaves the catalogue empty.
func (c *Console) Refresh(ctx context.Context) error {
	convs, err := c.backend.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	tags, err := c.backend.Tags(ctx)
	if err != nil {
		glog.Warningf("[dashboard] load tags failed: %v", err)
		tags = nil
	}

	alerts := make(map[string]struct{})
	for _, conv := range convs {
		if conv.Alert.Bool() {
			alerts[conv.ID()] = struct{}{}
		}
	}

	sortNewestFirst(convs)

	c.mu.Lock()
	c.conversations = convs
	c.tags = tags
	c.alerts = alerts
	c.mu.Unlock()
	return nil
}

// Conversations returns the list, newest activity first.
func (c *Console) Conversations() []chat.Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]chat.Conversation(nil), c.conversations...)
}

// Conversation looks up one conversation by session id.
func (c *Console) Conversation(id string) (chat.Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := c.indexLocked(id)
	if idx < 0 {
		return chat.Conversation{}, false
	}
	return c.conversations[idx], true
}

// Tags returns the tag catalogue.
func (c *Console) Tags() []chat.Tag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]chat.Tag(nil), c.tags...)
}

// Alerts returns the session ids with unread customer info, sorted.
func (c *Console) Alerts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.alerts))
	for id := range c.alerts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasAlert reports whether the conversation has unread customer info.
func (c *Console) HasAlert(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.alerts[id]
	return ok
}

// Select opens a conversation and loads its most recent page.
func (c *Console) Select(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	c.selected = sessionID
	c.mu.Unlock()

	c.loader.Reset()
	c.list.Reset()
	return c.loader.LoadInitial(ctx)
}

// Selected returns the open conversation id, "" when none.
func (c *Console) Selected() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

// Messages returns the open conversation's messages.
func (c *Console) Messages() []chat.Message {
	return c.list.Messages()
}

// View exposes the message list for observers.
func (c *Console) View() *view.List {
	return c.list
}

// LoadOlder prepends the next older page of the open conversation.
func (c *Console) LoadOlder(ctx context.Context) (int, error) {
	return c.loader.LoadOlder(ctx)
}

// HasMore reports whether the open conversation has older pages.
func (c *Console) HasMore() bool {
	return c.loader.HasMore()
}

// Send posts an admin reply. The message is shown at once and withdrawn if
// the backend rejects it, so the caller can restore its input.
func (c *Console) Send(ctx context.Context, text string, images []string) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(images) == 0 {
		return chat.Message{}, ErrNothingToSend
	}
	sessionID := c.Selected()
	if sessionID == "" {
		return chat.Message{}, ErrNoSelection
	}

	now := c.now()
	msg := chat.Message{
		ID:            chat.NewTempID(now),
		ChatSessionID: sessionID,
		SenderType:    chat.SenderAdmin,
		Content:       text,
		CreatedAt:     now,
		Image:         append(chat.ImageList(nil), images...),
	}
	c.list.AppendUnchecked(msg)

	stored, err := c.backend.SendMessage(ctx, api.SendRequest{
		ChatSessionID: sessionID,
		SenderType:    chat.SenderAdmin,
		Content:       text,
		IsAdmin:       true,
		Image:         images,
	})
	if err != nil {
		c.list.Remove(msg.ID)
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}

	for _, confirmed := range stored {
		if confirmed.ID == "" || confirmed.SenderType != chat.SenderAdmin {
			continue
		}
		if confirmed.CreatedAt.IsZero() {
			confirmed.CreatedAt = msg.CreatedAt
		}
		if c.list.Has(confirmed.ID) {
			// the feed delivered it first
			c.list.Remove(msg.ID)
		} else {
			c.list.Update(msg.ID, confirmed)
		}
		return confirmed, nil
	}
	return msg, nil
}

// DeleteMessages removes messages from the open conversation.
func (c *Console) DeleteMessages(ctx context.Context, ids []chat.MessageID) (int, error) {
	sessionID := c.Selected()
	if sessionID == "" {
		return 0, ErrNoSelection
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := c.backend.DeleteMessages(ctx, sessionID, ids)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}

	removed := ids
	if len(res.IDs) > 0 {
		removed = res.IDs
	}
	return c.list.Remove(removed...), nil
}

// DeleteConversations removes whole conversations, closing the open one if
// it is among them.
func (c *Console) DeleteConversations(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.backend.DeleteSessions(ctx, ids); err != nil {
		return fmt.Errorf("delete conversations: %w", err)
	}

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	c.mu.Lock()
	kept := c.conversations[:0]
	for _, conv := range c.conversations {
		if _, ok := drop[conv.ID()]; ok {
			delete(c.alerts, conv.ID())
			continue
		}
		kept = append(kept, conv)
	}
	c.conversations = kept
	_, closeSelected := drop[c.selected]
	if closeSelected {
		c.selected = ""
	}
	c.mu.Unlock()

	if closeSelected {
		c.loader.Reset()
		c.list.Reset()
	}
	return nil
}

// ToggleTag attaches the tag to a conversation, or detaches it when present.
func (c *Console) ToggleTag(ctx context.Context, sessionID string, tag chat.Tag) error {
	conv, ok := c.Conversation(sessionID)
	if !ok {
		return ErrUnknownSession
	}

	ids := append([]int(nil), conv.TagIDs...)
	names := append([]string(nil), conv.TagNames...)
	if conv.HasTag(tag.Name) {
		ids = removeInt(ids, tag.ID)
		names = removeString(names, tag.Name)
	} else {
		ids = append(ids, tag.ID)
		names = append(names, tag.Name)
	}

	if err := c.backend.UpdateSessionTags(ctx, sessionID, ids); err != nil {
		return fmt.Errorf("update tags: %w", err)
	}

	c.updateConversation(sessionID, func(conv *chat.Conversation) {
		conv.TagIDs = ids
		conv.TagNames = names
	})
	return nil
}

// ClearAlert marks a conversation's customer info as handled.
func (c *Console) ClearAlert(ctx context.Context, sessionID string) error {
	if !c.HasAlert(sessionID) {
		return nil
	}
	if err := c.backend.UpdateAlert(ctx, sessionID, false); err != nil {
		return fmt.Errorf("clear alert: %w", err)
	}

	c.mu.Lock()
	delete(c.alerts, sessionID)
	c.mu.Unlock()

	c.updateConversation(sessionID, func(conv *chat.Conversation) {
		conv.Alert = "false"
	})
	return nil
}

// Search queries the knowledge base.
func (c *Console) Search(ctx context.Context, query string) ([]chat.KnowledgeResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	return c.backend.SearchKnowledge(ctx, query)
}

func (c *Console) fetchSelected(ctx context.Context, page, limit int) ([]chat.Message, error) {
	id := c.Selected()
	if id == "" {
		return nil, ErrNoSelection
	}
	return c.backend.History(ctx, id, page, limit)
}

func (c *Console) updateConversation(id string, fn func(*chat.Conversation)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexLocked(id)
	if idx < 0 {
		return false
	}
	fn(&c.conversations[idx])
	return true
}

func (c *Console) indexLocked(id string) int {
	for i := range c.conversations {
		if c.conversations[i].ID() == id {
			return i
		}
	}
	return -1
}

func sortNewestFirst(convs []chat.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastActivity().After(convs[j].LastActivity())
	})
}

func removeInt(in []int, v int) []int {
	out := in[:0]
	for _, x := range in {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func removeString(in []string, v string) []string {
	out := in[:0]
	for _, x := range in {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
