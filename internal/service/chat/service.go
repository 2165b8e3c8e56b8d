package chat

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidSender   = errors.New("sender_type must be customer, bot or admin")
	ErrEmptyMessage    = errors.New("message needs content or an image")
	ErrInvalidStatus   = errors.New(`status must be "true" or "false"`)
	ErrInvalidTime     = errors.New("invalid time")
)

const (
	defaultChannel    = "web"
	defaultURLChannel = "http://localhost/chat"
	botReceiver       = "Bot"
	// adminHold is how long an admin reply keeps the bot silent.
	adminHold = time.Hour
)

// timeLayout matches the zone-less timestamps the dashboard sends.
const timeLayout = "2006-01-02T15:04:05"

// Session is the server-side record of a conversation.
type Session struct {
	ID               int
	Name             string
	Channel          string
	URLChannel       string
	Status           string
	Time             time.Time
	CurrentReceiver  string
	PreviousReceiver string
	Alert            bool
	TagIDs           []int
	CustomerData     map[string]any
	CreatedAt        time.Time
}

// Key is the session id in its wire form.
func (s Session) Key() string {
	return strconv.Itoa(s.ID)
}

// Option configures the Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithKnowledge seeds the knowledge base.
func WithKnowledge(entries []chat.KnowledgeResult) Option {
	return func(s *Service) { s.knowledge = append(s.knowledge, entries...) }
}

// Service keeps sessions, messages, tags and knowledge entries in memory.
type Service struct {
	mu          sync.RWMutex
	now         func() time.Time
	nextSession int
	nextMessage int
	nextTag     int
	sessions    map[int]*Session
	messages    map[int][]chat.Message
	tags        map[int]chat.Tag
	knowledge   []chat.KnowledgeResult
}

// NewService bootstraps an empty store.
func NewService(opts ...Option) *Service {
	s := &Service{
		now:      time.Now,
		sessions: make(map[int]*Session),
		messages: make(map[int][]chat.Message),
		tags:     make(map[int]chat.Tag),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession opens a web session for the embedding page.
func (s *Service) CreateSession(_ context.Context, urlChannel string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(urlChannel), nil
}

// CheckSession returns the session when it exists and otherwise opens a
// fresh one, reporting whether it did.
func (s *Service) CheckSession(_ context.Context, id int, urlChannel string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return s.copyLocked(sess), false, nil
	}
	return s.createLocked(urlChannel), true, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, id int) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s.copyLocked(sess), nil
}

func (s *Service) createLocked(urlChannel string) Session {
	if urlChannel == "" {
		urlChannel = defaultURLChannel
	}
	s.nextSession++
	sess := &Session{
		ID:              s.nextSession,
		Name:            fmt.Sprintf("W-%08d", 10_000_000+rand.Intn(90_000_000)),
		Channel:         defaultChannel,
		URLChannel:      urlChannel,
		Status:          chat.StatusBot,
		CurrentReceiver: botReceiver,
		CreatedAt:       s.now(),
	}
	s.sessions[sess.ID] = sess
	glog.V(1).Infof("[chat] created session %d for %s", sess.ID, urlChannel)
	return s.copyLocked(sess)
}

func (s *Service) copyLocked(sess *Session) Session {
	out := *sess
	out.TagIDs = append([]int(nil), sess.TagIDs...)
	out.CustomerData = maps.Clone(sess.CustomerData)
	return out
}

// History returns one page counted from the newest message, oldest first
// within the page. Unknown sessions yield an empty page.
func (s *Service) History(_ context.Context, id, page, limit int) ([]chat.Message, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[id]
	end := len(all) - (page-1)*limit
	if end <= 0 {
		return []chat.Message{}, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return append([]chat.Message{}, all[start:end]...), nil
}

// Transcript returns every message of a session in order.
func (s *Service) Transcript(_ context.Context, id int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[id]; !ok {
		return nil, ErrSessionNotFound
	}
	return append([]chat.Message(nil), s.messages[id]...), nil
}

// SendInput is one message entering the store.
type SendInput struct {
	SessionID  int
	SenderType chat.SenderType
	Content    string
	Image      []string
	// SenderName becomes the current receiver when an admin replies.
	SenderName string
}

// SendResult carries the stored message and the session right after it.
type SendResult struct {
	Message chat.Message
	Session Session
}

// Send stores a message. An admin message switches the session to manual
// mode for an hour, like a human taking over the conversation.
func (s *Service) Send(_ context.Context, in SendInput) (SendResult, error) {
	switch in.SenderType {
	case chat.SenderCustomer, chat.SenderBot, chat.SenderAdmin:
	default:
		return SendResult{}, ErrInvalidSender
	}
	if in.Content == "" && len(in.Image) == 0 {
		return SendResult{}, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[in.SessionID]
	if !ok {
		return SendResult{}, ErrSessionNotFound
	}

	now := s.now()
	s.nextMessage++
	msg := chat.Message{
		ID:            chat.MessageID(strconv.Itoa(s.nextMessage)),
		ChatSessionID: sess.Key(),
		SenderType:    in.SenderType,
		Content:       in.Content,
		CreatedAt:     now,
		Image:         append(chat.ImageList(nil), in.Image...),
	}
	s.messages[sess.ID] = append(s.messages[sess.ID], msg)

	if in.SenderType == chat.SenderAdmin {
		name := in.SenderName
		if name == "" {
			name = "Admin"
		}
		sess.Status = chat.StatusManual
		sess.Time = now.Add(adminHold)
		sess.PreviousReceiver = sess.CurrentReceiver
		sess.CurrentReceiver = name
	}

	return SendResult{Message: msg, Session: s.copyLocked(sess)}, nil
}

// CanReply reports whether the bot may answer. An expired manual window
// hands the session back to the bot.
func (s *Service) CanReply(_ context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false, ErrSessionNotFound
	}

	if sess.Status == chat.StatusManual && !sess.Time.IsZero() && s.now().After(sess.Time) {
		glog.V(1).Infof("[chat] manual window of session %d expired, bot resumes", id)
		sess.Status = chat.StatusBot
		sess.PreviousReceiver = sess.CurrentReceiver
		sess.CurrentReceiver = botReceiver
		sess.Time = time.Time{}
	}
	return sess.Status == chat.StatusBot, nil
}

// UpdateStatus switches between bot and manual handling. A manual update
// without time stays manual until switched back.
func (s *Service) UpdateStatus(_ context.Context, id int, update chat.StatusUpdate, adminName string) (Session, error) {
	if update.Status != chat.StatusBot && update.Status != chat.StatusManual {
		return Session{}, ErrInvalidStatus
	}

	var expiry time.Time
	if update.Time != "" {
		t, err := ParseExpiry(update.Time)
		if err != nil {
			return Session{}, err
		}
		expiry = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}

	if sess.Status == chat.StatusBot && update.Status == chat.StatusBot {
		return s.copyLocked(sess), nil
	}

	if adminName == "" {
		adminName = "Admin"
	}
	sess.PreviousReceiver = sess.CurrentReceiver
	if update.Status == chat.StatusBot {
		sess.CurrentReceiver = botReceiver
	} else {
		sess.CurrentReceiver = adminName
	}
	sess.Status = update.Status
	sess.Time = expiry
	return s.copyLocked(sess), nil
}

// ParseExpiry reads a manual-mode expiry. Zone-less values are local time.
func ParseExpiry(raw string) (time.Time, error) {
	if t, err := time.ParseInLocation(timeLayout, raw, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w %q", ErrInvalidTime, raw)
}

// SetAlert flags or clears unread customer info.
func (s *Service) SetAlert(_ context.Context, id int, alert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Alert = alert
	return nil
}

// MergeCustomerData folds newly extracted details into the session and
// raises the alert when something changed. It reports the merged data.
func (s *Service) MergeCustomerData(_ context.Context, id int, data map[string]any) (map[string]any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, ErrSessionNotFound
	}
	if sess.CustomerData == nil {
		sess.CustomerData = make(map[string]any)
	}

	changed := false
	for k, v := range data {
		if v == nil || v == "" {
			continue
		}
		if old, ok := sess.CustomerData[k]; !ok || !reflect.DeepEqual(old, v) {
			sess.CustomerData[k] = v
			changed = true
		}
	}
	if changed {
		sess.Alert = true
	}
	return s.copyLocked(sess).CustomerData, changed, nil
}

// SetSessionTags replaces the tags of a session. Unknown tag ids are dropped.
func (s *Service) SetSessionTags(_ context.Context, id int, tagIDs []int) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}

	kept := make([]int, 0, len(tagIDs))
	for _, tagID := range tagIDs {
		if _, ok := s.tags[tagID]; ok {
			kept = append(kept, tagID)
		}
	}
	sess.TagIDs = kept
	return s.copyLocked(sess), nil
}

// DeleteSessions removes sessions with their messages and returns how many existed.
func (s *Service) DeleteSessions(_ context.Context, ids []int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, ok := s.sessions[id]; !ok {
			continue
		}
		delete(s.sessions, id)
		delete(s.messages, id)
		deleted++
	}
	return deleted
}

// DeleteMessages removes messages of one session and returns the removed ids.
func (s *Service) DeleteMessages(_ context.Context, sessionID int, ids []int) []chat.MessageID {
	drop := make(map[chat.MessageID]struct{}, len(ids))
	for _, id := range ids {
		drop[chat.MessageID(strconv.Itoa(id))] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := []chat.MessageID{}
	kept := s.messages[sessionID][:0]
	for _, msg := range s.messages[sessionID] {
		if _, ok := drop[msg.ID]; ok {
			removed = append(removed, msg.ID)
			continue
		}
		kept = append(kept, msg)
	}
	if _, ok := s.sessions[sessionID]; ok {
		s.messages[sessionID] = kept
	}
	return removed
}

// Conversations lists sessions that have messages, latest activity first.
func (s *Service) Conversations(_ context.Context) []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Conversation, 0, len(s.sessions))
	for id, sess := range s.sessions {
		msgs := s.messages[id]
		if len(msgs) == 0 {
			continue
		}
		last := msgs[len(msgs)-1]

		conv := chat.Conversation{
			SessionID:        chat.FlexString(sess.Key()),
			Name:             sess.Name,
			Status:           chat.FlexString(sess.Status),
			TagIDs:           append([]int{}, sess.TagIDs...),
			TagNames:         s.tagNamesLocked(sess.TagIDs),
			CustomerData:     maps.Clone(sess.CustomerData),
			Alert:            chat.FlexString(strconv.FormatBool(sess.Alert)),
			Platform:         sess.Channel,
			Content:          last.Content,
			SenderType:       last.SenderType,
			CreatedAt:        last.CreatedAt.Format("2006-01-02T15:04:05.999999"),
			CurrentReceiver:  sess.CurrentReceiver,
			PreviousReceiver: sess.PreviousReceiver,
			Image:            last.Image,
		}
		if !sess.Time.IsZero() {
			conv.Time = sess.Time.Format(timeLayout)
		}
		out = append(out, conv)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity().After(out[j].LastActivity())
	})
	return out
}

// Customers lists sessions, optionally narrowed by channel and tag.
func (s *Service) Customers(_ context.Context, channel string, tagID int) []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if channel != "" && sess.Channel != channel {
			continue
		}
		if tagID != 0 && !containsInt(sess.TagIDs, tagID) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		sess := s.sessions[id]
		out = append(out, map[string]any{
			"session_id":    sess.ID,
			"channel":       sess.Channel,
			"name":          sess.Name,
			"customer_data": maps.Clone(sess.CustomerData),
		})
	}
	return out
}

// Summary counts messages and sessions per channel.
func (s *Service) Summary(_ context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := map[string]int{}
	sessions := map[string]int{}
	total := 0
	for id, sess := range s.sessions {
		sessions[sess.Channel]++
		messages[sess.Channel] += len(s.messages[id])
		total += len(s.messages[id])
	}

	channels := make([]string, 0, len(sessions))
	for ch := range sessions {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	bar := make([]map[string]any, 0, len(channels))
	for _, ch := range channels {
		bar = append(bar, map[string]any{"channel": ch, "messages": messages[ch], "sessions": sessions[ch]})
	}
	return map[string]any{
		"barData":        bar,
		"total_messages": total,
		"total_sessions": len(s.sessions),
	}
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
