package view

import (
	"sync"
	"time"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
)

const (
	// liveWindow is how many trailing entries AppendLive compares against.
	liveWindow = 3
	// liveTolerance is the created_at distance under which two messages with
	// the same sender and content are treated as one.
	liveTolerance = 2 * time.Second
)

// Observer receives a snapshot after every mutation.
type Observer func([]chat.Message)

// List is the ordered, id-deduplicated set of displayed messages.
type List struct {
	mu    sync.RWMutex
	items []chat.Message
	ids   map[chat.MessageID]struct{}

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
}

// NewList creates an empty list.
func NewList() *List {
	return &List{
		ids:       make(map[chat.MessageID]struct{}),
		observers: make(map[int]Observer),
	}
}

// Append adds msg at the end. Messages with empty content or an id that is
// already displayed are rejected. Messages without id are always added.
func (l *List) Append(msg chat.Message) bool {
	l.mu.Lock()
	if !msg.Valid() || l.hasLocked(msg.ID) {
		l.mu.Unlock()
		return false
	}
	l.addLocked(msg)
	l.mu.Unlock()

	l.notify()
	return true
}

// AppendUnchecked adds a local entry (welcome text, optimistic send)
// without the duplicate check. Its id is still registered.
func (l *List) AppendUnchecked(msg chat.Message) {
	l.mu.Lock()
	l.addLocked(msg)
	l.mu.Unlock()

	l.notify()
}

// AppendLive is Append plus a near-duplicate guard for feeds that echo the
// client's own optimistic sends back with a server id.
func (l *List) AppendLive(msg chat.Message) bool {
	l.mu.Lock()
	if !msg.Valid() || l.hasLocked(msg.ID) || l.nearDuplicateLocked(msg) {
		l.mu.Unlock()
		return false
	}
	l.addLocked(msg)
	l.mu.Unlock()

	l.notify()
	return true
}

// Prepend puts an older page in front, keeping the page's order and
// skipping ids already displayed. It returns how many were added.
func (l *List) Prepend(msgs []chat.Message) int {
	l.mu.Lock()
	page := make([]chat.Message, 0, len(msgs))
	seen := make(map[chat.MessageID]struct{}, len(msgs))
	for _, msg := range msgs {
		if !msg.Valid() || l.hasLocked(msg.ID) {
			continue
		}
		if msg.ID != "" {
			if _, dup := seen[msg.ID]; dup {
				continue
			}
			seen[msg.ID] = struct{}{}
		}
		page = append(page, msg)
	}
	if len(page) == 0 {
		l.mu.Unlock()
		return 0
	}
	for id := range seen {
		l.ids[id] = struct{}{}
	}
	l.items = append(page, l.items...)
	l.mu.Unlock()

	l.notify()
	return len(page)
}

// Replace swaps the whole content, applying the usual filters.
func (l *List) Replace(msgs []chat.Message) {
	l.mu.Lock()
	l.resetLocked()
	for _, msg := range msgs {
		if msg.Valid() && !l.hasLocked(msg.ID) {
			l.addLocked(msg)
		}
	}
	l.mu.Unlock()

	l.notify()
}

// Update replaces the message with the given id, typically a temp id being
// confirmed by the server. It reports whether the id was found.
func (l *List) Update(id chat.MessageID, msg chat.Message) bool {
	l.mu.Lock()
	idx := l.indexLocked(id)
	if idx < 0 {
		l.mu.Unlock()
		return false
	}
	delete(l.ids, id)
	if msg.ID != "" {
		l.ids[msg.ID] = struct{}{}
	}
	l.items[idx] = msg
	l.mu.Unlock()

	l.notify()
	return true
}

// Remove drops the messages with the given ids and returns how many went.
func (l *List) Remove(ids ...chat.MessageID) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[chat.MessageID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	l.mu.Lock()
	kept := l.items[:0]
	removed := 0
	for _, msg := range l.items {
		if _, ok := drop[msg.ID]; ok && msg.ID != "" {
			delete(l.ids, msg.ID)
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	l.items = kept
	l.mu.Unlock()

	if removed > 0 {
		l.notify()
	}
	return removed
}

// Reset empties the list and forgets every id.
func (l *List) Reset() {
	l.mu.Lock()
	l.resetLocked()
	l.mu.Unlock()

	l.notify()
}

// Messages returns a copy of the displayed messages in order.
func (l *List) Messages() []chat.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]chat.Message(nil), l.items...)
}

// Len returns the number of displayed messages.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Has reports whether id is displayed.
func (l *List) Has(id chat.MessageID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasLocked(id)
}

// Subscribe registers fn and returns a function that removes it.
func (l *List) Subscribe(fn Observer) func() {
	l.obsMu.Lock()
	key := l.nextObs
	l.nextObs++
	l.observers[key] = fn
	l.obsMu.Unlock()

	return func() {
		l.obsMu.Lock()
		delete(l.observers, key)
		l.obsMu.Unlock()
	}
}

func (l *List) notify() {
	l.obsMu.RLock()
	if len(l.observers) == 0 {
		l.obsMu.RUnlock()
		return
	}
	fns := make([]Observer, 0, len(l.observers))
	for _, fn := range l.observers {
		fns = append(fns, fn)
	}
	l.obsMu.RUnlock()

	snapshot := l.Messages()
	for _, fn := range fns {
		fn(snapshot)
	}
}

func (l *List) hasLocked(id chat.MessageID) bool {
	if id == "" {
		return false
	}
	_, ok := l.ids[id]
	return ok
}

func (l *List) addLocked(msg chat.Message) {
	if msg.ID != "" {
		l.ids[msg.ID] = struct{}{}
	}
	l.items = append(l.items, msg)
}

func (l *List) resetLocked() {
	l.items = nil
	l.ids = make(map[chat.MessageID]struct{})
}

func (l *List) indexLocked(id chat.MessageID) int {
	if id == "" {
		return -1
	}
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *List) nearDuplicateLocked(msg chat.Message) bool {
	if msg.CreatedAt.IsZero() {
		return false
	}
	start := len(l.items) - liveWindow
	if start < 0 {
		start = 0
	}
	for _, prev := range l.items[start:] {
		if prev.Content != msg.Content || prev.SenderType != msg.SenderType || prev.CreatedAt.IsZero() {
			continue
		}
		diff := prev.CreatedAt.Sub(msg.CreatedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff < liveTolerance {
			return true
		}
	}
	return false
}
