package history

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
	"github.com/zhouzirui/chatdesk/internal/view"
)

// ErrInvalidPageSize is returned by NewLoader for a non-positive page size.
var ErrInvalidPageSize = errors.New("history: page size must be positive")

// Fetcher returns one page of a conversation, oldest message first.
type Fetcher func(ctx context.Context, page, limit int) ([]chat.Message, error)

// Loader pages a conversation's history into a view.List.
type Loader struct {
	fetch    Fetcher
	list     *view.List
	pageSize int
	welcome  func() chat.Message

	mu      sync.Mutex
	page    int
	loaded  bool
	hasMore bool
	loading bool
	gen     uint64
}

// Option customises a Loader.
type Option func(*Loader)

// WithWelcome shows the message built by fn when the first page is empty.
func WithWelcome(fn func() chat.Message) Option {
	return func(l *Loader) { l.welcome = fn }
}

// NewLoader creates a loader that appends into list.
func NewLoader(fetch Fetcher, list *view.List, pageSize int, opts ...Option) (*Loader, error) {
	if pageSize <= 0 {
		return nil, ErrInvalidPageSize
	}
	l := &Loader{fetch: fetch, list: list, pageSize: pageSize, hasMore: true}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LoadInitial fetches page 1 once. The page is placed in front of anything
// that arrived live while it was in flight. An empty first page shows the
// welcome message instead. Errors leave the view untouched.
func (l *Loader) LoadInitial(ctx context.Context) error {
	l.mu.Lock()
	if l.loaded || l.loading {
		l.mu.Unlock()
		return nil
	}
	l.loading = true
	gen := l.gen
	l.mu.Unlock()

	msgs, err := l.fetch(ctx, 1, l.pageSize)

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		// reset while in flight; the result belongs to an old session
		return nil
	}
	l.loading = false
	if err != nil {
		return err
	}

	l.loaded = true
	l.page = 1
	l.hasMore = len(msgs) >= l.pageSize

	if len(msgs) == 0 {
		if l.welcome != nil {
			l.list.AppendUnchecked(l.welcome())
		}
		return nil
	}

	added := l.list.Prepend(msgs)
	glog.V(1).Infof("[history] page 1: %d fetched, %d shown", len(msgs), added)
	return nil
}

// LoadOlder fetches the next older page and prepends it. It is a no-op
// while another load is in flight, before the first page, or when the
// history is exhausted. It returns the number of messages added.
func (l *Loader) LoadOlder(ctx context.Context) (int, error) {
	l.mu.Lock()
	if !l.loaded || !l.hasMore || l.loading {
		l.mu.Unlock()
		return 0, nil
	}
	l.loading = true
	next := l.page + 1
	gen := l.gen
	l.mu.Unlock()

	msgs, err := l.fetch(ctx, next, l.pageSize)

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		return 0, nil
	}
	l.loading = false
	if err != nil {
		return 0, err
	}

	l.page = next
	l.hasMore = len(msgs) >= l.pageSize
	added := l.list.Prepend(msgs)
	glog.V(1).Infof("[history] page %d: %d fetched, %d shown", next, len(msgs), added)
	return added, nil
}

// Reset forgets the paging state, for a session change.
func (l *Loader) Reset() {
	l.mu.Lock()
	l.gen++
	l.page = 0
	l.loaded = false
	l.hasMore = true
	l.loading = false
	l.mu.Unlock()
}

// HasMore reports whether older pages may exist.
func (l *Loader) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

// Loaded reports whether the first page has been shown.
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Page returns the last page fetched, 0 before the first load.
func (l *Loader) Page() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.page
}
