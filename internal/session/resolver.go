package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
)

// Backend is the slice of the REST API the resolver needs.
type Backend interface {
	CreateSession(ctx context.Context, urlChannel string) (chat.Session, error)
	CheckSession(ctx context.Context, id, urlChannel string) (chat.Session, error)
}

// Resolution is the outcome of a Resolve call.
type Resolution struct {
	ID       string
	Previous string
	Created  bool
}

// Changed reports whether the active id differs from the stored one.
// A first-ever session has no previous id and counts as unchanged.
func (r Resolution) Changed() bool {
	return r.Previous != "" && r.Previous != r.ID
}

// Resolver finds or creates the visitor's session id.
type Resolver struct {
	backend    Backend
	store      Store
	urlChannel string

	mu      sync.Mutex
	current string
}

// NewResolver creates a resolver bound to one channel.
func NewResolver(backend Backend, store Store, urlChannel string) *Resolver {
	return &Resolver{backend: backend, store: store, urlChannel: urlChannel}
}

// Resolve validates the stored id and falls back to creating a new session
// when the backend rejects it or cannot be reached. Calls are serialized so
// concurrent opens never create two sessions.
func (r *Resolver) Resolve(ctx context.Context) (Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.store.Load(ctx)
	if err != nil && !errors.Is(err, ErrNoSession) {
		glog.Warningf("[session] read stored id failed: %v", err)
		stored = ""
	}

	if stored != "" {
		session, err := r.backend.CheckSession(ctx, stored, r.urlChannel)
		if err == nil {
			r.current = session.ID
			return Resolution{ID: session.ID, Previous: stored}, r.persist(ctx, session.ID, stored)
		}
		if ctx.Err() != nil {
			return Resolution{}, ctx.Err()
		}
		glog.Infof("[session] stored id %s rejected, creating a new session: %v", stored, err)
	}

	session, err := r.backend.CreateSession(ctx, r.urlChannel)
	if err != nil {
		return Resolution{}, fmt.Errorf("create session: %w", err)
	}

	glog.Infof("[session] created session %s", session.ID)
	r.current = session.ID
	return Resolution{ID: session.ID, Previous: stored, Created: true}, r.persist(ctx, session.ID, stored)
}

// Current returns the last resolved id, or "" before the first Resolve.
func (r *Resolver) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Forget drops the stored id so the next Resolve creates a session.
func (r *Resolver) Forget(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = ""
	return r.store.Clear(ctx)
}

func (r *Resolver) persist(ctx context.Context, id, stored string) error {
	if id == stored {
		return nil
	}
	if err := r.store.Save(ctx, id); err != nil {
		return fmt.Errorf("persist session id: %w", err)
	}
	return nil
}
