package session

//go:generate mockgen -destination=mock/store_mock.go -package=session_mock github.com/zhouzirui/chatdesk/internal/session Store,Backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.etcd.io/bbolt"
)

// StorageKey names the persisted session id, mirroring the browser storage key.
const StorageKey = "chatSessionId"

// ErrNoSession is returned by Load when nothing has been stored yet.
var ErrNoSession = errors.New("no stored session")

// Store persists the visitor's session id between runs.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Close() error
}

// OpenStore picks an implementation from a location string:
// "memory", "redis://host:port/db" or a bbolt file path.
func OpenStore(location string) (Store, error) {
	switch {
	case location == "" || location == "memory":
		return NewMemoryStore(), nil
	case strings.HasPrefix(location, "redis://") || strings.HasPrefix(location, "rediss://"):
		return NewRedisStore(location, StorageKey)
	default:
		return NewBoltStore(location)
	}
}

// MemoryStore keeps the id for the lifetime of the process.
type MemoryStore struct {
	mu sync.RWMutex
	id string
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.id == "" {
		return "", ErrNoSession
	}
	return s.id, nil
}

func (s *MemoryStore) Save(_ context.Context, id string) error {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.id = ""
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var boltBucket = []byte("chatdesk")

// BoltStore keeps the id in a local bbolt file.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the bbolt file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session store %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init session store %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(context.Context) (string, error) {
	var id string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(boltBucket).Get([]byte(StorageKey)); v != nil {
			id = string(v)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNoSession
	}
	return id, nil
}

func (s *BoltStore) Save(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(StorageKey), []byte(id))
	})
}

func (s *BoltStore) Clear(context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(StorageKey))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// RedisStore keeps the id under a single redis key, so several terminals
// can share one visitor identity.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to redisURL and stores the id under key.
func NewRedisStore(redisURL, key string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return NewRedisStoreWithClient(redis.NewClient(opt), key), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = StorageKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (string, error) {
	id, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNoSession
	}
	return id, nil
}

func (s *RedisStore) Save(ctx context.Context, id string) error {
	return s.client.Set(ctx, s.key, id, 0).Err()
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
