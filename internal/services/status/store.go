package status

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/chatphantom/phantomchat/internal/domain/phantom/models"
	"github.com/chatphantom/phantomchat/internal/infrastructure/redis"
)

const (
	keyPrefix = "phantomchat:status:"
	entryTTL  = 24 * time.Hour
)

// Entry is the last known status of one phantom.
type Entry struct {
	Status    models.Status `json:"status,omitempty"`
	Progress  *float64      `json:"progress,omitempty"`
	Received  bool          `json:"received"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Store holds the phantom ID to status mapping.
type Store interface {
	Set(ctx context.Context, phantomID string, entry Entry) error
	Get(ctx context.Context, phantomID string) (Entry, bool, error)
	Delete(ctx context.Context, phantomID string) error
}

type RedisStore struct {
	redisService *redis.Service
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewStore uses Redis when a reachable service is given and memory otherwise.
func NewStore(redisService *redis.Service) Store {
	if redisService != nil {
		if err := redisService.Ping(context.Background()); err == nil {
			return &RedisStore{redisService: redisService}
		}
	}
	return NewMemoryStore()
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
	}
}

// Redis Store implementation
func (rs *RedisStore) Set(ctx context.Context, phantomID string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return rs.redisService.Set(ctx, keyPrefix+phantomID, string(data), entryTTL)
}

func (rs *RedisStore) Get(ctx context.Context, phantomID string) (Entry, bool, error) {
	data, err := rs.redisService.Get(ctx, keyPrefix+phantomID)
	if errors.Is(err, redis.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (rs *RedisStore) Delete(ctx context.Context, phantomID string) error {
	return rs.redisService.Delete(ctx, keyPrefix+phantomID)
}

// Memory Store implementation
func (ms *MemoryStore) Set(_ context.Context, phantomID string, entry Entry) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.entries[phantomID] = entry
	return nil
}

func (ms *MemoryStore) Get(_ context.Context, phantomID string) (Entry, bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	entry, ok := ms.entries[phantomID]
	return entry, ok, nil
}

func (ms *MemoryStore) Delete(_ context.Context, phantomID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.entries, phantomID)
	return nil
}
