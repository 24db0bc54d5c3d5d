package fetch

import (
	"crypto/md5"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Key derives a deterministic cache key from the request parts. The same
// parts always hash to the same key, so a repeated request is served from
// the cache without a network call.
func Key(parts ...string) string {
	data := strings.Join(parts, "|")
	hash := md5.Sum([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// Store is a keyed payload cache. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, payload []byte) error
}

// CacheEntry is one memoized API response.
type CacheEntry struct {
	ID        uint      `gorm:"primaryKey"`
	CacheKey  string    `gorm:"uniqueIndex;not null"`
	Payload   string    `gorm:"type:text"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// DBStore persists cache entries in a database, so memoization survives
// across runs. A zero TTL means entries never expire.
type DBStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func NewDBStore(db *gorm.DB, ttl time.Duration) (*DBStore, error) {
	if err := db.AutoMigrate(&CacheEntry{}); err != nil {
		return nil, fmt.Errorf("migrating cache table: %w", err)
	}
	return &DBStore{db: db, ttl: ttl}, nil
}

func (s *DBStore) Get(key string) ([]byte, bool, error) {
	query := s.db.Where("cache_key = ?", key)
	if s.ttl > 0 {
		query = query.Where("expires_at > ?", time.Now())
	}

	var entry CacheEntry
	if err := query.First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(entry.Payload), true, nil
}

func (s *DBStore) Put(key string, payload []byte) error {
	entry := CacheEntry{
		CacheKey: key,
		Payload:  string(payload),
	}
	if s.ttl > 0 {
		entry.ExpiresAt = time.Now().Add(s.ttl)
	}

	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "expires_at"}),
	}).Create(&entry).Error
}

// MemoryStore is an in-process Store for tests and one-shot runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return payload, true, nil
}

func (s *MemoryStore) Put(key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.entries[key] = buf
	return nil
}

// Len reports the number of cached entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
