// Package chatclient is the daemon side of the chat composer: it keeps the
// active thread on disk and streams completions from the server.
package chatclient

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/anand-san/murmur/internal/model"
)

var (
	threadBucket = []byte("thread")
	activeKey    = []byte("active")
)

// Thread is the active conversation: its id and full history.
type Thread struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ThreadStore persists the active thread in a bbolt file.
type ThreadStore struct {
	path string
}

// NewThreadStore returns a store at path. The file is created on first save.
func NewThreadStore(path string) *ThreadStore {
	return &ThreadStore{path: path}
}

func (s *ThreadStore) open() (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, err
	}
	return bolt.Open(s.path, 0o600, &bolt.Options{Timeout: time.Second})
}

// Load returns the saved thread, or nil when none exists.
func (s *ThreadStore) Load() (*Thread, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var thread *Thread
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(threadBucket)
		if b == nil {
			return nil
		}
		v := b.Get(activeKey)
		if len(v) == 0 {
			return nil
		}
		var t Thread
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		thread = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return thread, nil
}

// Save replaces the stored thread.
func (s *ThreadStore) Save(t *Thread) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	db, err := s.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(threadBucket)
		if err != nil {
			return err
		}
		return b.Put(activeKey, data)
	})
}

// Clear removes the stored thread.
func (s *ThreadStore) Clear() error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(threadBucket)
		if b == nil {
			return nil
		}
		return b.Delete(activeKey)
	})
}
