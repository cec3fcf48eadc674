package rosterly

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// ============================================================================
// Stored Entity
// ============================================================================

// StoredEntity is a locally cached copy of a server resource, or an
// optimistic entity that has not been confirmed yet.
type StoredEntity struct {
	Resource  string          `json:"resource"`
	ID        string          `json:"id"`
	ClientID  string          `json:"client_id,omitempty"`
	Data      json.RawMessage `json:"data"`
	Status    string          `json:"status"` // "pending" or "confirmed"
	UpdatedAt string          `json:"updated_at,omitempty"`
	SyncSeq   int             `json:"sync_seq,omitempty"`
}

// Store is the persistence backend for the offline cache, the mutation
// outbox, and sync cursors.
type Store interface {
	GetEntity(resource, id string) (*StoredEntity, error)
	PutEntities(entities []*StoredEntity) error
	ListEntities(resource string) ([]*StoredEntity, error)
	DeleteEntity(resource, id string) error

	Enqueue(update *OptimisticUpdate) error
	PendingUpdates() ([]*OptimisticUpdate, error)
	Ack(updateID string) error
	Nack(updateID, errMsg string, retries int) error
	PendingCount() (int, error)

	GetCursor(key string) (int, error)
	SetCursor(key string, value int) error

	Close() error
}

// ============================================================================
// MemoryStore
// ============================================================================

// MemoryStore is a goroutine-safe in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]*StoredEntity // keyed by resource "/" id
	outbox   map[string]*OptimisticUpdate
	cursors  map[string]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]*StoredEntity),
		outbox:   make(map[string]*OptimisticUpdate),
		cursors:  make(map[string]int),
	}
}

func entityKey(resource, id string) string {
	return resource + "/" + id
}

func (s *MemoryStore) GetEntity(resource, id string) (*StoredEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entities[entityKey(resource, id)], nil
}

func (s *MemoryStore) PutEntities(entities []*StoredEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		s.entities[entityKey(e.Resource, e.ID)] = e
	}
	return nil
}

func (s *MemoryStore) ListEntities(resource string) ([]*StoredEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*StoredEntity
	for _, e := range s.entities {
		if e.Resource == resource {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) DeleteEntity(resource, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, entityKey(resource, id))
	return nil
}

func (s *MemoryStore) Enqueue(update *OptimisticUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox[update.ID] = update
	return nil
}

func (s *MemoryStore) PendingUpdates() ([]*OptimisticUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []*OptimisticUpdate
	for _, u := range s.outbox {
		if u.Status == UpdatePending && u.RetryCount < u.MaxRetries {
			pending = append(pending, u)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	return pending, nil
}

func (s *MemoryStore) Ack(updateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outbox, updateID)
	return nil
}

func (s *MemoryStore) Nack(updateID, errMsg string, retries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.outbox[updateID]
	if u != nil {
		u.RetryCount = retries
		u.LastError = errMsg
		if retries >= u.MaxRetries {
			u.Status = UpdateFailed
		}
	}
	return nil
}

func (s *MemoryStore) PendingCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, u := range s.outbox {
		if u.Status == UpdatePending {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) GetCursor(key string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[key], nil
}

func (s *MemoryStore) SetCursor(key string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[key] = value
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// ============================================================================
// BoltStore
// ============================================================================

var (
	bucketEntities = []byte("entities")
	bucketOutbox   = []byte("outbox")
	bucketCursors  = []byte("cursors")
)

// BoltStore is a bbolt-backed Store, giving the outbox and entity cache
// durability across process restarts.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) a bolt database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEntities, bucketOutbox, bucketCursors} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) GetEntity(resource, id string) (*StoredEntity, error) {
	var entity *StoredEntity
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketEntities).Get([]byte(entityKey(resource, id)))
		if raw == nil {
			return nil
		}
		var e StoredEntity
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		entity = &e
		return nil
	})
	return entity, err
}

func (s *BoltStore) PutEntities(entities []*StoredEntity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		for _, e := range entities {
			raw, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(entityKey(e.Resource, e.ID)), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListEntities(resource string) ([]*StoredEntity, error) {
	var result []*StoredEntity
	prefix := []byte(resource + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntities).Cursor()
		for k, v := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, v = c.Next() {
			var e StoredEntity
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			result = append(result, &e)
		}
		return nil
	})
	return result, err
}

func (s *BoltStore) DeleteEntity(resource, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntities).Delete([]byte(entityKey(resource, id)))
	})
}

func (s *BoltStore) Enqueue(update *OptimisticUpdate) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		raw, err := json.Marshal(update)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketOutbox).Put([]byte(update.ID), raw)
	})
}

func (s *BoltStore) PendingUpdates() ([]*OptimisticUpdate, error) {
	var pending []*OptimisticUpdate
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).ForEach(func(_, v []byte) error {
			var u OptimisticUpdate
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			if u.Status == UpdatePending && u.RetryCount < u.MaxRetries {
				pending = append(pending, &u)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	return pending, nil
}

func (s *BoltStore) Ack(updateID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).Delete([]byte(updateID))
	})
}

func (s *BoltStore) Nack(updateID, errMsg string, retries int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOutbox)
		raw := b.Get([]byte(updateID))
		if raw == nil {
			return nil
		}
		var u OptimisticUpdate
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		u.RetryCount = retries
		u.LastError = errMsg
		if retries >= u.MaxRetries {
			u.Status = UpdateFailed
		}
		out, err := json.Marshal(&u)
		if err != nil {
			return err
		}
		return b.Put([]byte(updateID), out)
	})
}

func (s *BoltStore) PendingCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).ForEach(func(_, v []byte) error {
			var u OptimisticUpdate
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			if u.Status == UpdatePending {
				count++
			}
			return nil
		})
	})
	return count, err
}

func (s *BoltStore) GetCursor(key string) (int, error) {
	value := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCursors).Get([]byte(key))
		if raw == nil {
			return nil
		}
		v, err := strconv.Atoi(string(raw))
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, err
}

func (s *BoltStore) SetCursor(key string, value int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCursors).Put([]byte(key), []byte(strconv.Itoa(value)))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
