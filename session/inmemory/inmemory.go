package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/catengine/models"
	"github.com/mohammad-safakhou/catengine/session/session_object"
)

// Store keeps sessions in a map guarded by one mutex. It hands out and stores
// copies so callers never share state through the map.
type Store struct {
	sessions map[string]*session_object.Session
	mu       sync.Mutex
	now      func() time.Time
}

func NewInMemorySessionStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{sessions: make(map[string]*session_object.Session), now: now}
}

func (store *Store) Create(_ context.Context, userID, examID string, timeLimit *time.Duration) (*session_object.Session, error) {
	sess := session_object.New(uuid.NewString(), userID, examID, timeLimit, store.now())
	store.mu.Lock()
	store.sessions[sess.ID] = sess.Clone()
	store.mu.Unlock()
	return sess, nil
}

func (store *Store) Get(_ context.Context, id string) (*session_object.Session, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	sess, ok := store.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (store *Store) Save(_ context.Context, sess *session_object.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	store.mu.Lock()
	store.sessions[sess.ID] = sess.Clone()
	store.mu.Unlock()
	return nil
}

func (store *Store) ClearAll(_ context.Context) error {
	store.mu.Lock()
	store.sessions = make(map[string]*session_object.Session)
	store.mu.Unlock()
	return nil
}

// Len reports how many sessions are held.
func (store *Store) Len() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.sessions)
}
