// ABOUTME: Per-conversation lock registry serializing turn processing
// ABOUTME: At most one operation runs per conversation id; distinct conversations proceed in parallel

package turn

import (
	"context"
	"sync"
)

// Serializer guarantees only one operation executes at a time per
// conversation id. Locks are created lazily on first use and live for the
// process lifetime; conversation cardinality is bounded by active users,
// so the registry is never swept.
type Serializer struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSerializer creates an empty lock registry.
func NewSerializer() *Serializer {
	return &Serializer{locks: make(map[string]*sync.Mutex)}
}

// lockFor returns the lock for a conversation, creating it on first use.
func (s *Serializer) lockFor(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conversationID] = lock
	}
	return lock
}

// WithLock acquires the conversation's lock, runs op, and releases the
// lock on every exit path. Concurrent submissions for the same
// conversation serialize in arrival order (sync.Mutex bounds starvation);
// submissions for different conversations run fully in parallel.
func (s *Serializer) WithLock(ctx context.Context, conversationID string, op func(ctx context.Context) error) error {
	lock := s.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()
	return op(ctx)
}
