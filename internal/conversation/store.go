// Package conversation holds per-session message history with FIFO bounds
// and TTL eviction. The store is the single source of truth for multi-turn
// history.
package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/maestro/pkg/models"
)

const (
	// DefaultMaxMessages caps messages kept per session.
	DefaultMaxMessages = 1000

	// sweepInterval is the fixed cadence of the TTL sweeper.
	sweepInterval = 60 * time.Second
)

type session struct {
	messages       []models.Message
	createdAt      time.Time
	lastAccessedAt time.Time
}

// Store is an in-memory mapping of session id to bounded message history.
// All operations hold one mutex over the session map; returned slices are
// defensive copies.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*session
	maxMessages int
	ttl         time.Duration
	now         func() time.Time
	logger      *slog.Logger
	onCount     func(sessions int)
	stopSweeper chan struct{}
	sweeperDone chan struct{}
}

// Option configures the store.
type Option func(*Store)

// WithMaxMessages overrides the per-session message cap.
func WithMaxMessages(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxMessages = n
		}
	}
}

// WithTTL enables TTL eviction. Sessions idle longer than ttl are removed
// by a sweeper running at a fixed 60-second cadence.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCountObserver reports the live session count after every change
// to the session map, used for metrics.
func WithCountObserver(fn func(sessions int)) Option {
	return func(s *Store) {
		s.onCount = fn
	}
}

// WithLogger configures the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a conversation store. When a TTL is configured the
// sweeper starts immediately and runs until Destroy.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]*session),
		maxMessages: DefaultMaxMessages,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "conversation")

	if s.ttl > 0 {
		s.stopSweeper = make(chan struct{})
		s.sweeperDone = make(chan struct{})
		go s.sweep()
	}
	return s
}

// Add appends a message, creating the session lazily, then trims from the
// head until the cap holds.
func (s *Store) Add(sessionID string, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{createdAt: now}
		s.sessions[sessionID] = sess
		s.notifyCount()
	}
	sess.messages = append(sess.messages, msg)
	if excess := len(sess.messages) - s.maxMessages; excess > 0 {
		sess.messages = sess.messages[excess:]
	}
	sess.lastAccessedAt = now
}

// Get returns a defensive copy of the session history. Reading refreshes
// the session's TTL clock.
func (s *Store) Get(sessionID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	sess.lastAccessedAt = s.now()
	return models.CloneMessages(sess.messages)
}

// Has reports whether the session exists.
func (s *Store) Has(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	return ok
}

// Count returns the number of messages in the session.
func (s *Store) Count(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0
	}
	return len(sess.messages)
}

// Clear removes the session.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	s.notifyCount()
}

// Cleanup removes sessions idle longer than the configured TTL and returns
// how many were evicted. It is a no-op without a TTL.
func (s *Store) Cleanup() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.lastAccessedAt) > s.ttl {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		s.notifyCount()
	}
	return evicted
}

// Destroy stops the sweeper and drops all sessions.
func (s *Store) Destroy() {
	if s.stopSweeper != nil {
		close(s.stopSweeper)
		<-s.sweeperDone
		s.stopSweeper = nil
	}
	s.mu.Lock()
	s.sessions = make(map[string]*session)
	s.notifyCount()
	s.mu.Unlock()
}

// notifyCount reports the session count. Callers hold the mutex.
func (s *Store) notifyCount() {
	if s.onCount != nil {
		s.onCount(len(s.sessions))
	}
}

func (s *Store) sweep() {
	defer close(s.sweeperDone)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweeper:
			return
		case <-ticker.C:
			if evicted := s.Cleanup(); evicted > 0 {
				s.logger.Debug("expired sessions evicted", "count", evicted)
			}
		}
	}
}
