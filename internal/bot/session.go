package bot

import (
	"sync"

	"ticketline/internal/models"
)

// Mode is a buyer's (or admin's) current free-text input mode. Purely
// navigational, so it lives in memory: losing it on restart only means
// someone re-taps a button. Anything touching money or entry is durable.
type Mode int

const (
	ModeIdle Mode = iota
	ModeAwaitPromoCode

	// Admin multi-turn flows. Password first, then the flow's own steps.
	ModeAwaitPassword
	ModeAwaitEventCode
	ModeAwaitEventTitle
	ModeAwaitBundleLimit
	ModeAwaitPrices
	ModeAwaitPromoList
	ModeAwaitBroadcastText
)

// Session is one user's in-flight input state.
type Session struct {
	Mode Mode
	// Pending names the command the password was requested for
	// ("event", "close", "wipe", "broadcast").
	Pending string
	// Password keeps the verified secret for the rest of a multi-turn flow.
	Password string
	// Draft accumulates the event configuration across turns.
	Draft models.EventConfig
}

// Sessions is the keyed mode map. Handlers run concurrently per update, so
// access is locked.
type Sessions struct {
	mu sync.Mutex
	m  map[int64]*Session
}

func NewSessions() *Sessions {
	return &Sessions{m: make(map[int64]*Session)}
}

// Get returns the user's session, creating an idle one if absent.
func (s *Sessions) Get(userID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[userID]
	if !ok {
		sess = &Session{}
		s.m[userID] = sess
	}
	return sess
}

// Update applies fn to the user's session under the lock.
func (s *Sessions) Update(userID int64, fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[userID]
	if !ok {
		sess = &Session{}
		s.m[userID] = sess
	}
	fn(sess)
}

// Mode returns the user's current mode without creating a session.
func (s *Sessions) Mode(userID int64) Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.m[userID]; ok {
		return sess.Mode
	}
	return ModeIdle
}

// Reset drops the user back to idle.
func (s *Sessions) Reset(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, userID)
}
