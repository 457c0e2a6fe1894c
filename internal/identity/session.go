package identity

import (
	"context"
	"sync"
	"time"
)

const transitionBufferSize = 16

// Transition describes one change of the signed-in user.
type Transition struct {
	Previous  User
	Current   User
	SignedIn  bool
	Timestamp time.Time
}

// Session holds the signed-in user and fans transitions out to subscribers.
// Slow subscribers miss transitions rather than block the caller.
type Session struct {
	mu          sync.RWMutex
	current     User
	signedIn    bool
	subscribers map[int64]chan Transition
	nextID      int64
	clock       func() time.Time
}

// NewSession returns a signed-out session.
func NewSession() *Session {
	return &Session{
		subscribers: make(map[int64]chan Transition),
		clock:       time.Now,
	}
}

// NewSignedInSession returns a session already bound to user.
func NewSignedInSession(user User) *Session {
	session := NewSession()
	if user.Valid() {
		session.current = user
		session.signedIn = true
	}
	return session
}

// Current returns the signed-in user, if any.
func (s *Session) Current() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.signedIn
}

// SignIn switches the session to user. Signing in as the current user is a no-op.
func (s *Session) SignIn(user User) {
	if !user.Valid() {
		s.SignOut()
		return
	}
	s.mu.Lock()
	if s.signedIn && s.current.ID == user.ID {
		s.current = user
		s.mu.Unlock()
		return
	}
	transition := Transition{Previous: s.current, Current: user, SignedIn: true, Timestamp: s.clock()}
	s.current = user
	s.signedIn = true
	s.mu.Unlock()
	s.publish(transition)
}

// SignOut clears the signed-in user.
func (s *Session) SignOut() {
	s.mu.Lock()
	if !s.signedIn {
		s.mu.Unlock()
		return
	}
	transition := Transition{Previous: s.current, SignedIn: false, Timestamp: s.clock()}
	s.current = User{}
	s.signedIn = false
	s.mu.Unlock()
	s.publish(transition)
}

// Subscribe streams transitions until ctx is done or the returned cleanup runs.
func (s *Session) Subscribe(ctx context.Context) (<-chan Transition, func()) {
	stream := make(chan Transition, transitionBufferSize)

	s.mu.Lock()
	s.nextID++
	subscriberID := s.nextID
	s.subscribers[subscriberID] = stream
	s.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, subscriberID)
			s.mu.Unlock()
			close(stream)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

func (s *Session) publish(transition Transition) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, stream := range s.subscribers {
		select {
		case stream <- transition:
		default:
		}
	}
}
