// Package session holds the per-client authentication state: which
// screen the client is on and, once signed in, which user it acts as.
package session

import (
	"errors"
	"fmt"
	"sync"

	"notepad-api/domain"
)

// Screen is the client-visible application state.
type Screen int

const (
	ScreenLogin Screen = iota
	ScreenRegister
	ScreenTaskManager
)

func (s Screen) String() string {
	switch s {
	case ScreenLogin:
		return "login"
	case ScreenRegister:
		return "register"
	case ScreenTaskManager:
		return "task-manager"
	default:
		return "unknown"
	}
}

var ErrInvalidTransition = errors.New("invalid screen transition")

// Session is a single client's state machine. It starts on the login
// screen with no user; logout returns it there and runs the teardown
// hook, which cancels the user's task subscription.
type Session struct {
	mu       sync.Mutex
	screen   Screen
	user     *domain.User
	teardown func()
}

func New() *Session {
	return &Session{screen: ScreenLogin}
}

// Screen returns the currently active screen.
func (s *Session) Screen() Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

// User returns the signed-in user, or false when none.
func (s *Session) User() (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

// SetTeardown registers the hook run on logout (and on registry eviction).
func (s *Session) SetTeardown(fn func()) {
	s.mu.Lock()
	s.teardown = fn
	s.mu.Unlock()
}

func (s *Session) transition(from, to Screen) error {
	if s.screen != from {
		return fmt.Errorf("%w: %s -> %s (on %s)", ErrInvalidTransition, from, to, s.screen)
	}
	s.screen = to
	return nil
}

// ShowRegister moves Login -> Register.
func (s *Session) ShowRegister() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(ScreenLogin, ScreenRegister)
}

// BackToLogin moves Register -> Login.
func (s *Session) BackToLogin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(ScreenRegister, ScreenLogin)
}

// LoginSucceeded moves Login -> TaskManager with the given user.
func (s *Session) LoginSucceeded(user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(ScreenLogin, ScreenTaskManager); err != nil {
		return err
	}
	s.user = &user
	return nil
}

// RegisterSucceeded moves Register -> TaskManager with the created user.
func (s *Session) RegisterSucceeded(user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(ScreenRegister, ScreenTaskManager); err != nil {
		return err
	}
	s.user = &user
	return nil
}

// Logout moves TaskManager -> Login, clears the user and runs the
// teardown hook.
func (s *Session) Logout() error {
	s.mu.Lock()
	if err := s.transition(ScreenTaskManager, ScreenLogin); err != nil {
		s.mu.Unlock()
		return err
	}
	s.user = nil
	fn := s.teardown
	s.teardown = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// end tears the session down regardless of screen, used when the
// registry replaces or drops it.
func (s *Session) end() {
	s.mu.Lock()
	s.screen = ScreenLogin
	s.user = nil
	fn := s.teardown
	s.teardown = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
