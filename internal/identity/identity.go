// Package identity provides account management and the process-wide
// session state the access gate derives its flags from.
package identity

import (
	"errors"
	"sync"
)

// Sign-in method names stored on user records.
const (
	MethodPassword  = "password"
	MethodFederated = "federated"
)

// Classified account errors. Handlers map these to fixed user-facing
// messages; anything else falls back to the raw error text.
var (
	ErrNoAccount         = errors.New("no account found with this email")
	ErrWrongCredential   = errors.New("incorrect email or password")
	ErrMalformedEmail    = errors.New("please enter a valid email address")
	ErrAlreadyRegistered = errors.New("this email is already registered")
	ErrWeakCredential    = errors.New("password must be at least 8 characters")
	ErrRateLimited       = errors.New("too many attempts, please try again later")
	ErrFederatedAccount  = errors.New("this email is registered with a federated provider; sign in with it instead")
)

// Session is the transient signed-in state. The access gate reads
// only two derived booleans from it: authenticated (the session
// exists) and verified (the sign-in method is not password-based, or
// the email has been confirmed).
type Session struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	Email         string `json:"email"`
	SignInMethod  string `json:"signInMethod"`
	EmailVerified bool   `json:"emailVerified"`
}

// Name returns the display fallback chain: explicit name, then email,
// then "Anonymous".
func (s *Session) Name() string {
	if s == nil {
		return ""
	}
	if s.DisplayName != "" {
		return s.DisplayName
	}
	if s.Email != "" {
		return s.Email
	}
	return "Anonymous"
}

// Manager owns the authoritative copy of the current session and
// pushes change events to registered listeners. Components never
// consult an ambient session object; they either receive a Session
// value or register here.
type Manager struct {
	mu        sync.Mutex
	current   *Session
	listeners map[int]func(*Session)
	nextID    int
}

func NewManager() *Manager {
	return &Manager{listeners: make(map[int]func(*Session))}
}

// Current returns the session, or nil when signed out.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set replaces the current session and notifies listeners. Pass nil
// on sign-out.
func (m *Manager) Set(session *Session) {
	m.mu.Lock()
	m.current = session
	listeners := make([]func(*Session), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(session)
	}
}

// OnChange registers fn for session-change notifications. The
// returned func removes the listener.
func (m *Manager) OnChange(fn func(*Session)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}
