package session

import "sync"

// Registry tracks the live session per username for the HTTP layer. A
// user has at most one session; signing in again replaces the old one and
// tears it down so its task subscription cannot outlive it.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put installs sess as the user's session, ending any previous one.
func (r *Registry) Put(username string, sess *Session) {
	r.mu.Lock()
	prev := r.sessions[username]
	r.sessions[username] = sess
	r.mu.Unlock()
	if prev != nil && prev != sess {
		prev.end()
	}
}

// Get returns the user's live session.
func (r *Registry) Get(username string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[username]
	return sess, ok
}

// Remove drops and ends the user's session.
func (r *Registry) Remove(username string) {
	r.mu.Lock()
	sess := r.sessions[username]
	delete(r.sessions, username)
	r.mu.Unlock()
	if sess != nil {
		sess.end()
	}
}
