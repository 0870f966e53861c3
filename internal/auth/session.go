package auth

import "sync"

// Session records whether the browser context is already signed in. It is
// shared by every test case of a run.
type Session struct {
	mu            sync.Mutex
	authenticated bool
}

func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *Session) MarkAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = true
}
