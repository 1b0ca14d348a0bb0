package client

import "sync"

// Tokens is the credential pair a session holds.
type Tokens struct {
	Access  string
	Refresh string
}

// SessionProvider owns the client's credentials. Implementations must be safe
// for concurrent use.
type SessionProvider interface {
	Tokens() Tokens
	SetTokens(Tokens)
	UpdateAccess(access string)
	Clear()
}

// MemorySession keeps tokens in process memory.
type MemorySession struct {
	mu     sync.RWMutex
	tokens Tokens
}

var _ SessionProvider = (*MemorySession)(nil)

// NewMemorySession returns an empty session.
func NewMemorySession() *MemorySession { return &MemorySession{} }

func (s *MemorySession) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

func (s *MemorySession) SetTokens(t Tokens) {
	s.mu.Lock()
	s.tokens = t
	s.mu.Unlock()
}

func (s *MemorySession) UpdateAccess(access string) {
	s.mu.Lock()
	s.tokens.Access = access
	s.mu.Unlock()
}

func (s *MemorySession) Clear() {
	s.mu.Lock()
	s.tokens = Tokens{}
	s.mu.Unlock()
}
