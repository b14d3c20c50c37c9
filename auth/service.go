package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	userKey  = "quoteflow_user"
	tokenKey = "quoteflow_token"
)

var (
	// ErrUnauthenticated signals that no usable credential is held.
	ErrUnauthenticated = errors.New("auth: not authenticated")
	// ErrInvalidPrincipal signals a principal missing name, email or role.
	ErrInvalidPrincipal = errors.New("auth: principal requires name, email and a valid role")
)

// Session holds the current principal and opaque bearer credential. It is the
// single source of truth for role-dependent checks: callers re-read it on every
// check instead of caching capabilities.
type Session struct {
	kv  KeyValueStore
	now func() time.Time

	mu    sync.RWMutex
	state State
}

// NewSession creates a session over kv seeded with initial state.
func NewSession(kv KeyValueStore, initial State) *Session {
	if kv == nil {
		kv = NewMemoryKV()
	}
	s := &Session{kv: kv, now: time.Now}
	if initial.Principal != nil {
		p := *initial.Principal
		s.state.Principal = &p
	}
	s.state.Token = initial.Token
	return s
}

// Restore rebuilds a session from whatever kv persisted. A corrupt user entry
// is treated as logged out.
func Restore(ctx context.Context, kv KeyValueStore) (*Session, error) {
	var state State

	raw, ok, err := kv.Get(ctx, userKey)
	if err != nil {
		return nil, fmt.Errorf("auth: restore user: %w", err)
	}
	if ok {
		var p Principal
		if err := json.Unmarshal([]byte(raw), &p); err == nil && p.Role.Valid() {
			state.Principal = &p
		}
	}

	token, ok, err := kv.Get(ctx, tokenKey)
	if err != nil {
		return nil, fmt.Errorf("auth: restore token: %w", err)
	}
	if ok {
		state.Token = token
	}

	return NewSession(kv, state), nil
}

func (s *Session) WithClock(now func() time.Time) *Session {
	s.now = now
	return s
}

// Login stores the principal and credential handed over by the auth collaborator.
func (s *Session) Login(ctx context.Context, p Principal, token string) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	if p.Name == "" || p.Email == "" || !p.Role.Valid() {
		return ErrInvalidPrincipal
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("auth: login: empty credential")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persistPrincipal(ctx, p); err != nil {
		return err
	}
	if err := s.kv.Set(ctx, tokenKey, token); err != nil {
		return fmt.Errorf("auth: persist token: %w", err)
	}
	s.state = State{Principal: &p, Token: token}
	return nil
}

func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, userKey); err != nil {
		return fmt.Errorf("auth: clear user: %w", err)
	}
	if err := s.kv.Delete(ctx, tokenKey); err != nil {
		return fmt.Errorf("auth: clear token: %w", err)
	}
	s.state = State{}
	return nil
}

// SwitchRole changes the current principal's role. Past history entries keep
// their attribution; only later capability and visibility checks change.
func (s *Session) SwitchRole(ctx context.Context, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w %q", ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Principal == nil {
		return ErrUnauthenticated
	}
	updated := *s.state.Principal
	updated.Role = role
	if err := s.persistPrincipal(ctx, updated); err != nil {
		return err
	}
	s.state.Principal = &updated
	return nil
}

// Principal returns a copy of the current principal.
func (s *Session) Principal() (Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Principal == nil {
		return Principal{}, false
	}
	return *s.state.Principal, true
}

// Credential returns the bearer credential, or "" when none is held or the
// held JWT has expired.
func (s *Session) Credential() string {
	s.mu.RLock()
	token := s.state.Token
	s.mu.RUnlock()

	if token == "" || TokenExpired(token, s.now()) {
		return ""
	}
	return token
}

// Authenticated reports whether mutations may be attempted.
func (s *Session) Authenticated() bool {
	_, ok := s.Principal()
	return ok && s.Credential() != ""
}

// Capabilities derives the capability set from the current role.
func (s *Session) Capabilities() Capabilities {
	p, ok := s.Principal()
	if !ok {
		return Capabilities{}
	}
	return CapabilitiesFor(p.Role)
}

func (s *Session) persistPrincipal(ctx context.Context, p Principal) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("auth: encode user: %w", err)
	}
	if err := s.kv.Set(ctx, userKey, string(raw)); err != nil {
		return fmt.Errorf("auth: persist user: %w", err)
	}
	return nil
}
