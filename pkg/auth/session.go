package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of an authorization session.
type Status string

const (
	StatusPending Status = "pending"
	StatusGranted Status = "granted"
	StatusRevoked Status = "revoked"
)

// Key identifies a session. ScopeSet is the canonical form of the requested
// scopes (sorted, space-joined) so that scope order never splits sessions.
type Key struct {
	User     string
	Provider string
	ScopeSet string
}

// ScopeSet canonicalizes a scope list.
func ScopeSet(scopes []string) string {
	sorted := make([]string, len(scopes))
	copy(sorted, scopes)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

// Session is the persistent record of one user's grant for one provider and
// scope set. It outlives invocations and is shared by all of them, guarded
// by the resolver's per-key discipline.
type Session struct {
	User          string    `json:"user"`
	Provider      string    `json:"provider"`
	Scopes        []string  `json:"scopes"`
	Status        Status    `json:"status"`
	State         string    `json:"state"` // opaque consent-callback correlation value
	Token         string    `json:"-"`
	RefreshToken  string    `json:"-"`
	GrantedScopes []string  `json:"granted_scopes,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	ConsentURL    string    `json:"consent_url,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Key returns the session's store key.
func (s *Session) Key() Key {
	return Key{User: s.User, Provider: s.Provider, ScopeSet: ScopeSet(s.Scopes)}
}

// Expired reports whether a granted session's token has lapsed. Expiry is
// evaluated lazily at resolution time; nothing flips sessions in the
// background.
func (s *Session) Expired(now time.Time) bool {
	return s.Status == StatusGranted && !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Satisfies reports whether the session's granted scopes cover every
// required scope. Partial coverage never satisfies.
func (s *Session) Satisfies(required []string) bool {
	granted := make(map[string]bool, len(s.GrantedScopes))
	for _, scope := range s.GrantedScopes {
		granted[scope] = true
	}
	for _, scope := range required {
		if !granted[scope] {
			return false
		}
	}
	return true
}

// ErrSessionNotFound is returned by stores for an unknown key or state.
var ErrSessionNotFound = errors.New("authorization session not found")

// Store persists authorization sessions across invocations.
type Store interface {
	// Get returns the session for an exact key, or ErrSessionNotFound.
	Get(ctx context.Context, key Key) (*Session, error)
	// List returns all sessions for (user, provider).
	List(ctx context.Context, user, provider string) ([]*Session, error)
	// GetByState returns the session whose consent-callback state matches.
	GetByState(ctx context.Context, state string) (*Session, error)
	// Put inserts or replaces a session.
	Put(ctx context.Context, session *Session) error
	// Delete removes a session. Deleting an unknown key is a no-op.
	Delete(ctx context.Context, key Key) error
	// Sweep removes revoked sessions older than retention and pending or
	// expired sessions with no refresh credential. Returns the count removed.
	Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// sweepable reports whether a session is eligible for removal.
func sweepable(s *Session, now time.Time, retention time.Duration) bool {
	switch {
	case s.Status == StatusRevoked:
		return now.Sub(s.UpdatedAt) > retention
	case s.Status == StatusPending:
		return now.Sub(s.UpdatedAt) > retention
	case s.Expired(now) && s.RefreshToken == "":
		return true
	}
	return false
}

// Grant is the provider's response to an authorization-code exchange.
type Grant struct {
	Token         string
	RefreshToken  string
	ExpiresAt     time.Time
	GrantedScopes []string
}

// Refreshed is the provider's response to a token refresh.
type Refreshed struct {
	Token     string
	ExpiresAt time.Time
}

// Provider is the OAuth provider boundary. Implementations own the actual
// endpoints; the runtime only drives the state machine.
type Provider interface {
	BeginAuthorization(ctx context.Context, provider string, scopes []string, user, state string) (consentURL string, err error)
	ExchangeCode(ctx context.Context, code string) (Grant, error)
	Refresh(ctx context.Context, refreshToken string) (Refreshed, error)
}

// Credential is the resolved authorization handed to an invocation. The
// token never leaves the execution boundary.
type Credential struct {
	Provider  string
	Token     string
	ExpiresAt time.Time
}

// PendingError signals that resolution requires an external consent step.
// It is control flow, not a failure: the caller should surface ConsentURL
// and re-invoke after the grant completes.
type PendingError struct {
	ConsentURL string
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("authorization pending, consent required at %s", e.ConsentURL)
}
