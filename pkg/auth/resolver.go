package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

const (
	defaultRefreshRetries = 3
	defaultRefreshBackoff = 100 * time.Millisecond
)

// Resolver drives the authorization state machine. It is safe for
// concurrent use: read-modify-write sequences on one (user, provider) key
// are serialized, so concurrent calls racing on an expired token trigger
// exactly one provider refresh.
type Resolver struct {
	store    Store
	provider Provider
	now      func() time.Time

	// refresh retry policy; exhaustion falls back to a new consent flow
	refreshRetries int
	refreshBackoff time.Duration

	mu       sync.Mutex
	inflight map[string]*refreshCall
}

type refreshCall struct {
	done chan struct{}
	cred Credential
	err  error
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithClock overrides the resolver's clock, for tests.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// WithRefreshPolicy sets the bounded retry policy for token refresh.
func WithRefreshPolicy(retries int, backoff time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.refreshRetries = retries
		r.refreshBackoff = backoff
	}
}

// NewResolver creates a resolver over a session store and provider boundary.
func NewResolver(store Store, provider Provider, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:          store,
		provider:       provider,
		now:            time.Now,
		refreshRetries: defaultRefreshRetries,
		refreshBackoff: defaultRefreshBackoff,
		inflight:       make(map[string]*refreshCall),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a credential covering the required scopes for user, or a
// *PendingError carrying a consent URL when a consent step is needed.
// Scope satisfaction is a superset check: partial grants never satisfy.
func (r *Resolver) Resolve(ctx context.Context, user, provider string, scopes []string) (Credential, error) {
	sessions, err := r.store.List(ctx, user, provider)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := r.now()

	var pending *Session
	for _, session := range sessions {
		switch session.Status {
		case StatusGranted:
			if !session.Satisfies(scopes) {
				continue
			}
			if !session.Expired(now) {
				return Credential{Provider: provider, Token: session.Token, ExpiresAt: session.ExpiresAt}, nil
			}
			return r.refresh(ctx, session)
		case StatusPending:
			if session.Key().ScopeSet == ScopeSet(scopes) {
				pending = session
			}
		}
	}

	// An in-flight consent for the same scope set is reused rather than
	// minting a second consent URL.
	if pending != nil {
		return Credential{}, &PendingError{ConsentURL: pending.ConsentURL}
	}

	return Credential{}, r.beginConsent(ctx, user, provider, scopes)
}

// beginConsent creates a pending session and returns the PendingError the
// caller should surface.
func (r *Resolver) beginConsent(ctx context.Context, user, provider string, scopes []string) error {
	state, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate consent state: %w", err)
	}

	consentURL, err := r.provider.BeginAuthorization(ctx, provider, scopes, user, state)
	if err != nil {
		return fmt.Errorf("failed to begin authorization: %w", err)
	}

	session := &Session{
		User:       user,
		Provider:   provider,
		Scopes:     scopes,
		Status:     StatusPending,
		State:      state,
		ConsentURL: consentURL,
		UpdatedAt:  r.now(),
	}
	if err := r.store.Put(ctx, session); err != nil {
		return fmt.Errorf("failed to persist pending session: %w", err)
	}

	log.Info().
		Str("user", user).
		Str("provider", provider).
		Strs("scopes", scopes).
		Msg("Authorization pending, consent URL issued")

	return &PendingError{ConsentURL: consentURL}
}

// refresh exchanges an expired session's refresh token for a new access
// token. Concurrent refreshes for one (user, provider) share a single
// provider call.
func (r *Resolver) refresh(ctx context.Context, session *Session) (Credential, error) {
	key := session.User + "\x00" + session.Provider

	r.mu.Lock()
	if call, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.cred, call.err
		case <-ctx.Done():
			return Credential{}, ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	r.inflight[key] = call
	r.mu.Unlock()

	call.cred, call.err = r.doRefresh(ctx, session)
	close(call.done)

	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()

	return call.cred, call.err
}

func (r *Resolver) doRefresh(ctx context.Context, session *Session) (Credential, error) {
	// Re-read under the single-flight slot: a racer that lost the slot to a
	// completed refresh must reuse its result, not refresh again.
	if current, err := r.store.Get(ctx, session.Key()); err == nil {
		if current.Status == StatusGranted && !current.Expired(r.now()) {
			return Credential{Provider: current.Provider, Token: current.Token, ExpiresAt: current.ExpiresAt}, nil
		}
		session = current
	}

	if session.RefreshToken == "" {
		return Credential{}, r.beginConsent(ctx, session.User, session.Provider, session.Scopes)
	}

	var (
		refreshed Refreshed
		err       error
	)
	backoff := r.refreshBackoff
	for attempt := 1; attempt <= r.refreshRetries; attempt++ {
		refreshed, err = r.provider.Refresh(ctx, session.RefreshToken)
		if err == nil {
			break
		}
		log.Warn().
			Str("user", session.User).
			Str("provider", session.Provider).
			Int("attempt", attempt).
			Err(err).
			Msg("Token refresh failed")
		if attempt == r.refreshRetries {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Credential{}, ctx.Err()
		}
		backoff *= 2
	}

	if err != nil {
		// Refresh exhausted: fall back to unauthorized and re-enter pending.
		if delErr := r.store.Delete(ctx, session.Key()); delErr != nil {
			log.Error().Err(delErr).Msg("Failed to drop session after refresh exhaustion")
		}
		return Credential{}, r.beginConsent(ctx, session.User, session.Provider, session.Scopes)
	}

	session.Token = refreshed.Token
	session.ExpiresAt = refreshed.ExpiresAt
	session.UpdatedAt = r.now()
	if err := r.store.Put(ctx, session); err != nil {
		return Credential{}, fmt.Errorf("failed to persist refreshed session: %w", err)
	}

	log.Debug().
		Str("user", session.User).
		Str("provider", session.Provider).
		Time("expires_at", session.ExpiresAt).
		Msg("Token refreshed")

	return Credential{Provider: session.Provider, Token: session.Token, ExpiresAt: session.ExpiresAt}, nil
}

// CompleteAuthorization consumes the out-of-band consent callback. The
// state value correlates the callback to its pending session; the code is
// exchanged for a grant and the session becomes granted.
func (r *Resolver) CompleteAuthorization(ctx context.Context, state, code string) (*Session, error) {
	session, err := r.store.GetByState(ctx, state)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusPending {
		return nil, fmt.Errorf("session for state is %s, expected pending", session.Status)
	}

	grant, err := r.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	session.Status = StatusGranted
	session.State = ""
	session.Token = grant.Token
	session.RefreshToken = grant.RefreshToken
	session.GrantedScopes = grant.GrantedScopes
	session.ExpiresAt = grant.ExpiresAt
	session.ConsentURL = ""
	session.UpdatedAt = r.now()

	if err := r.store.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist granted session: %w", err)
	}

	log.Info().
		Str("user", session.User).
		Str("provider", session.Provider).
		Strs("granted_scopes", session.GrantedScopes).
		Msg("Authorization granted")

	return session, nil
}

// Revoke marks every session for (user, provider) revoked. Subsequent
// resolution re-enters the consent flow.
func (r *Resolver) Revoke(ctx context.Context, user, provider string) error {
	sessions, err := r.store.List(ctx, user, provider)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	for _, session := range sessions {
		session.Status = StatusRevoked
		session.Token = ""
		session.RefreshToken = ""
		session.UpdatedAt = r.now()
		if err := r.store.Put(ctx, session); err != nil {
			return fmt.Errorf("failed to revoke session: %w", err)
		}
	}

	log.Info().Str("user", user).Str("provider", provider).Int("sessions", len(sessions)).Msg("Sessions revoked")

	return nil
}
