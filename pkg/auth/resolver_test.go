package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a scriptable OAuth provider boundary.
type fakeProvider struct {
	mu           sync.Mutex
	beginCalls   int
	exchanges    int
	refreshCalls int32

	refreshErr  error
	grantScopes []string
	tokenTTL    time.Duration
}

func (f *fakeProvider) BeginAuthorization(ctx context.Context, provider string, scopes []string, user, state string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginCalls++
	return fmt.Sprintf("https://consent.example/%s?state=%s", provider, state), nil
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges++
	if code == "bad" {
		return Grant{}, errors.New("invalid code")
	}
	scopes := f.grantScopes
	if scopes == nil {
		scopes = []string{"read"}
	}
	ttl := f.tokenTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return Grant{
		Token:         "access-" + code,
		RefreshToken:  "refresh-" + code,
		ExpiresAt:     time.Now().Add(ttl),
		GrantedScopes: scopes,
	}, nil
}

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) (Refreshed, error) {
	atomic.AddInt32(&f.refreshCalls, 1)
	if f.refreshErr != nil {
		return Refreshed{}, f.refreshErr
	}
	// Refreshes are deliberately slow enough for racers to pile up.
	time.Sleep(20 * time.Millisecond)
	return Refreshed{Token: "refreshed-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func TestResolver_NoSessionEntersPending(t *testing.T) {
	provider := &fakeProvider{}
	resolver := NewResolver(NewMemoryStore(), provider)

	_, err := resolver.Resolve(context.Background(), "alice", "google", []string{"read"})

	var pending *PendingError
	require.ErrorAs(t, err, &pending)
	assert.NotEmpty(t, pending.ConsentURL)
	assert.Equal(t, 1, provider.beginCalls)
}

func TestResolver_RepeatedResolveReusesPendingConsent(t *testing.T) {
	provider := &fakeProvider{}
	resolver := NewResolver(NewMemoryStore(), provider)

	_, err1 := resolver.Resolve(context.Background(), "alice", "google", []string{"read"})
	_, err2 := resolver.Resolve(context.Background(), "alice", "google", []string{"read"})

	var p1, p2 *PendingError
	require.ErrorAs(t, err1, &p1)
	require.ErrorAs(t, err2, &p2)
	assert.Equal(t, p1.ConsentURL, p2.ConsentURL)
	assert.Equal(t, 1, provider.beginCalls, "second resolve must not mint a new consent URL")
}

func TestResolver_ConsentCallbackGrants(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	provider := &fakeProvider{grantScopes: []string{"read"}}
	resolver := NewResolver(store, provider)

	_, err := resolver.Resolve(ctx, "alice", "google", []string{"read"})
	var pending *PendingError
	require.ErrorAs(t, err, &pending)

	session, err := store.GetByState(ctx, stateFromStore(t, store, ctx))
	require.NoError(t, err)

	granted, err := resolver.CompleteAuthorization(ctx, session.State, "code123")
	require.NoError(t, err)
	assert.Equal(t, StatusGranted, granted.Status)

	cred, err := resolver.Resolve(ctx, "alice", "google", []string{"read"})
	require.NoError(t, err)
	assert.Equal(t, "access-code123", cred.Token)
	assert.Equal(t, "google", cred.Provider)
}

func TestResolver_StrictScopeSubsetReentersPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	provider := &fakeProvider{}
	resolver := NewResolver(store, provider)

	putGranted(t, store, &Session{
		User: "alice", Provider: "google",
		Scopes:        []string{"read"},
		GrantedScopes: []string{"read"},
		Token:         "tok",
		ExpiresAt:     time.Now().Add(time.Hour),
	})

	// read+write is not covered by the read-only grant.
	_, err := resolver.Resolve(ctx, "alice", "google", []string{"read", "write"})
	var pending *PendingError
	require.ErrorAs(t, err, &pending)
}

func TestResolver_SupersetGrantSatisfies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	resolver := NewResolver(store, &fakeProvider{})

	putGranted(t, store, &Session{
		User: "alice", Provider: "google",
		Scopes:        []string{"read", "write"},
		GrantedScopes: []string{"read", "write"},
		Token:         "tok",
		ExpiresAt:     time.Now().Add(time.Hour),
	})

	cred, err := resolver.Resolve(ctx, "alice", "google", []string{"read"})
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.Token)
}

func TestResolver_ExpiredTokenRefreshes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	provider := &fakeProvider{}
	resolver := NewResolver(store, provider)

	putGranted(t, store, &Session{
		User: "alice", Provider: "google",
		Scopes:        []string{"read"},
		GrantedScopes: []string{"read"},
		Token:         "stale",
		RefreshToken:  "refresh-tok",
		ExpiresAt:     time.Now().Add(-time.Minute),
	})

	cred, err := resolver.Resolve(ctx, "alice", "google", []string{"read"})
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", cred.Token)
	assert.EqualValues(t, 1, atomic.LoadInt32(&provider.refreshCalls))

	// The refreshed token is persisted for the next resolve.
	session, err := store.Get(ctx, Key{User: "alice", Provider: "google", ScopeSet: "read"})
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", session.Token)
}

func TestResolver_ConcurrentRefreshSingleProviderCall(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	provider := &fakeProvider{}
	resolver := NewResolver(store, provider)

	putGranted(t, store, &Session{
		User: "alice", Provider: "google",
		Scopes:        []string{"read"},
		GrantedScopes: []string{"read"},
		Token:         "stale",
		RefreshToken:  "refresh-tok",
		ExpiresAt:     time.Now().Add(-time.Minute),
	})

	const racers = 8
	var wg sync.WaitGroup
	creds := make([]Credential, racers)
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creds[i], errs[i] = resolver.Resolve(ctx, "alice", "google", []string{"read"})
		}(i)
	}
	wg.Wait()

	for i := 0; i < racers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "refreshed-token", creds[i].Token)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&provider.refreshCalls),
		"racing resolvers must share one refresh")
}

func TestResolver_RefreshExhaustionFallsToPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	provider := &fakeProvider{refreshErr: errors.New("provider down")}
	resolver := NewResolver(store, provider, WithRefreshPolicy(2, time.Millisecond))

	putGranted(t, store, &Session{
		User: "alice", Provider: "google",
		Scopes:        []string{"read"},
		GrantedScopes: []string{"read"},
		Token:         "stale",
		RefreshToken:  "refresh-tok",
		ExpiresAt:     time.Now().Add(-time.Minute),
	})

	_, err := resolver.Resolve(ctx, "alice", "google", []string{"read"})
	var pending *PendingError
	require.ErrorAs(t, err, &pending)
	assert.EqualValues(t, 2, atomic.LoadInt32(&provider.refreshCalls))
	assert.Equal(t, 1, provider.beginCalls)
}

func TestResolver_RevokedSessionReentersPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	provider := &fakeProvider{}
	resolver := NewResolver(store, provider)

	putGranted(t, store, &Session{
		User: "alice", Provider: "google",
		Scopes:        []string{"read"},
		GrantedScopes: []string{"read"},
		Token:         "tok",
		ExpiresAt:     time.Now().Add(time.Hour),
	})

	require.NoError(t, resolver.Revoke(ctx, "alice", "google"))

	_, err := resolver.Resolve(ctx, "alice", "google", []string{"read"})
	var pending *PendingError
	require.ErrorAs(t, err, &pending)
}

func TestResolver_CompleteAuthorizationUnknownState(t *testing.T) {
	resolver := NewResolver(NewMemoryStore(), &fakeProvider{})

	_, err := resolver.CompleteAuthorization(context.Background(), "nope", "code")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// putGranted stores a granted session with sane bookkeeping fields.
func putGranted(t *testing.T, store Store, session *Session) {
	t.Helper()
	session.Status = StatusGranted
	session.UpdatedAt = time.Now()
	require.NoError(t, store.Put(context.Background(), session))
}

// stateFromStore digs the pending session's state out of the store.
func stateFromStore(t *testing.T, store *MemoryStore, ctx context.Context) string {
	t.Helper()
	sessions, err := store.List(ctx, "alice", "google")
	require.NoError(t, err)
	require.NotEmpty(t, sessions)
	return sessions[0].State
}
