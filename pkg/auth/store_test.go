package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest runs the same contract against every Store implementation.
func storeUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	sqlStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session := &Session{
				User:          "alice",
				Provider:      "google",
				Scopes:        []string{"write", "read"},
				Status:        StatusGranted,
				Token:         "tok",
				RefreshToken:  "refresh",
				GrantedScopes: []string{"read", "write"},
				ExpiresAt:     time.Now().Add(time.Hour).Truncate(time.Second),
				UpdatedAt:     time.Now().Truncate(time.Second),
			}
			require.NoError(t, store.Put(ctx, session))

			got, err := store.Get(ctx, Key{User: "alice", Provider: "google", ScopeSet: "read write"})
			require.NoError(t, err)
			assert.Equal(t, session.Token, got.Token)
			assert.Equal(t, session.RefreshToken, got.RefreshToken)
			assert.ElementsMatch(t, session.GrantedScopes, got.GrantedScopes)
			assert.Equal(t, StatusGranted, got.Status)
		})
	}
}

func TestStore_GetUnknownKey(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), Key{User: "nobody", Provider: "x", ScopeSet: "s"})
			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestStore_GetByState(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session := &Session{
				User: "alice", Provider: "slack",
				Scopes: []string{"chat"}, Status: StatusPending,
				State: "state-abc", UpdatedAt: time.Now(),
			}
			require.NoError(t, store.Put(ctx, session))

			got, err := store.GetByState(ctx, "state-abc")
			require.NoError(t, err)
			assert.Equal(t, "alice", got.User)

			_, err = store.GetByState(ctx, "unknown")
			assert.ErrorIs(t, err, ErrSessionNotFound)

			_, err = store.GetByState(ctx, "")
			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestStore_PutReplacesExistingKey(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session := &Session{
				User: "alice", Provider: "google",
				Scopes: []string{"read"}, Status: StatusPending,
				State: "s1", UpdatedAt: time.Now(),
			}
			require.NoError(t, store.Put(ctx, session))

			session.Status = StatusGranted
			session.State = ""
			session.Token = "tok"
			require.NoError(t, store.Put(ctx, session))

			got, err := store.Get(ctx, session.Key())
			require.NoError(t, err)
			assert.Equal(t, StatusGranted, got.Status)
			assert.Equal(t, "tok", got.Token)

			all, err := store.List(ctx, "alice", "google")
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestStore_Sweep(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			// Revoked long ago: swept.
			require.NoError(t, store.Put(ctx, &Session{
				User: "a", Provider: "p", Scopes: []string{"s1"},
				Status: StatusRevoked, UpdatedAt: now.Add(-48 * time.Hour),
			}))
			// Freshly revoked: retained.
			require.NoError(t, store.Put(ctx, &Session{
				User: "b", Provider: "p", Scopes: []string{"s1"},
				Status: StatusRevoked, UpdatedAt: now,
			}))
			// Expired with no refresh credential: swept.
			require.NoError(t, store.Put(ctx, &Session{
				User: "c", Provider: "p", Scopes: []string{"s1"},
				Status: StatusGranted, Token: "t",
				ExpiresAt: now.Add(-time.Hour), UpdatedAt: now,
			}))
			// Live grant: retained.
			require.NoError(t, store.Put(ctx, &Session{
				User: "d", Provider: "p", Scopes: []string{"s1"},
				Status: StatusGranted, Token: "t", RefreshToken: "r",
				ExpiresAt: now.Add(time.Hour), UpdatedAt: now,
			}))

			removed, err := store.Sweep(ctx, now, 24*time.Hour)
			require.NoError(t, err)
			assert.Equal(t, 2, removed)

			_, err = store.Get(ctx, Key{User: "d", Provider: "p", ScopeSet: "s1"})
			assert.NoError(t, err)
		})
	}
}

func TestScopeSet_Canonical(t *testing.T) {
	assert.Equal(t, ScopeSet([]string{"b", "a"}), ScopeSet([]string{"a", "b"}))
	assert.Equal(t, "a b", ScopeSet([]string{"b", "a"}))
	assert.Equal(t, "", ScopeSet(nil))
}

func TestSession_Satisfies(t *testing.T) {
	session := &Session{GrantedScopes: []string{"read", "write"}}

	assert.True(t, session.Satisfies([]string{"read"}))
	assert.True(t, session.Satisfies([]string{"read", "write"}))
	assert.False(t, session.Satisfies([]string{"read", "admin"}))
	assert.True(t, session.Satisfies(nil))
}
