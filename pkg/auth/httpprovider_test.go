package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProviderBeginAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/authorize", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "google", body["provider"])
		assert.Equal(t, "alice", body["user"])
		assert.Equal(t, "state-123", body["state"])

		json.NewEncoder(w).Encode(map[string]string{
			"consent_url": "https://consent.example.com/abc",
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	url, err := p.BeginAuthorization(context.Background(), "google", []string{"calendar.read"}, "alice", "state-123")
	require.NoError(t, err)
	assert.Equal(t, "https://consent.example.com/abc", url)
}

func TestHTTPProviderExchangeCode(t *testing.T) {
	expires := time.Now().Add(time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/exchange", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"token":          "tok-1",
			"refresh_token":  "ref-1",
			"expires_at":     expires,
			"granted_scopes": []string{"calendar.read"},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	grant, err := p.ExchangeCode(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", grant.Token)
	assert.Equal(t, "ref-1", grant.RefreshToken)
	assert.Equal(t, expires, grant.ExpiresAt.Unix())
	assert.Equal(t, []string{"calendar.read"}, grant.GrantedScopes)
}

func TestHTTPProviderRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/refresh", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"token":      "tok-2",
			"expires_at": time.Now().Add(time.Hour).Unix(),
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	refreshed, err := p.Refresh(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", refreshed.Token)
}

func TestHTTPProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	_, err := p.BeginAuthorization(context.Background(), "google", nil, "alice", "s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
