package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPProvider speaks to the hosting platform's authorization facade over
// HTTP. The facade owns the provider-specific OAuth endpoints; this client
// only moves the state machine's inputs and outputs.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider client for the facade at baseURL.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPProvider) BeginAuthorization(ctx context.Context, provider string, scopes []string, user, state string) (string, error) {
	var out struct {
		ConsentURL string `json:"consent_url"`
	}
	err := p.post(ctx, "/authorize", map[string]any{
		"provider": provider,
		"scopes":   scopes,
		"user":     user,
		"state":    state,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ConsentURL == "" {
		return "", fmt.Errorf("authorization facade returned no consent URL")
	}
	return out.ConsentURL, nil
}

func (p *HTTPProvider) ExchangeCode(ctx context.Context, code string) (Grant, error) {
	var out struct {
		Token         string   `json:"token"`
		RefreshToken  string   `json:"refresh_token"`
		ExpiresAtUnix int64    `json:"expires_at"`
		GrantedScopes []string `json:"granted_scopes"`
	}
	err := p.post(ctx, "/exchange", map[string]any{"code": code}, &out)
	if err != nil {
		return Grant{}, err
	}
	return Grant{
		Token:         out.Token,
		RefreshToken:  out.RefreshToken,
		ExpiresAt:     time.Unix(out.ExpiresAtUnix, 0),
		GrantedScopes: out.GrantedScopes,
	}, nil
}

func (p *HTTPProvider) Refresh(ctx context.Context, refreshToken string) (Refreshed, error) {
	var out struct {
		Token         string `json:"token"`
		ExpiresAtUnix int64  `json:"expires_at"`
	}
	err := p.post(ctx, "/refresh", map[string]any{"refresh_token": refreshToken}, &out)
	if err != nil {
		return Refreshed{}, err
	}
	return Refreshed{Token: out.Token, ExpiresAt: time.Unix(out.ExpiresAtUnix, 0)}, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("authorization facade unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authorization facade returned %s for %s", resp.Status, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode facade response: %w", err)
	}
	return nil
}

var _ Provider = (*HTTPProvider)(nil)
