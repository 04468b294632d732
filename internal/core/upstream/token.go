package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenExpirySlack is subtracted from the reported lifetime so a token is
// never used right at its expiry boundary.
const tokenExpirySlack = 30 * time.Second

// TokenSource performs the client-credentials exchange for the MOT API and
// caches the bearer token until shortly before it expires. Safe for
// concurrent use.
type TokenSource struct {
	Client       *http.Client
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	Clock        func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// Token returns a valid bearer token, exchanging credentials when the
// cached one has expired.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	if t == nil {
		return "", errors.New("token source is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.token != "" && now.Before(t.expiry) {
		return t.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {t.ClientID},
		"client_secret": {t.ClientSecret},
	}
	if t.Scope != "" {
		form.Set("scope", t.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange failed with status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}

	t.token = payload.AccessToken
	lifetime := time.Duration(payload.ExpiresIn) * time.Second
	if lifetime > tokenExpirySlack {
		t.expiry = now.Add(lifetime - tokenExpirySlack)
	} else {
		t.expiry = now
	}

	return t.token, nil
}

func (t *TokenSource) now() time.Time {
	if t != nil && t.Clock != nil {
		return t.Clock()
	}
	return time.Now().UTC()
}
