// Package auth exchanges the long-lived API key for short-TTL realtime
// access tokens. The long-lived key never touches the recognition
// transport; every session (and every reconnect) gets a fresh token.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTTL is the requested token lifetime.
const DefaultTTL = 600 * time.Second

// TokenSource fetches temporary realtime tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// KeyRequestSource requests temporary keys from the management API using
// the account API key.
type KeyRequestSource struct {
	endpoint string
	apiKey   string
	ttl      time.Duration
	client   *http.Client
	log      zerolog.Logger
}

// NewKeyRequestSource creates a token source. endpoint is the temporary
// key URL (e.g. https://mp.example.com/v1/api_keys?type=rt).
func NewKeyRequestSource(endpoint, apiKey string, client *http.Client, log zerolog.Logger) *KeyRequestSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeyRequestSource{
		endpoint: endpoint,
		apiKey:   apiKey,
		ttl:      DefaultTTL,
		client:   client,
		log:      log.With().Str("component", "auth").Logger(),
	}
}

// Token requests one temporary key.
func (s *KeyRequestSource) Token(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]any{"ttl": int(s.ttl.Seconds())})
	if err != nil {
		return "", fmt.Errorf("auth: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("auth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: key request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("auth: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("auth: key endpoint returned %d: %s", resp.StatusCode, data)
	}

	var parsed struct {
		KeyValue string `json:"key_value"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("auth: parse response: %w", err)
	}
	if parsed.KeyValue == "" {
		return "", fmt.Errorf("auth: response missing key_value")
	}

	s.log.Debug().Msg("temporary key issued")
	return parsed.KeyValue, nil
}

// StaticSource returns a fixed token. Used for tests and for deployments
// that front the realtime endpoint themselves.
type StaticSource string

func (s StaticSource) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("auth: no token configured")
	}
	return string(s), nil
}
