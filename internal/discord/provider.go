// Package discord implements the HTTP clients the engine consumes:
// the OAuth2 token endpoint of the identity provider, the guild roster
// API, and the rate-limited membership-grant API.
package discord

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/guildvault/guildvault/internal/config"
	"github.com/guildvault/guildvault/internal/token"
	"github.com/guildvault/guildvault/internal/util"
	"github.com/tidwall/gjson"
)

const (
	// DefaultAPIBaseURL is the Discord REST API base.
	DefaultAPIBaseURL = "https://discord.com/api/v10"

	// DefaultTokenURL is the Discord OAuth2 token endpoint.
	DefaultTokenURL = "https://discord.com/api/oauth2/token"
)

// tokenResponse is the provider's token endpoint payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// Identity is the authenticated user behind an access token.
type Identity struct {
	UserID   string
	Username string
}

// ProviderClient talks to the identity provider's OAuth2 token endpoint.
// It implements token.Refresher.
type ProviderClient struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	tokenURL     string
	apiBaseURL   string
}

// NewProviderClient creates a provider client from the application
// credentials in cfg.
func NewProviderClient(cfg *config.Config) *ProviderClient {
	return &ProviderClient{
		httpClient:   util.SetProxy(cfg, &http.Client{}),
		clientID:     cfg.Discord.ClientID,
		clientSecret: cfg.Discord.ClientSecret,
		tokenURL:     DefaultTokenURL,
		apiBaseURL:   DefaultAPIBaseURL,
	}
}

// SetEndpoints overrides the provider URLs. Used by tests.
func (c *ProviderClient) SetEndpoints(tokenURL, apiBaseURL string) {
	if tokenURL != "" {
		c.tokenURL = tokenURL
	}
	if apiBaseURL != "" {
		c.apiBaseURL = apiBaseURL
	}
}

// Refresh exchanges a refresh token for a new token pair. Any non-2xx
// response is a refresh failure.
func (c *ProviderClient) Refresh(ctx context.Context, refreshToken string) (*token.RefreshResult, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}

	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, "POST", c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	tokenResp := tokenResponse{}
	tokenResp.AccessToken = gjson.GetBytes(body, "access_token").String()
	tokenResp.RefreshToken = gjson.GetBytes(body, "refresh_token").String()
	tokenResp.ExpiresIn = int(gjson.GetBytes(body, "expires_in").Int())
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token refresh response missing access_token")
	}

	return &token.RefreshResult{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresIn:    tokenResp.ExpiresIn,
	}, nil
}

// FetchIdentity resolves the user behind an access token via /users/@me.
func (c *ProviderClient) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.apiBaseURL+"/users/@me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	identity := &Identity{
		UserID:   gjson.GetBytes(body, "id").String(),
		Username: gjson.GetBytes(body, "username").String(),
	}
	if identity.UserID == "" {
		return nil, fmt.Errorf("identity response missing user id")
	}
	return identity, nil
}
