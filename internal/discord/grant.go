package discord

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guildvault/guildvault/internal/config"
	"github.com/guildvault/guildvault/internal/util"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/time/rate"
)

// grantPace is the pacing of membership-grant calls. The guild-member PUT
// route has a strict per-guild budget, so calls are spaced out instead of
// burst until a 429.
const grantPace = 500 * time.Millisecond

// GrantError indicates the membership-grant API rejected or failed a
// single grant. It is recorded per user; the batch continues.
type GrantError struct {
	StatusCode int
	Body       string
}

func (e *GrantError) Error() string {
	return fmt.Sprintf("discord: grant failed with status %d: %s", e.StatusCode, e.Body)
}

// GrantClient issues membership grants against the external API with
// rate-aware pacing. Requests are authorized with the service's own bot
// token, not the end-user's.
type GrantClient struct {
	httpClient *http.Client
	botToken   string
	baseURL    string
	limiter    *rate.Limiter
}

// NewGrantClient creates a grant client from the bot credentials in cfg.
func NewGrantClient(cfg *config.Config) *GrantClient {
	return &GrantClient{
		httpClient: util.SetProxy(cfg, &http.Client{}),
		botToken:   cfg.Discord.BotToken,
		baseURL:    DefaultAPIBaseURL,
		limiter:    rate.NewLimiter(rate.Every(grantPace), 1),
	}
}

// SetBaseURL overrides the API base URL and removes pacing. Used by tests.
func (c *GrantClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
	c.limiter = rate.NewLimiter(rate.Inf, 1)
}

// AddMember grants userID membership in guildID. The call is idempotent:
// Discord answers 201 when the user was added and 204 when already a
// member; both count as granted, with alreadyMember distinguishing them.
// An optional accessToken is forwarded for guilds.join joins.
func (c *GrantClient) AddMember(ctx context.Context, guildID, userID, accessToken string) (alreadyMember bool, err error) {
	if err = c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	payload := "{}"
	if accessToken != "" {
		if payload, err = sjson.Set(payload, "access_token", accessToken); err != nil {
			return false, fmt.Errorf("failed to build grant payload: %w", err)
		}
	}

	rawURL := fmt.Sprintf("%s/guilds/%s/members/%s", c.baseURL, guildID, userID)
	req, err := http.NewRequestWithContext(ctx, "PUT", rawURL, strings.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to create grant request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Audit-Log-Reason", "guildvault restore")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("grant request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read grant response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return true, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	}

	// Some 4xx answers are benign duplicates rather than real failures.
	message := gjson.GetBytes(body, "message").String()
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && strings.Contains(strings.ToLower(message), "already a member") {
		return true, nil
	}

	return false, &GrantError{StatusCode: resp.StatusCode, Body: string(body)}
}
