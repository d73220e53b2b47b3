package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/guildvault/guildvault/internal/config"
	"github.com/guildvault/guildvault/internal/util"
	"github.com/tidwall/gjson"
)

// ErrRosterUnavailable indicates the chat platform failed to return a
// guild's membership. It aborts the whole enumerate/backup operation.
var ErrRosterUnavailable = errors.New("discord: roster unavailable")

// rosterPageSize is Discord's maximum page size for the member list.
const rosterPageSize = 1000

// Member is one guild member as returned by the roster API.
type Member struct {
	UserID   string
	Username string
	Roles    []string
	Bot      bool
}

// RosterClient reads guild metadata and member rosters with the bot token.
type RosterClient struct {
	httpClient *http.Client
	botToken   string
	baseURL    string
}

// NewRosterClient creates a roster client from the bot credentials in cfg.
func NewRosterClient(cfg *config.Config) *RosterClient {
	return &RosterClient{
		httpClient: util.SetProxy(cfg, &http.Client{}),
		botToken:   cfg.Discord.BotToken,
		baseURL:    DefaultAPIBaseURL,
	}
}

// SetBaseURL overrides the API base URL. Used by tests.
func (c *RosterClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// FetchGuildName returns the display name of the guild.
func (c *RosterClient) FetchGuildName(ctx context.Context, guildID string) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/guilds/%s", c.baseURL, guildID))
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "name").String(), nil
}

// FetchMembers returns the full member roster of the guild in platform
// order, following Discord's after-cursor pagination.
func (c *RosterClient) FetchMembers(ctx context.Context, guildID string) ([]Member, error) {
	members := make([]Member, 0)
	after := ""
	for {
		query := url.Values{}
		query.Set("limit", fmt.Sprintf("%d", rosterPageSize))
		if after != "" {
			query.Set("after", after)
		}
		body, err := c.get(ctx, fmt.Sprintf("%s/guilds/%s/members?%s", c.baseURL, guildID, query.Encode()))
		if err != nil {
			return nil, err
		}

		page := gjson.ParseBytes(body).Array()
		for _, entry := range page {
			member := Member{
				UserID:   entry.Get("user.id").String(),
				Username: entry.Get("user.username").String(),
				Bot:      entry.Get("user.bot").Bool(),
			}
			for _, role := range entry.Get("roles").Array() {
				member.Roles = append(member.Roles, role.String())
			}
			members = append(members, member)
			after = member.UserID
		}
		if len(page) < rosterPageSize {
			break
		}
	}
	return members, nil
}

func (c *RosterClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRosterUnavailable, err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRosterUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRosterUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrRosterUnavailable, resp.StatusCode, string(body))
	}
	return body, nil
}
