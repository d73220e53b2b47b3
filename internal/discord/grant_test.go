package discord

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/guildvault/guildvault/internal/config"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestGranter(srv *httptest.Server) *GrantClient {
	c := NewGrantClient(&config.Config{
		Discord: config.Discord{BotToken: "bot-token"},
	})
	c.SetBaseURL(srv.URL)
	return c
}

func TestGrantAddMemberCreated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PUT", r.Method)
		require.Equal(t, "/guilds/g1/members/1001", r.URL.Path)
		require.Equal(t, "Bot bot-token", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, "access-1", gjson.GetBytes(body, "access_token").String())
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"user":{"id":"1001"}}`))
	}))
	defer srv.Close()

	alreadyMember, err := newTestGranter(srv).AddMember(context.Background(), "g1", "1001", "access-1")
	require.NoError(t, err)
	require.False(t, alreadyMember)
}

func TestGrantAddMemberAlreadyPresent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	alreadyMember, err := newTestGranter(srv).AddMember(context.Background(), "g1", "1001", "access-1")
	require.NoError(t, err)
	require.True(t, alreadyMember)
}

func TestGrantAddMemberBenignDuplicateMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"User is already a member of this guild"}`))
	}))
	defer srv.Close()

	alreadyMember, err := newTestGranter(srv).AddMember(context.Background(), "g1", "1001", "")
	require.NoError(t, err)
	require.True(t, alreadyMember)
}

func TestGrantAddMemberDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"Missing Permissions"}`))
	}))
	defer srv.Close()

	_, err := newTestGranter(srv).AddMember(context.Background(), "g1", "1001", "access-1")
	var grantErr *GrantError
	require.ErrorAs(t, err, &grantErr)
	require.Equal(t, http.StatusForbidden, grantErr.StatusCode)
}

func TestGrantAddMemberOmitsAccessTokenWhenEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.False(t, gjson.GetBytes(body, "access_token").Exists())
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	_, err := newTestGranter(srv).AddMember(context.Background(), "g1", "1001", "")
	require.NoError(t, err)
}
