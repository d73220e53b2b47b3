package api

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guildvault/guildvault/internal/store"
	log "github.com/sirupsen/logrus"
)

const stateCookie = "guildvault_oauth_state"

// AuthLogin redirects the browser to the identity provider's authorize
// page with a random state bound to a short-lived cookie.
func (h *Handlers) AuthLogin(c *gin.Context) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate state"})
		return
	}
	state := base64.RawURLEncoding.EncodeToString(buf)
	c.SetCookie(stateCookie, state, 300, "/", "", false, true)
	c.Redirect(http.StatusTemporaryRedirect, h.oauth.AuthCodeURL(state))
}

// AuthCallback exchanges the authorization code for a token pair, resolves
// the user's identity, and creates the credential record. This is the only
// place a Credential Record is born; everything else just refreshes it.
func (h *Handlers) AuthCallback(c *gin.Context) {
	if errParam := c.Query("error"); errParam != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errParam})
		return
	}
	state, err := c.Cookie(stateCookie)
	if err != nil || state == "" || c.Query("state") != state {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state mismatch"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}

	oauthToken, err := h.oauth.Exchange(c.Request.Context(), code)
	if err != nil {
		log.Warnf("oauth code exchange failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "code exchange failed"})
		return
	}

	identity, err := h.provider.FetchIdentity(c.Request.Context(), oauthToken.AccessToken)
	if err != nil {
		log.Warnf("identity fetch failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "identity fetch failed"})
		return
	}

	scopes := h.oauth.Scopes
	if scope, ok := oauthToken.Extra("scope").(string); ok && scope != "" {
		scopes = strings.Fields(scope)
	}
	cred := &store.Credential{
		UserID:       identity.UserID,
		Username:     identity.Username,
		AccessToken:  oauthToken.AccessToken,
		RefreshToken: oauthToken.RefreshToken,
		ExpiresAt:    oauthToken.Expiry.UTC(),
		Scopes:       scopes,
	}
	if err = h.credentials.Save(c.Request.Context(), cred); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Infof("authorized user %s (%s), token expires %s", identity.Username, identity.UserID, cred.ExpiresAt.Format(time.RFC3339))
	c.JSON(http.StatusOK, gin.H{"status": "authorized", "user_id": identity.UserID, "username": identity.Username})
}
