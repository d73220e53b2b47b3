// Package token implements the token lifecycle manager. It guarantees a
// caller always receives a currently-valid access token for a user,
// refreshing through the identity provider at most once per expiry window
// even under concurrent callers.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guildvault/guildvault/internal/store"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrCredentialNotFound indicates no token was ever issued for the user.
var ErrCredentialNotFound = errors.New("token: credential not found")

// RefreshError indicates the identity provider rejected a refresh attempt.
// The stale credential record is left in place for inspection.
type RefreshError struct {
	UserID string
	Err    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token: refresh failed for user %s: %v", e.UserID, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// RefreshResult is the provider's answer to a refresh-token exchange.
// RefreshToken may be empty when the provider does not rotate it.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// Refresher exchanges a refresh token for a new token pair at the identity
// provider's token endpoint.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error)
}

// Manager wraps the credential store and transparently refreshes tokens
// that are expired or within the safety margin of expiry. Concurrent
// requests for the same user share one in-flight refresh; different users
// proceed fully in parallel.
type Manager struct {
	store     *store.CredentialStore
	refresher Refresher
	margin    time.Duration
	group     singleflight.Group

	// now is a hook for tests; defaults to time.Now.
	now func() time.Time
}

// NewManager builds a manager over the given store and refresher. A
// non-positive margin falls back to five minutes.
func NewManager(credStore *store.CredentialStore, refresher Refresher, margin time.Duration) *Manager {
	if margin <= 0 {
		margin = 5 * time.Minute
	}
	return &Manager{
		store:     credStore,
		refresher: refresher,
		margin:    margin,
		now:       time.Now,
	}
}

// Authorized reports whether a credential record exists for userID. It is
// a pure existence check and never triggers a refresh.
func (m *Manager) Authorized(ctx context.Context, userID string) (bool, error) {
	return m.store.Exists(ctx, userID)
}

// GetValidAccessToken returns an access token guaranteed to be valid for at
// least the safety margin. It returns ErrCredentialNotFound when no record
// exists and a *RefreshError when the provider rejects the refresh.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := m.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrCredentialNotFound
		}
		return "", err
	}
	if m.valid(cred) {
		return cred.AccessToken, nil
	}

	result, err, _ := m.group.Do(userID, func() (interface{}, error) {
		return m.refresh(ctx, userID)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// valid applies the safety margin: a token expiring within the margin is
// already treated as invalid.
func (m *Manager) valid(cred *store.Credential) bool {
	return m.now().Before(cred.ExpiresAt.Add(-m.margin))
}

// refresh runs inside the single-flight group. Late callers that piled up
// behind an earlier flight re-read the store first so a just-written token
// is served without another provider round trip.
func (m *Manager) refresh(ctx context.Context, userID string) (string, error) {
	cred, err := m.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrCredentialNotFound
		}
		return "", err
	}
	if m.valid(cred) {
		return cred.AccessToken, nil
	}

	result, err := m.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		log.Warnf("token refresh failed for user %s: %v", userID, err)
		return "", &RefreshError{UserID: userID, Err: err}
	}

	expiresAt := m.now().Add(time.Duration(result.ExpiresIn) * time.Second)
	updated, err := m.store.ApplyRefresh(ctx, userID, result.AccessToken, result.RefreshToken, expiresAt)
	if err != nil {
		return "", err
	}
	log.Debugf("refreshed access token for user %s, new expiry %s", userID, updated.ExpiresAt.Format(time.RFC3339))
	return updated.AccessToken, nil
}
