package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/sjson"
	bolt "go.etcd.io/bbolt"
)

// Credential is a stored OAuth2 token pair and metadata for one end-user.
// At most one record exists per user id; a successful refresh mutates the
// record in place, it is never deleted by the engine.
type Credential struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CredentialStore persists one Credential per user id.
type CredentialStore struct {
	db *DB
}

// NewCredentialStore returns a credential store backed by db.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Save upserts the credential record for cred.UserID. The CreatedAt of an
// existing record is preserved; UpdatedAt is always set to now.
func (s *CredentialStore) Save(ctx context.Context, cred *Credential) error {
	_ = ctx
	now := time.Now().UTC()
	return s.wrap(s.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		if existing := b.Get([]byte(cred.UserID)); existing != nil {
			var prev Credential
			if err := json.Unmarshal(existing, &prev); err == nil && !prev.CreatedAt.IsZero() {
				cred.CreatedAt = prev.CreatedAt
			}
		}
		if cred.CreatedAt.IsZero() {
			cred.CreatedAt = now
		}
		cred.UpdatedAt = now
		data, err := json.Marshal(cred)
		if err != nil {
			return err
		}
		return b.Put([]byte(cred.UserID), data)
	}))
}

// Get returns the credential record for userID, or ErrNotFound.
func (s *CredentialStore) Get(ctx context.Context, userID string) (*Credential, error) {
	_ = ctx
	var cred *Credential
	err := s.db.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCredentials).Get([]byte(userID))
		if data == nil {
			return ErrNotFound
		}
		cred = &Credential{}
		return json.Unmarshal(data, cred)
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, s.wrap(err)
	}
	return cred, nil
}

// Exists reports whether a credential record is stored for userID without
// decoding it.
func (s *CredentialStore) Exists(ctx context.Context, userID string) (bool, error) {
	_ = ctx
	var found bool
	err := s.db.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketCredentials).Get([]byte(userID)) != nil
		return nil
	})
	if err != nil {
		return false, s.wrap(err)
	}
	return found, nil
}

// ApplyRefresh patches the stored record for userID with the outcome of a
// token refresh and returns the updated credential. Fields the engine does
// not model are preserved as stored. An empty refreshToken keeps the
// previous one (the provider may omit it from the refresh response).
func (s *CredentialStore) ApplyRefresh(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) (*Credential, error) {
	_ = ctx
	var cred *Credential
	err := s.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		data := b.Get([]byte(userID))
		if data == nil {
			return ErrNotFound
		}
		patched, errSet := sjson.SetBytes(data, "access_token", accessToken)
		if errSet != nil {
			return errSet
		}
		if refreshToken != "" {
			if patched, errSet = sjson.SetBytes(patched, "refresh_token", refreshToken); errSet != nil {
				return errSet
			}
		}
		if patched, errSet = sjson.SetBytes(patched, "expires_at", expiresAt.UTC().Format(time.RFC3339Nano)); errSet != nil {
			return errSet
		}
		if patched, errSet = sjson.SetBytes(patched, "updated_at", time.Now().UTC().Format(time.RFC3339Nano)); errSet != nil {
			return errSet
		}
		cred = &Credential{}
		if errUnmarshal := json.Unmarshal(patched, cred); errUnmarshal != nil {
			return errUnmarshal
		}
		return b.Put([]byte(userID), patched)
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, s.wrap(err)
	}
	return cred, nil
}

// List returns all stored credential records in key order.
func (s *CredentialStore) List(ctx context.Context) ([]*Credential, error) {
	_ = ctx
	creds := make([]*Credential, 0)
	err := s.db.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).ForEach(func(k, v []byte) error {
			var cred Credential
			if errUnmarshal := json.Unmarshal(v, &cred); errUnmarshal != nil {
				// Skip malformed entries instead of failing the whole list.
				return nil
			}
			creds = append(creds, &cred)
			return nil
		})
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	return creds, nil
}

func (s *CredentialStore) wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("credential store: %w", err)
}
