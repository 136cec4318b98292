package core

import (
	"strings"
	"time"
)

const (
	// DefaultExpiryBuffer is subtracted from the recorded expiry so tokens are
	// treated as stale slightly before the backend rejects them.
	DefaultExpiryBuffer = 30 * time.Second
)

// CredentialTokenState captures access/refresh lifecycle flags derived from a
// stored credential record.
type CredentialTokenState struct {
	ExpiresAt       *time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	CanRefresh      bool
	IsExpired       bool
}

// ResolveCredentialTokenState evaluates expiry and refreshability flags for a
// credential record. A record with no recorded expiry never reports expired.
func ResolveCredentialTokenState(now time.Time, record CredentialRecord, expiryBuffer time.Duration) CredentialTokenState {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	if expiryBuffer <= 0 {
		expiryBuffer = DefaultExpiryBuffer
	}

	state := CredentialTokenState{
		HasAccessToken:  strings.TrimSpace(record.AccessToken) != "",
		HasRefreshToken: strings.TrimSpace(record.RefreshToken) != "",
		CanRefresh:      record.CanRefresh(),
	}
	if record.ExpiresAt == nil {
		return state
	}
	expiresAt := record.ExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	state.IsExpired = !expiresAt.After(now.Add(expiryBuffer))
	return state
}

// IsCredentialExpired reports whether the record's token should be considered
// stale at the given instant, applying the expiry buffer.
func IsCredentialExpired(now time.Time, record CredentialRecord, expiryBuffer time.Duration) bool {
	return ResolveCredentialTokenState(now, record, expiryBuffer).IsExpired
}

// ShouldRefreshCredential returns true when a refresh should be attempted
// before the credential is handed to a caller.
func ShouldRefreshCredential(now time.Time, state CredentialTokenState) bool {
	if !state.CanRefresh {
		return false
	}
	if !state.HasAccessToken {
		return true
	}
	return state.IsExpired
}
