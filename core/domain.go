package core

import (
	"strings"
	"time"
)

// CoordinatorState tracks the refresh coordinator's lifecycle. The machine
// is Idle -> Refreshing -> Idle: a failed flight clears stored state and
// settles back to Idle so the next caller starts over.
type CoordinatorState string

const (
	CoordinatorStateIdle       CoordinatorState = "idle"
	CoordinatorStateRefreshing CoordinatorState = "refreshing"
)

// AuthLossReason is the reason code carried by an AuthSignal.
type AuthLossReason string

const (
	// AuthLossRefreshRejected means the refresh token itself was rejected
	// and stored credentials were cleared.
	AuthLossRefreshRejected AuthLossReason = "refresh_rejected"
	// AuthLossUnauthorizedRetry means a request still came back unauthorized
	// after a successful refresh-and-retry cycle.
	AuthLossUnauthorizedRetry AuthLossReason = "unauthorized_retry"
	// AuthLossLogout is an explicit, caller-initiated credential teardown.
	AuthLossLogout AuthLossReason = "logout"
)

func (r AuthLossReason) Valid() bool {
	switch r {
	case AuthLossRefreshRejected, AuthLossUnauthorizedRetry, AuthLossLogout:
		return true
	}
	return false
}

// IsPresent reports whether the record is populated enough to authenticate
// with. The store invariant keeps records all-or-nothing, so the access
// token is the deciding field.
func (r CredentialRecord) IsPresent() bool {
	return strings.TrimSpace(r.AccessToken) != ""
}

// CanRefresh reports whether a refresh exchange could be attempted for this
// record.
func (r CredentialRecord) CanRefresh() bool {
	return strings.TrimSpace(r.RefreshToken) != ""
}

// Clone returns a deep enough copy that callers can mutate metadata without
// aliasing the stored record.
func (r CredentialRecord) Clone() CredentialRecord {
	out := r
	out.ExpiresAt = cloneTimePointer(r.ExpiresAt)
	out.Metadata = copyAnyMap(r.Metadata)
	return out
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := value.UTC()
	return &clone
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
