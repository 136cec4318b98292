package query

import "fmt"

const (
	TypeCredentialState = "client.query.credential.state"
	TypeEnsureFresh     = "client.query.credential.ensure_fresh"
)

// CredentialStateMessage asks for the lifecycle flags of the stored
// credential without triggering a refresh.
type CredentialStateMessage struct{}

func (CredentialStateMessage) Type() string { return TypeCredentialState }

func (CredentialStateMessage) Validate() error {
	return nil
}

// EnsureFreshMessage asks for a credential that is safe to attach to an
// outbound request, refreshing first when the stored one is stale.
type EnsureFreshMessage struct {
	// MaxWait bounds how long the caller is willing to block on an in-flight
	// refresh. Zero means no extra bound beyond the caller's context.
	MaxWait int
}

func (EnsureFreshMessage) Type() string { return TypeEnsureFresh }

func (m EnsureFreshMessage) Validate() error {
	if m.MaxWait < 0 {
		return fmt.Errorf("query: max_wait must be >= 0")
	}
	return nil
}
