package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-client/core"
)

var (
	_ gocmd.Querier[CredentialStateMessage, CredentialState]    = (*CredentialStateQuery)(nil)
	_ gocmd.Querier[EnsureFreshMessage, core.CredentialRecord] = (*EnsureFreshQuery)(nil)
)
