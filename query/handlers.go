package query

import (
	"context"
	"time"

	"github.com/goliatone/go-client/core"
)

// CredentialState is the answer to a CredentialStateMessage: whether a
// credential exists and how close it is to expiry. Token material is
// deliberately absent so the snapshot is safe to log or ship to a UI.
type CredentialState struct {
	Present bool
	State   core.CredentialTokenState
}

type CredentialStateQuery struct {
	source       core.CredentialSource
	expiryBuffer time.Duration
	nowFn        func() time.Time
}

func NewCredentialStateQuery(source core.CredentialSource, expiryBuffer time.Duration) *CredentialStateQuery {
	if expiryBuffer <= 0 {
		expiryBuffer = core.DefaultExpiryBuffer
	}
	return &CredentialStateQuery{
		source:       source,
		expiryBuffer: expiryBuffer,
		nowFn:        func() time.Time { return time.Now().UTC() },
	}
}

func (q *CredentialStateQuery) Query(ctx context.Context, _ CredentialStateMessage) (CredentialState, error) {
	if q == nil || q.source == nil {
		return CredentialState{}, queryDependencyError("query: credential source is required")
	}
	record, present, err := q.source.CurrentCredential(ctx)
	if err != nil {
		return CredentialState{}, err
	}
	if !present {
		return CredentialState{}, nil
	}
	return CredentialState{
		Present: true,
		State:   core.ResolveCredentialTokenState(q.nowFn(), record, q.expiryBuffer),
	}, nil
}

type EnsureFreshQuery struct {
	source core.CredentialSource
}

func NewEnsureFreshQuery(source core.CredentialSource) *EnsureFreshQuery {
	return &EnsureFreshQuery{source: source}
}

func (q *EnsureFreshQuery) Query(ctx context.Context, msg EnsureFreshMessage) (core.CredentialRecord, error) {
	if q == nil || q.source == nil {
		return core.CredentialRecord{}, queryDependencyError("query: credential source is required")
	}
	if msg.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(msg.MaxWait)*time.Second)
		defer cancel()
	}
	return q.source.EnsureFresh(ctx)
}
