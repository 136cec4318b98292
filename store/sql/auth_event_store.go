package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-client/core"
)

// AuthEventStore persists auth loss signals as an append-only audit trail.
// It implements core.AuthSignalHandler so it can subscribe directly to the
// signal bus.
type AuthEventStore struct {
	db   *bun.DB
	repo repository.Repository[*authEventRecord]
}

// AuthEvent is the stored form of a published auth loss signal.
type AuthEvent struct {
	ID         string
	SignalID   string
	Reason     core.AuthLossReason
	Metadata   map[string]any
	OccurredAt time.Time
}

func (s *AuthEventStore) Handle(ctx context.Context, signal core.AuthSignal) error {
	return s.Append(ctx, signal)
}

func (s *AuthEventStore) Append(ctx context.Context, signal core.AuthSignal) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: auth event store is not configured")
	}
	if !signal.Reason.Valid() {
		return fmt.Errorf("sqlstore: auth signal reason %q is not valid", signal.Reason)
	}
	occurredAt := signal.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	metadata := signal.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	_, err := s.repo.Create(ctx, &authEventRecord{
		ID:        uuid.NewString(),
		SignalID:  strings.TrimSpace(signal.ID),
		Reason:    string(signal.Reason),
		Metadata:  metadata,
		CreatedAt: occurredAt.UTC(),
	})
	return err
}

func (s *AuthEventStore) ListRecent(ctx context.Context, limit int) ([]AuthEvent, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: auth event store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records, _, err := s.repo.List(ctx,
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}

	events := make([]AuthEvent, 0, len(records))
	for _, record := range records {
		events = append(events, AuthEvent{
			ID:         record.ID,
			SignalID:   record.SignalID,
			Reason:     core.AuthLossReason(record.Reason),
			Metadata:   record.Metadata,
			OccurredAt: record.CreatedAt.UTC(),
		})
	}
	return events, nil
}

var _ core.AuthSignalHandler = (*AuthEventStore)(nil)
