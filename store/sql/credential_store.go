package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-client/core"
)

// CredentialStore keeps credential history as versioned rows: every write
// revokes the current active row and inserts the next version, so past token
// material stays auditable while reads only ever see the latest active row.
type CredentialStore struct {
	db          *bun.DB
	repo        repository.Repository[*credentialRecord]
	storageKey  string
	legacyKey   string
	codec       core.CredentialCodec
	legacyCodec core.CredentialCodec
	logger      core.Logger
}

func (s *CredentialStore) Read(ctx context.Context) (core.CredentialRecord, bool, error) {
	if s == nil || s.repo == nil {
		return core.CredentialRecord{}, false, fmt.Errorf("sqlstore: credential store is not configured")
	}

	row, found, err := s.activeRow(ctx, s.storageKey)
	if err != nil {
		return core.CredentialRecord{}, false, err
	}
	if found {
		record, decodeErr := s.codec.Decode(row.Payload)
		if decodeErr != nil {
			s.logger.Error("stored credential payload is corrupt, treating as absent", "error", decodeErr)
			return core.CredentialRecord{}, false, nil
		}
		if !record.IsPresent() {
			return core.CredentialRecord{}, false, nil
		}
		return record, true, nil
	}

	if s.legacyKey == "" {
		return core.CredentialRecord{}, false, nil
	}
	row, found, err = s.activeRow(ctx, s.legacyKey)
	if err != nil || !found {
		return core.CredentialRecord{}, false, err
	}
	record, decodeErr := s.legacyCodec.Decode(row.Payload)
	if decodeErr != nil {
		s.logger.Error("legacy credential payload is corrupt, treating as absent", "error", decodeErr)
		return core.CredentialRecord{}, false, nil
	}
	return record, true, nil
}

func (s *CredentialStore) Write(ctx context.Context, record core.CredentialRecord) error {
	if s == nil || s.repo == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	if !record.IsPresent() {
		return fmt.Errorf("sqlstore: credential record requires an access token")
	}
	payload, err := s.codec.Encode(record)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		nextVersion, versionErr := s.nextVersion(ctx, tx, s.storageKey)
		if versionErr != nil {
			return versionErr
		}

		if _, updateErr := tx.NewUpdate().
			Model((*credentialRecord)(nil)).
			Set("status = ?", credentialStatusRevoked).
			Set("revocation_reason = ?", "rotated").
			Set("updated_at = ?", now).
			Where("storage_key = ?", s.storageKey).
			Where("status = ?", credentialStatusActive).
			Exec(ctx); updateErr != nil {
			return updateErr
		}

		row := &credentialRecord{
			ID:             uuid.NewString(),
			StorageKey:     s.storageKey,
			Version:        nextVersion,
			Payload:        payload,
			PayloadFormat:  s.codec.Format(),
			PayloadVersion: s.codec.Version(),
			SubjectID:      strings.TrimSpace(record.SubjectID),
			TokenType:      strings.TrimSpace(record.TokenType),
			ExpiresAt:      record.ExpiresAt,
			Status:         credentialStatusActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		_, createErr := s.repo.CreateTx(ctx, tx, row)
		return createErr
	})
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}

	keys := []string{s.storageKey}
	if s.legacyKey != "" {
		keys = append(keys, s.legacyKey)
	}
	now := time.Now().UTC()
	for _, key := range keys {
		if _, err := s.db.NewUpdate().
			Model((*credentialRecord)(nil)).
			Set("status = ?", credentialStatusRevoked).
			Set("revocation_reason = ?", "cleared").
			Set("updated_at = ?", now).
			Where("storage_key = ?", key).
			Where("status = ?", credentialStatusActive).
			Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *CredentialStore) activeRow(ctx context.Context, storageKey string) (*credentialRecord, bool, error) {
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("storage_key", "=", storageKey),
		repository.SelectBy("status", "=", credentialStatusActive),
		repository.OrderBy("version DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	return records[0], true, nil
}

func (s *CredentialStore) nextVersion(ctx context.Context, tx bun.Tx, storageKey string) (int, error) {
	var maxVersion int
	if err := tx.NewSelect().
		Model((*credentialRecord)(nil)).
		ColumnExpr("COALESCE(MAX(version), 0)").
		Where("?TableAlias.storage_key = ?", storageKey).
		Scan(ctx, &maxVersion); err != nil {
		return 0, err
	}
	return maxVersion + 1, nil
}

func loggerOrNop(logger core.Logger) core.Logger {
	if logger == nil {
		return glog.Nop()
	}
	return logger
}

var _ core.CredentialStore = (*CredentialStore)(nil)
