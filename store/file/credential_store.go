// Package file persists the credential record as a JSON document on disk.
// It is the storage backend for CLI and desktop hosts that have no database.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-client/core"
)

const credentialFileMode fs.FileMode = 0o600

// CredentialStore writes the record under the configured storage key inside a
// base directory, one file per key. Corrupt payloads read as absent, and
// Clear removes the legacy key's file alongside the primary one.
type CredentialStore struct {
	mu          sync.Mutex
	baseDir     string
	storageKey  string
	legacyKey   string
	codec       core.CredentialCodec
	legacyCodec core.CredentialCodec
	logger      core.Logger
}

type Config struct {
	BaseDir          string
	StorageKey       string
	LegacyStorageKey string
	Codec            core.CredentialCodec
	Logger           core.Logger
}

func New(cfg Config) (*CredentialStore, error) {
	baseDir := strings.TrimSpace(cfg.BaseDir)
	if baseDir == "" {
		return nil, fmt.Errorf("file: base directory is required")
	}
	storageKey := strings.TrimSpace(cfg.StorageKey)
	if storageKey == "" {
		storageKey = core.DefaultConfig().Credentials.StorageKey
	}
	codec := cfg.Codec
	if codec == nil {
		codec = core.JSONCredentialCodec{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("file: create credential directory: %w", err)
	}
	return &CredentialStore{
		baseDir:     baseDir,
		storageKey:  storageKey,
		legacyKey:   strings.TrimSpace(cfg.LegacyStorageKey),
		codec:       codec,
		legacyCodec: core.LegacyTokenCredentialCodec{},
		logger:      logger,
	}, nil
}

// Read loads the stored record. When only the legacy key exists, its bare
// token payload is decoded through the legacy codec so sessions written by
// older hosts survive the upgrade.
func (s *CredentialStore) Read(_ context.Context) (core.CredentialRecord, bool, error) {
	if s == nil {
		return core.CredentialRecord{}, false, fmt.Errorf("file: credential store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, found, err := s.readPayload(s.storageKey)
	if err != nil {
		return core.CredentialRecord{}, false, err
	}
	if found {
		record, decodeErr := s.codec.Decode(payload)
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
	payload, found, err = s.readPayload(s.legacyKey)
	if err != nil || !found {
		return core.CredentialRecord{}, false, err
	}
	record, decodeErr := s.legacyCodec.Decode(payload)
	if decodeErr != nil {
		s.logger.Error("legacy credential payload is corrupt, treating as absent", "error", decodeErr)
		return core.CredentialRecord{}, false, nil
	}
	return record, true, nil
}

// Write persists the record atomically: the payload lands in a temp file that
// is renamed over the destination, so a crash never leaves a partial record.
func (s *CredentialStore) Write(_ context.Context, record core.CredentialRecord) error {
	if s == nil {
		return fmt.Errorf("file: credential store is nil")
	}
	if !record.IsPresent() {
		return fmt.Errorf("file: credential record requires an access token")
	}
	payload, err := s.codec.Encode(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.pathFor(s.storageKey)
	temp, err := os.CreateTemp(s.baseDir, ".credential-*")
	if err != nil {
		return fmt.Errorf("file: create temp credential file: %w", err)
	}
	tempName := temp.Name()
	if _, err := temp.Write(payload); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempName)
		return fmt.Errorf("file: write credential payload: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempName)
		return fmt.Errorf("file: close temp credential file: %w", err)
	}
	if err := os.Chmod(tempName, credentialFileMode); err != nil {
		_ = os.Remove(tempName)
		return fmt.Errorf("file: set credential file mode: %w", err)
	}
	if err := os.Rename(tempName, target); err != nil {
		_ = os.Remove(tempName)
		return fmt.Errorf("file: persist credential file: %w", err)
	}
	return nil
}

// Clear removes both the primary and the legacy files. Missing files are not
// errors; a cleared store stays cleared.
func (s *CredentialStore) Clear(_ context.Context) error {
	if s == nil {
		return fmt.Errorf("file: credential store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := []string{s.storageKey}
	if s.legacyKey != "" {
		keys = append(keys, s.legacyKey)
	}
	for _, key := range keys {
		if err := os.Remove(s.pathFor(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("file: remove credential file: %w", err)
		}
	}
	return nil
}

func (s *CredentialStore) readPayload(key string) ([]byte, bool, error) {
	payload, err := os.ReadFile(s.pathFor(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("file: read credential file: %w", err)
	}
	if len(strings.TrimSpace(string(payload))) == 0 {
		return nil, false, nil
	}
	return payload, true, nil
}

func (s *CredentialStore) pathFor(key string) string {
	name := strings.ReplaceAll(strings.TrimSpace(key), string(os.PathSeparator), "_")
	return filepath.Join(s.baseDir, name+".json")
}

var _ core.CredentialStore = (*CredentialStore)(nil)
