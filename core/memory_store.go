package core

import (
	"context"
	"fmt"
	"sync"
)

// MemoryCredentialStore keeps the credential record in process memory. It is
// the default store when no durable backend is configured, and the workhorse
// of the test suites.
type MemoryCredentialStore struct {
	mu     sync.RWMutex
	record CredentialRecord
	found  bool
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Read(_ context.Context) (CredentialRecord, bool, error) {
	if s == nil {
		return CredentialRecord{}, false, fmt.Errorf("core: credential store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.found {
		return CredentialRecord{}, false, nil
	}
	return s.record.Clone(), true, nil
}

func (s *MemoryCredentialStore) Write(_ context.Context, record CredentialRecord) error {
	if s == nil {
		return fmt.Errorf("core: credential store is nil")
	}
	if !record.IsPresent() {
		return fmt.Errorf("core: credential record requires an access token")
	}
	s.mu.Lock()
	s.record = record.Clone()
	s.found = true
	s.mu.Unlock()
	return nil
}

func (s *MemoryCredentialStore) Clear(_ context.Context) error {
	if s == nil {
		return fmt.Errorf("core: credential store is nil")
	}
	s.mu.Lock()
	s.record = CredentialRecord{}
	s.found = false
	s.mu.Unlock()
	return nil
}
