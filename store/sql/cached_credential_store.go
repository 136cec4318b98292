package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-client/core"
)

const credentialCacheKeyPrefix = "go-client::credential::v1"

type cachedCredential struct {
	Record  core.CredentialRecord
	Present bool
}

// CachedCredentialStore keeps the latest credential read in a shared cache so
// hot-path freshness checks do not hit the database on every request.
type CachedCredentialStore struct {
	base       core.CredentialStore
	cache      repositorycache.CacheService
	storageKey string
}

func NewCachedCredentialStore(
	base core.CredentialStore,
	cacheService repositorycache.CacheService,
	storageKey string,
) (*CachedCredentialStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base credential store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: credential cache service is required")
	}
	storageKey = strings.TrimSpace(storageKey)
	if storageKey == "" {
		storageKey = core.DefaultConfig().Credentials.StorageKey
	}
	return &CachedCredentialStore{
		base:       base,
		cache:      cacheService,
		storageKey: storageKey,
	}, nil
}

// CredentialCacheKey returns the deterministic cache key contract for
// credential reads: go-client::credential::v1::<storage_key> with the storage
// key URL-path escaped.
func CredentialCacheKey(storageKey string) (string, error) {
	storageKey = strings.TrimSpace(storageKey)
	if storageKey == "" {
		return "", fmt.Errorf("sqlstore: storage key is required")
	}
	return strings.Join([]string{credentialCacheKeyPrefix, url.PathEscape(storageKey)}, "::"), nil
}

func (s *CachedCredentialStore) Read(ctx context.Context) (core.CredentialRecord, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.CredentialRecord{}, false, fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	cacheKey, err := CredentialCacheKey(s.storageKey)
	if err != nil {
		return core.CredentialRecord{}, false, err
	}

	cached, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedCredential, error) {
		record, present, fetchErr := s.base.Read(ctx)
		if fetchErr != nil {
			return cachedCredential{}, fetchErr
		}
		return cachedCredential{Record: record.Clone(), Present: present}, nil
	})
	if err != nil {
		return core.CredentialRecord{}, false, err
	}
	return cached.Record.Clone(), cached.Present, nil
}

func (s *CachedCredentialStore) Write(ctx context.Context, record core.CredentialRecord) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	if err := s.base.Write(ctx, record); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

func (s *CachedCredentialStore) Clear(ctx context.Context) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	if err := s.base.Clear(ctx); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

func (s *CachedCredentialStore) invalidate(ctx context.Context) error {
	cacheKey, err := CredentialCacheKey(s.storageKey)
	if err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return err
	}
	return nil
}

var _ core.CredentialStore = (*CachedCredentialStore)(nil)
