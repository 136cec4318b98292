package sqlstore

import (
	"fmt"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-client/core"
)

type RepositoryFactory struct {
	db *bun.DB

	storageKey string
	legacyKey  string
	logger     core.Logger

	credentialStore *CredentialStore
	authEventStore  *AuthEventStore
}

type FactoryOption func(*RepositoryFactory)

func WithStorageKeys(storageKey string, legacyKey string) FactoryOption {
	return func(f *RepositoryFactory) {
		f.storageKey = strings.TrimSpace(storageKey)
		f.legacyKey = strings.TrimSpace(legacyKey)
	}
}

func WithLogger(logger core.Logger) FactoryOption {
	return func(f *RepositoryFactory) {
		f.logger = logger
	}
}

func NewRepositoryFactory(options ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(factory)
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, options ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(options...)
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, options ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(options...)
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.credentialStore != nil && f.authEventStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) CredentialStore() core.CredentialStore {
	if f == nil {
		return nil
	}
	return f.credentialStore
}

func (f *RepositoryFactory) AuthEventStore() *AuthEventStore {
	if f == nil {
		return nil
	}
	return f.authEventStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	storageKey := f.storageKey
	legacyKey := f.legacyKey
	if storageKey == "" {
		defaults := core.DefaultConfig().Credentials
		storageKey = defaults.StorageKey
		if legacyKey == "" {
			legacyKey = defaults.LegacyStorageKey
		}
	}

	credentialRepo := repository.NewRepository[*credentialRecord](f.db, credentialHandlers())
	if validator, ok := credentialRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid credential repository wiring: %w", err)
		}
	}
	authEventRepo := repository.NewRepository[*authEventRecord](f.db, authEventHandlers())
	if validator, ok := authEventRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid auth event repository wiring: %w", err)
		}
	}

	f.credentialStore = &CredentialStore{
		db:          f.db,
		repo:        credentialRepo,
		storageKey:  storageKey,
		legacyKey:   legacyKey,
		codec:       core.JSONCredentialCodec{},
		legacyCodec: core.LegacyTokenCredentialCodec{},
		logger:      loggerOrNop(f.logger),
	}
	f.authEventStore = &AuthEventStore{
		db:   f.db,
		repo: authEventRepo,
	}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
