package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service is the authenticated-client core: it owns the credential store, the
// refresh coordinator, and the auth loss signal bus, and exposes the session
// lifecycle operations the transports build on.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	credentialStore CredentialStore
	credentialCodec CredentialCodec
	signalBus       AuthSignalBus
	signer          Signer
	jobEnqueuer     JobEnqueuer
	coordinator     *RefreshCoordinator
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorFactory    ErrorFactory
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	CredentialStore CredentialStore
	CredentialCodec CredentialCodec
	SignalBus       AuthSignalBus
	Signer          Signer
	JobEnqueuer     JobEnqueuer
	Coordinator     *RefreshCoordinator
}

// LoginInput carries the token material issued by a completed authentication
// flow. The service persists it; it does not run the flow itself.
type LoginInput struct {
	SubjectID    string
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Metadata     map[string]any
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("client", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("client"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.credentialCodec == nil {
		builder.credentialCodec = JSONCredentialCodec{}
	}
	if builder.signer == nil {
		builder.signer = BearerTokenSigner{}
	}
	if builder.credentialStore == nil {
		builder.credentialStore = NewMemoryCredentialStore()
	}
	if builder.signalBus == nil {
		builder.signalBus = NewMemoryAuthSignalBus(logger)
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	service := &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorFactory:    builder.errorFactory,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		credentialStore: builder.credentialStore,
		credentialCodec: builder.credentialCodec,
		signalBus:       builder.signalBus,
		signer:          builder.signer,
		jobEnqueuer:     builder.jobEnqueuer,
	}

	if builder.refreshTransport != nil {
		coordinator, coordErr := NewRefreshCoordinator(RefreshCoordinatorConfig{
			Store:          builder.credentialStore,
			Transport:      builder.refreshTransport,
			Signals:        builder.signalBus,
			Logger:         logger,
			Metrics:        builder.metricsRecorder,
			ExpiryBuffer:   time.Duration(finalConfig.Credentials.ExpiryBufferSeconds) * time.Second,
			RefreshTimeout: time.Duration(finalConfig.Refresh.TimeoutSeconds) * time.Second,
		})
		if coordErr != nil {
			return nil, mapBuildError(builder.errorMapper, coordErr)
		}
		service.coordinator = coordinator
	}

	return service, nil
}

func Setup(cfg Config, options ...Option) (*Service, error) {
	return NewService(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorFactory:    s.errorFactory,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		CredentialStore: s.credentialStore,
		CredentialCodec: s.credentialCodec,
		SignalBus:       s.signalBus,
		Signer:          s.signer,
		JobEnqueuer:     s.jobEnqueuer,
		Coordinator:     s.coordinator,
	}
}

// Coordinator returns the refresh coordinator, or nil when no refresh
// transport was configured.
func (s *Service) Coordinator() *RefreshCoordinator {
	if s == nil {
		return nil
	}
	return s.coordinator
}

// Login persists freshly issued token material as the active credential.
func (s *Service) Login(ctx context.Context, input LoginInput) (record CredentialRecord, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"subject_id": input.SubjectID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "login", err, fields)
	}()

	if s == nil {
		return CredentialRecord{}, fmt.Errorf("core: service is nil")
	}
	accessToken := strings.TrimSpace(input.AccessToken)
	if accessToken == "" {
		err = s.mapError(goerrors.NewValidation("login input is invalid",
			goerrors.FieldError{Field: "access_token", Message: "access token is required"},
		))
		return CredentialRecord{}, err
	}

	record = CredentialRecord{
		SubjectID:    strings.TrimSpace(input.SubjectID),
		TokenType:    strings.TrimSpace(input.TokenType),
		AccessToken:  accessToken,
		RefreshToken: strings.TrimSpace(input.RefreshToken),
		Metadata:     copyAnyMap(input.Metadata),
	}
	if record.TokenType == "" {
		record.TokenType = "Bearer"
	}
	if input.ExpiresIn > 0 {
		expiresAt := time.Now().UTC().Add(input.ExpiresIn)
		record.ExpiresAt = &expiresAt
	}

	if err = s.credentialStore.Write(ctx, record); err != nil {
		err = s.mapError(err)
		return CredentialRecord{}, err
	}
	s.scheduleRefresh(ctx, record)
	return record, nil
}

// scheduleRefresh enqueues a background refresh due ahead of the record's
// expiry. Scheduling is best effort: the credential is already persisted, so
// an enqueue failure is logged and the foreground path stays authoritative.
func (s *Service) scheduleRefresh(ctx context.Context, record CredentialRecord) {
	if s == nil || s.jobEnqueuer == nil {
		return
	}
	if record.ExpiresAt == nil || !record.CanRefresh() {
		return
	}
	buffer := time.Duration(s.config.Credentials.ExpiryBufferSeconds) * time.Second
	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}
	refreshAt := record.ExpiresAt.Add(-buffer)
	msg := NewRefreshJobMessage(s.config.Credentials.StorageKey, refreshAt)
	if err := s.jobEnqueuer.Enqueue(ctx, msg); err != nil {
		s.logError(ctx, "refresh job enqueue failed", map[string]any{
			"error":       err.Error(),
			"storage_key": s.config.Credentials.StorageKey,
		})
	}
}

// Logout clears stored credential state and announces the session end. It is
// idempotent: a second call with nothing stored still succeeds.
func (s *Service) Logout(ctx context.Context) (err error) {
	startedAt := time.Now().UTC()
	defer func() {
		s.observeOperation(ctx, startedAt, "logout", err, nil)
	}()

	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	if err = s.credentialStore.Clear(ctx); err != nil {
		err = s.mapError(err)
		return err
	}
	if s.signalBus != nil {
		if publishErr := s.signalBus.Publish(ctx, NewAuthSignal(AuthLossLogout, nil)); publishErr != nil {
			s.logError(ctx, "logout signal publish failed", map[string]any{"error": publishErr.Error()})
		}
	}
	return nil
}

// CurrentCredential reads the stored credential without refreshing.
func (s *Service) CurrentCredential(ctx context.Context) (CredentialRecord, bool, error) {
	if s == nil {
		return CredentialRecord{}, false, fmt.Errorf("core: service is nil")
	}
	record, found, err := s.credentialStore.Read(ctx)
	if err != nil {
		return CredentialRecord{}, false, s.mapError(err)
	}
	if !found || !record.IsPresent() {
		return CredentialRecord{}, false, nil
	}
	return record, true, nil
}

// EnsureFresh returns a credential valid past the expiry buffer, refreshing
// through the coordinator when required.
func (s *Service) EnsureFresh(ctx context.Context) (CredentialRecord, error) {
	if s == nil {
		return CredentialRecord{}, fmt.Errorf("core: service is nil")
	}
	if s.coordinator == nil {
		record, found, err := s.CurrentCredential(ctx)
		if err != nil {
			return CredentialRecord{}, err
		}
		if !found {
			return CredentialRecord{}, s.mapError(newClientError(
				"core: no stored credential",
				goerrors.CategoryAuth,
				ClientErrorUnauthorized,
			))
		}
		state := ResolveCredentialTokenState(time.Now().UTC(), record, time.Duration(s.config.Credentials.ExpiryBufferSeconds)*time.Second)
		if state.IsExpired {
			return CredentialRecord{}, s.mapError(newClientError(
				"core: credential is expired and no refresh transport is configured",
				goerrors.CategoryAuth,
				ClientErrorUnauthorized,
			))
		}
		return record, nil
	}
	record, err := s.coordinator.EnsureFresh(ctx)
	if err != nil {
		return CredentialRecord{}, err
	}
	s.scheduleRefresh(ctx, record)
	return record, nil
}

// OnAuthLost registers a handler for unrecoverable authentication loss.
func (s *Service) OnAuthLost(handler AuthSignalHandler) {
	if s == nil || s.signalBus == nil || handler == nil {
		return
	}
	s.signalBus.Subscribe(handler)
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
