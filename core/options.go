package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig    Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	errorFactory     ErrorFactory
	errorMapper      ErrorMapper
	configProvider   ConfigProvider
	optionsResolver  OptionsResolver
	credentialStore  CredentialStore
	credentialCodec  CredentialCodec
	refreshTransport RefreshTransport
	signalBus        AuthSignalBus
	signer           Signer
	jobEnqueuer      JobEnqueuer
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *serviceBuilder) {
		b.credentialStore = store
	}
}

func WithCredentialCodec(codec CredentialCodec) Option {
	return func(b *serviceBuilder) {
		b.credentialCodec = codec
	}
}

func WithRefreshTransport(transport RefreshTransport) Option {
	return func(b *serviceBuilder) {
		b.refreshTransport = transport
	}
}

func WithAuthSignalBus(bus AuthSignalBus) Option {
	return func(b *serviceBuilder) {
		b.signalBus = bus
	}
}

func WithSigner(signer Signer) Option {
	return func(b *serviceBuilder) {
		b.signer = signer
	}
}

// WithJobEnqueuer enables background refresh scheduling: whenever a credential
// with a known expiry is written or refreshed, the service enqueues a refresh
// job due ahead of that expiry.
func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.jobEnqueuer = enqueuer
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("client", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		credentialCodec: JSONCredentialCodec{},
		signer:          BearerTokenSigner{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return clientErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	credentials := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Credentials.StorageKey) != "" {
		credentials["storage_key"] = cfg.Credentials.StorageKey
	}
	if includeZero || strings.TrimSpace(cfg.Credentials.LegacyStorageKey) != "" {
		credentials["legacy_storage_key"] = cfg.Credentials.LegacyStorageKey
	}
	if includeZero || cfg.Credentials.ExpiryBufferSeconds > 0 {
		credentials["expiry_buffer_seconds"] = cfg.Credentials.ExpiryBufferSeconds
	}
	if len(credentials) > 0 {
		layer["credentials"] = credentials
	}

	refresh := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Refresh.PrimaryPath) != "" {
		refresh["primary_path"] = cfg.Refresh.PrimaryPath
	}
	if includeZero || strings.TrimSpace(cfg.Refresh.LegacyPath) != "" {
		refresh["legacy_path"] = cfg.Refresh.LegacyPath
	}
	if includeZero || cfg.Refresh.TimeoutSeconds > 0 {
		refresh["timeout_seconds"] = cfg.Refresh.TimeoutSeconds
	}
	if len(refresh) > 0 {
		layer["refresh"] = refresh
	}

	httpLayer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.HTTP.BaseURL) != "" {
		httpLayer["base_url"] = cfg.HTTP.BaseURL
	}
	if includeZero || len(cfg.HTTP.ExcludedPaths) > 0 {
		httpLayer["excluded_paths"] = append([]string(nil), cfg.HTTP.ExcludedPaths...)
	}
	if includeZero || cfg.HTTP.TimeoutSeconds > 0 {
		httpLayer["timeout_seconds"] = cfg.HTTP.TimeoutSeconds
	}
	if len(httpLayer) > 0 {
		layer["http"] = httpLayer
	}

	stream := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Stream.URL) != "" {
		stream["url"] = cfg.Stream.URL
	}
	if includeZero || cfg.Stream.MaxAttempts > 0 {
		stream["max_attempts"] = cfg.Stream.MaxAttempts
	}
	if includeZero || cfg.Stream.BaseDelayMs > 0 {
		stream["base_delay_ms"] = cfg.Stream.BaseDelayMs
	}
	if includeZero || cfg.Stream.FallbackTimeoutMs > 0 {
		stream["fallback_timeout_ms"] = cfg.Stream.FallbackTimeoutMs
	}
	if len(stream) > 0 {
		layer["stream"] = stream
	}

	return layer
}
