package client

import (
	"fmt"

	gojobadapter "github.com/goliatone/go-client/adapters/gojob"
	gologgeradapter "github.com/goliatone/go-client/adapters/gologger"
	"github.com/goliatone/go-client/core"
	"github.com/goliatone/go-job/queue"
)

type Config = core.Config

type CredentialsConfig = core.CredentialsConfig
type RefreshConfig = core.RefreshConfig
type HTTPConfig = core.HTTPConfig
type StreamConfig = core.StreamConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type LoginInput = core.LoginInput
type CredentialRecord = core.CredentialRecord
type CredentialStore = core.CredentialStore
type CredentialSource = core.CredentialSource
type CredentialCodec = core.CredentialCodec
type RefreshTransport = core.RefreshTransport
type RefreshOutcome = core.RefreshOutcome
type RefreshCoordinator = core.RefreshCoordinator
type AuthSignal = core.AuthSignal
type AuthSignalBus = core.AuthSignalBus
type AuthSignalHandler = core.AuthSignalHandler
type AuthLossReason = core.AuthLossReason
type Signer = core.Signer
type MetricsRecorder = core.MetricsRecorder
type JobEnqueuer = core.JobEnqueuer
type RetryPolicy = gojobadapter.RetryPolicy

var (
	WithLogger           = core.WithLogger
	WithLoggerProvider   = core.WithLoggerProvider
	WithMetricsRecorder  = core.WithMetricsRecorder
	WithErrorFactory     = core.WithErrorFactory
	WithErrorMapper      = core.WithErrorMapper
	WithConfigProvider   = core.WithConfigProvider
	WithOptionsResolver  = core.WithOptionsResolver
	WithCredentialStore  = core.WithCredentialStore
	WithCredentialCodec  = core.WithCredentialCodec
	WithRefreshTransport = core.WithRefreshTransport
	WithAuthSignalBus    = core.WithAuthSignalBus
	WithSigner           = core.WithSigner
	WithJobEnqueuer      = core.WithJobEnqueuer
)

// WithJobQueue enables background refresh scheduling over a go-job queue.
func WithJobQueue(enqueuer queue.Enqueuer) Option {
	return core.WithJobEnqueuer(gojobadapter.NewEnqueuerAdapter(enqueuer))
}

// NewRefreshWorker builds the worker that consumes scheduled refresh jobs and
// runs them through the service's refresh coordinator.
func NewRefreshWorker(service *Service, dequeuer queue.Dequeuer, policy gojobadapter.RetryPolicy) (*gojobadapter.RefreshWorker, error) {
	if service == nil {
		return nil, fmt.Errorf("client: service is required")
	}
	coordinator := service.Coordinator()
	if coordinator == nil {
		return nil, fmt.Errorf("client: refresh worker requires a refresh transport")
	}
	deps := service.Dependencies()
	_, _, _, jobLogger := gologgeradapter.ResolveForJob("client.refresh", deps.LoggerProvider, deps.Logger)
	return gojobadapter.NewRefreshWorker(gojobadapter.RefreshWorkerConfig{
		Refresher: coordinator,
		Dequeuer:  gojobadapter.NewDequeuerAdapter(dequeuer, policy),
		Logger:    jobLogger,
	})
}

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
