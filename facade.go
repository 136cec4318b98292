package client

import (
	"fmt"
	"time"

	gocommandadapter "github.com/goliatone/go-client/adapters/gocommand"
	clientcommand "github.com/goliatone/go-client/command"
	"github.com/goliatone/go-client/core"
	clientquery "github.com/goliatone/go-client/query"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
)

type CommandQueryService interface {
	clientcommand.MutatingService
	core.CredentialSource
}

type Commands struct {
	Login   *clientcommand.LoginCommand
	Logout  *clientcommand.LogoutCommand
	Refresh *clientcommand.RefreshCommand
}

type Queries struct {
	CredentialState *clientquery.CredentialStateQuery
	EnsureFresh     *clientquery.EnsureFreshQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	refresher    clientcommand.Refresher
	expiryBuffer time.Duration
}

// WithRefresher overrides the force-refresh target; by default the facade
// uses the service's refresh coordinator.
func WithRefresher(refresher clientcommand.Refresher) FacadeOption {
	return func(options *facadeOptions) {
		options.refresher = refresher
	}
}

func WithExpiryBuffer(buffer time.Duration) FacadeOption {
	return func(options *facadeOptions) {
		options.expiryBuffer = buffer
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("client: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	refresher := cfg.refresher
	if refresher == nil {
		refresher = resolveRefresher(service)
	}
	expiryBuffer := cfg.expiryBuffer
	if expiryBuffer <= 0 {
		expiryBuffer = resolveExpiryBuffer(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Login:   clientcommand.NewLoginCommand(service),
		Logout:  clientcommand.NewLogoutCommand(service),
		Refresh: clientcommand.NewRefreshCommand(refresher),
	}
	facade.queries = Queries{
		CredentialState: clientquery.NewCredentialStateQuery(service, expiryBuffer),
		EnsureFresh:     clientquery.NewEnsureFreshQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

// Register wires the facade's command and query handlers into a go-command
// registry and subscribes them on the process dispatcher, so callers can run
// session operations through Dispatch/Query instead of holding the facade.
// The returned function removes the dispatcher subscriptions.
func (f *Facade) Register(adapter *gocommandadapter.RegistryAdapter) (func(), error) {
	if f == nil {
		return nil, fmt.Errorf("client: facade is nil")
	}
	if adapter == nil {
		return nil, fmt.Errorf("client: registry adapter is required")
	}

	var subscriptions []commanddispatcher.Subscription
	cleanup := func() {
		for _, sub := range subscriptions {
			if sub != nil {
				sub.Unsubscribe()
			}
		}
	}
	track := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			cleanup()
			return err
		}
		subscriptions = append(subscriptions, sub)
		return nil
	}

	if err := track(gocommandadapter.RegisterAndSubscribe(adapter, f.commands.Login)); err != nil {
		return nil, err
	}
	if err := track(gocommandadapter.RegisterAndSubscribe(adapter, f.commands.Logout)); err != nil {
		return nil, err
	}
	if err := track(gocommandadapter.RegisterAndSubscribe(adapter, f.commands.Refresh)); err != nil {
		return nil, err
	}
	if err := track(gocommandadapter.RegisterAndSubscribeQuery(adapter, f.queries.CredentialState)); err != nil {
		return nil, err
	}
	if err := track(gocommandadapter.RegisterAndSubscribeQuery(adapter, f.queries.EnsureFresh)); err != nil {
		return nil, err
	}
	return cleanup, nil
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func resolveRefresher(service CommandQueryService) clientcommand.Refresher {
	if service == nil {
		return nil
	}
	if refresher, ok := service.(clientcommand.Refresher); ok {
		return refresher
	}
	provider, ok := service.(interface {
		Coordinator() *core.RefreshCoordinator
	})
	if !ok {
		return nil
	}
	coordinator := provider.Coordinator()
	if coordinator == nil {
		return nil
	}
	return coordinator
}

func resolveExpiryBuffer(service CommandQueryService) time.Duration {
	provider, ok := service.(interface {
		Config() core.Config
	})
	if !ok {
		return core.DefaultExpiryBuffer
	}
	seconds := provider.Config().Credentials.ExpiryBufferSeconds
	if seconds <= 0 {
		return core.DefaultExpiryBuffer
	}
	return time.Duration(seconds) * time.Second
}
