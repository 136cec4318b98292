package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const defaultRefreshTimeout = 10 * time.Second

// refreshFlight is one in-progress token exchange. Callers that arrive while
// it runs wait on done and share its settlement.
type refreshFlight struct {
	done   chan struct{}
	record CredentialRecord
	err    error
}

// RefreshCoordinator serializes token refreshes: at most one exchange is in
// flight at a time, and every caller that needs a fresh credential while it
// runs receives the same outcome.
type RefreshCoordinator struct {
	mu     sync.Mutex
	flight *refreshFlight
	state  CoordinatorState

	store     CredentialStore
	transport RefreshTransport
	signals   AuthSignalBus
	logger    Logger
	metrics   MetricsRecorder

	expiryBuffer   time.Duration
	refreshTimeout time.Duration
	nowFn          func() time.Time
}

type RefreshCoordinatorConfig struct {
	Store          CredentialStore
	Transport      RefreshTransport
	Signals        AuthSignalBus
	Logger         Logger
	Metrics        MetricsRecorder
	ExpiryBuffer   time.Duration
	RefreshTimeout time.Duration
}

func NewRefreshCoordinator(cfg RefreshCoordinatorConfig) (*RefreshCoordinator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("core: refresh coordinator requires a credential store")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("core: refresh coordinator requires a refresh transport")
	}
	expiryBuffer := cfg.ExpiryBuffer
	if expiryBuffer <= 0 {
		expiryBuffer = DefaultExpiryBuffer
	}
	refreshTimeout := cfg.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &RefreshCoordinator{
		state:          CoordinatorStateIdle,
		store:          cfg.Store,
		transport:      cfg.Transport,
		signals:        cfg.Signals,
		logger:         ensureLogger(cfg.Logger),
		metrics:        metrics,
		expiryBuffer:   expiryBuffer,
		refreshTimeout: refreshTimeout,
		nowFn:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// State reports the coordinator's current lifecycle phase.
func (c *RefreshCoordinator) State() CoordinatorState {
	if c == nil {
		return CoordinatorStateIdle
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentCredential reads the stored credential without triggering a refresh.
func (c *RefreshCoordinator) CurrentCredential(ctx context.Context) (CredentialRecord, bool, error) {
	if c == nil {
		return CredentialRecord{}, false, fmt.Errorf("core: refresh coordinator is nil")
	}
	record, found, err := c.store.Read(ctx)
	if err != nil {
		return CredentialRecord{}, false, clientErrorMapper(err)
	}
	if !found || !record.IsPresent() {
		return CredentialRecord{}, false, nil
	}
	return record, true, nil
}

// EnsureFresh returns a credential whose access token is valid past the expiry
// buffer, refreshing through the transport when the stored one is stale.
// Concurrent callers during a refresh all settle with the same record or error.
func (c *RefreshCoordinator) EnsureFresh(ctx context.Context) (CredentialRecord, error) {
	if c == nil {
		return CredentialRecord{}, fmt.Errorf("core: refresh coordinator is nil")
	}
	if err := ctx.Err(); err != nil {
		return CredentialRecord{}, err
	}

	record, found, err := c.store.Read(ctx)
	if err != nil {
		return CredentialRecord{}, clientErrorMapper(err)
	}
	if found {
		state := ResolveCredentialTokenState(c.nowFn(), record, c.expiryBuffer)
		if state.HasAccessToken && !state.IsExpired {
			return record, nil
		}
		if !state.CanRefresh {
			return CredentialRecord{}, newClientError(
				"core: credential is expired and holds no refresh token",
				goerrors.CategoryAuth,
				ClientErrorUnauthorized,
			)
		}
	} else {
		return CredentialRecord{}, newClientError(
			"core: no stored credential",
			goerrors.CategoryAuth,
			ClientErrorUnauthorized,
		)
	}

	return c.awaitRefresh(ctx, record.RefreshToken)
}

// ForceRefresh performs (or joins) a refresh regardless of recorded expiry.
// The interceptor uses it after a rejected request: the backend's verdict
// outranks the local expiry calculation.
func (c *RefreshCoordinator) ForceRefresh(ctx context.Context) (CredentialRecord, error) {
	if c == nil {
		return CredentialRecord{}, fmt.Errorf("core: refresh coordinator is nil")
	}
	record, found, err := c.store.Read(ctx)
	if err != nil {
		return CredentialRecord{}, clientErrorMapper(err)
	}
	if !found || !record.CanRefresh() {
		return CredentialRecord{}, newClientError(
			"core: no refresh token available",
			goerrors.CategoryAuth,
			ClientErrorUnauthorized,
		)
	}
	return c.awaitRefresh(ctx, record.RefreshToken)
}

func (c *RefreshCoordinator) awaitRefresh(ctx context.Context, refreshToken string) (CredentialRecord, error) {
	c.mu.Lock()
	flight := c.flight
	if flight == nil {
		flight = &refreshFlight{done: make(chan struct{})}
		c.flight = flight
		c.state = CoordinatorStateRefreshing
		go c.runRefresh(flight, refreshToken)
	}
	c.mu.Unlock()

	select {
	case <-flight.done:
		if flight.err != nil {
			return CredentialRecord{}, flight.err
		}
		return flight.record.Clone(), nil
	case <-ctx.Done():
		// The exchange keeps running for the remaining waiters; only this
		// caller abandons it.
		return CredentialRecord{}, ctx.Err()
	}
}

// runRefresh executes the exchange on its own deadline, detached from any one
// caller's context, so a cancelled waiter cannot poison the shared outcome.
func (c *RefreshCoordinator) runRefresh(flight *refreshFlight, refreshToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	defer cancel()

	started := c.nowFn()
	record, err := c.performRefresh(ctx, refreshToken)

	c.mu.Lock()
	c.flight = nil
	// A failed flight settles back to idle so the next caller can start over
	// rather than observing a sticky failure.
	c.state = CoordinatorStateIdle
	c.mu.Unlock()

	flight.record = record
	flight.err = err
	close(flight.done)

	elapsed := c.nowFn().Sub(started)
	recordHistogram(ctx, c.metrics, "client.refresh.duration_ms", float64(elapsed.Milliseconds()), nil)
	if err != nil {
		recordCounter(ctx, c.metrics, "client.refresh.failure", 1, nil)
		return
	}
	recordCounter(ctx, c.metrics, "client.refresh.success", 1, nil)
}

func (c *RefreshCoordinator) performRefresh(ctx context.Context, refreshToken string) (CredentialRecord, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return CredentialRecord{}, newClientError(
			"core: refresh token is required",
			goerrors.CategoryAuth,
			ClientErrorUnauthorized,
		)
	}

	outcome, err := c.transport.Exchange(ctx, refreshToken)
	if err != nil {
		mapped := clientErrorMapper(err)
		// Any failed exchange invalidates the session: the refresh token has
		// been spent on an attempt whose outcome is unknown at best.
		c.teardownCredential(ctx, mapped)
		if isUnrecoverableRefreshError(mapped) {
			return CredentialRecord{}, newClientError(
				fmt.Sprintf("core: refresh token was rejected: %v", err),
				goerrors.CategoryAuth,
				ClientErrorRefreshRejected,
			)
		}
		c.logger.Error("credential refresh failed", "error", err)
		return CredentialRecord{}, mapped
	}

	accessToken := strings.TrimSpace(outcome.AccessToken)
	if accessToken == "" {
		mapped := newClientError(
			"core: refresh response carried no access token",
			goerrors.CategoryExternal,
			ClientErrorExternalFailure,
		)
		c.logger.Error("credential refresh returned empty token")
		c.teardownCredential(ctx, mapped)
		return CredentialRecord{}, mapped
	}

	prior, _, readErr := c.store.Read(ctx)
	if readErr != nil {
		c.logger.Error("credential read after refresh failed", "error", readErr)
	}

	record := prior.Clone()
	record.AccessToken = accessToken
	record.TokenType = strings.TrimSpace(outcome.TokenType)
	if record.TokenType == "" {
		record.TokenType = "Bearer"
	}
	if rotated := strings.TrimSpace(outcome.RefreshToken); rotated != "" {
		record.RefreshToken = rotated
	} else {
		record.RefreshToken = refreshToken
	}
	if outcome.ExpiresIn > 0 {
		expiresAt := c.nowFn().Add(outcome.ExpiresIn)
		record.ExpiresAt = &expiresAt
	} else {
		record.ExpiresAt = nil
	}
	if len(outcome.Metadata) > 0 {
		record.Metadata = copyAnyMap(outcome.Metadata)
	}

	if err := c.store.Write(ctx, record); err != nil {
		return CredentialRecord{}, clientErrorMapper(fmt.Errorf("core: persist refreshed credential: %w", err))
	}

	c.logger.Info("credential refreshed",
		"expires_at", formatTimePointer(record.ExpiresAt),
		"rotated_refresh_token", strings.TrimSpace(outcome.RefreshToken) != "",
	)
	return record, nil
}

// teardownCredential clears stored state and announces the auth loss. The
// failure is terminal for this session; the caller has to authenticate again.
func (c *RefreshCoordinator) teardownCredential(ctx context.Context, cause error) {
	// The exchange context may already be expired when the exchange itself
	// timed out; the teardown still has to land.
	ctx = context.WithoutCancel(ctx)
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("credential teardown failed", "error", err)
	}
	c.publishAuthLoss(ctx, AuthLossRefreshRejected, cause)
}

func (c *RefreshCoordinator) publishAuthLoss(ctx context.Context, reason AuthLossReason, cause error) {
	if c.signals == nil {
		return
	}
	metadata := map[string]any{}
	if cause != nil {
		metadata["cause"] = strings.TrimSpace(cause.Error())
	}
	signal := NewAuthSignal(reason, metadata)
	if err := c.signals.Publish(ctx, signal); err != nil {
		c.logger.Error("auth loss signal publish failed", "error", err, "reason", string(reason))
	}
}

func isUnrecoverableRefreshError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryValidation:
			return true
		}
		switch strings.TrimSpace(strings.ToUpper(richErr.TextCode)) {
		case ClientErrorRefreshRejected, ClientErrorReauthRequired:
			return true
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid refresh token") ||
		strings.Contains(msg, "reauthorization required")
}

func formatTimePointer(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
