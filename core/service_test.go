package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestService(t *testing.T, options ...Option) *Service {
	t.Helper()
	service, err := NewService(Config{}, options...)
	if err != nil {
		t.Fatalf("expected service, got error: %v", err)
	}
	return service
}

func TestNewServiceAppliesDefaults(t *testing.T) {
	service := newTestService(t)

	cfg := service.Config()
	if cfg.Credentials.ExpiryBufferSeconds != 30 {
		t.Fatalf("expected default expiry buffer, got %d", cfg.Credentials.ExpiryBufferSeconds)
	}
	if cfg.Refresh.PrimaryPath != "/api/auth/refresh" {
		t.Fatalf("expected default refresh path, got %q", cfg.Refresh.PrimaryPath)
	}
	if cfg.Credentials.StorageKey != "client.credentials" {
		t.Fatalf("expected default storage key, got %q", cfg.Credentials.StorageKey)
	}

	deps := service.Dependencies()
	if deps.CredentialStore == nil {
		t.Fatalf("expected memory store fallback")
	}
	if deps.SignalBus == nil {
		t.Fatalf("expected signal bus fallback")
	}
}

func TestNewServiceRuntimeOverride(t *testing.T) {
	service := newTestService(t, nil)

	runtime := Config{}
	runtime.Credentials.ExpiryBufferSeconds = 45
	override, err := NewService(runtime)
	if err != nil {
		t.Fatalf("expected service, got error: %v", err)
	}
	if override.Config().Credentials.ExpiryBufferSeconds != 45 {
		t.Fatalf("expected runtime override, got %d", override.Config().Credentials.ExpiryBufferSeconds)
	}
	if service.Config().Credentials.ExpiryBufferSeconds != 30 {
		t.Fatalf("expected untouched default, got %d", service.Config().Credentials.ExpiryBufferSeconds)
	}
}

func TestLoginPersistsCredential(t *testing.T) {
	service := newTestService(t)

	record, err := service.Login(context.Background(), LoginInput{
		SubjectID:    "user-1",
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresIn:    time.Hour,
	})
	if err != nil {
		t.Fatalf("expected login, got: %v", err)
	}
	if record.TokenType != "Bearer" {
		t.Fatalf("expected default token type, got %q", record.TokenType)
	}
	if record.ExpiresAt == nil {
		t.Fatalf("expected expiry to be recorded")
	}

	stored, found, err := service.CurrentCredential(context.Background())
	if err != nil || !found {
		t.Fatalf("expected stored credential, found=%v err=%v", found, err)
	}
	if stored.AccessToken != "access" {
		t.Fatalf("expected stored token, got %q", stored.AccessToken)
	}
}

func TestLoginRequiresAccessToken(t *testing.T) {
	service := newTestService(t)

	if _, err := service.Login(context.Background(), LoginInput{AccessToken: "   "}); err == nil {
		t.Fatalf("expected validation error for blank token")
	}
}

func TestLogoutClearsCredentialAndSignals(t *testing.T) {
	service := newTestService(t)

	var mu sync.Mutex
	var reasons []AuthLossReason
	service.OnAuthLost(AuthSignalHandlerFunc(func(_ context.Context, signal AuthSignal) error {
		mu.Lock()
		reasons = append(reasons, signal.Reason)
		mu.Unlock()
		return nil
	}))

	if _, err := service.Login(context.Background(), LoginInput{AccessToken: "access"}); err != nil {
		t.Fatalf("expected login, got: %v", err)
	}
	if err := service.Logout(context.Background()); err != nil {
		t.Fatalf("expected logout, got: %v", err)
	}

	_, found, err := service.CurrentCredential(context.Background())
	if err != nil {
		t.Fatalf("expected read, got: %v", err)
	}
	if found {
		t.Fatalf("expected credential to be cleared")
	}

	// Logout with nothing stored still succeeds.
	if err := service.Logout(context.Background()); err != nil {
		t.Fatalf("expected idempotent logout, got: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reasons) != 2 {
		t.Fatalf("expected two signals, got %d", len(reasons))
	}
	for _, reason := range reasons {
		if reason != AuthLossLogout {
			t.Fatalf("expected logout reason, got %q", reason)
		}
	}
}

func TestEnsureFreshWithCoordinator(t *testing.T) {
	transport := &stubRefreshTransport{
		outcome: RefreshOutcome{AccessToken: "refreshed", ExpiresIn: time.Hour},
	}
	service := newTestService(t, WithRefreshTransport(transport))

	if _, err := service.Login(context.Background(), LoginInput{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresIn:    5 * time.Second,
	}); err != nil {
		t.Fatalf("expected login, got: %v", err)
	}

	record, err := service.EnsureFresh(context.Background())
	if err != nil {
		t.Fatalf("expected fresh credential, got: %v", err)
	}
	if record.AccessToken != "refreshed" {
		t.Fatalf("expected refreshed token, got %q", record.AccessToken)
	}
	if transport.calls() != 1 {
		t.Fatalf("expected one exchange, got %d", transport.calls())
	}
}

func TestEnsureFreshWithoutTransport(t *testing.T) {
	service := newTestService(t)

	if _, err := service.Login(context.Background(), LoginInput{
		AccessToken: "short-lived",
		ExpiresIn:   5 * time.Second,
	}); err != nil {
		t.Fatalf("expected login, got: %v", err)
	}

	if _, err := service.EnsureFresh(context.Background()); err == nil {
		t.Fatalf("expected error for expired credential without transport")
	}

	if _, err := service.Login(context.Background(), LoginInput{
		AccessToken: "long-lived",
		ExpiresIn:   time.Hour,
	}); err != nil {
		t.Fatalf("expected login, got: %v", err)
	}
	record, err := service.EnsureFresh(context.Background())
	if err != nil {
		t.Fatalf("expected pass-through credential, got: %v", err)
	}
	if record.AccessToken != "long-lived" {
		t.Fatalf("expected stored token, got %q", record.AccessToken)
	}
}

func TestLoginSchedulesBackgroundRefresh(t *testing.T) {
	enqueuer := &capturingJobEnqueuer{}
	service := newTestService(t, WithJobEnqueuer(enqueuer))

	record, err := service.Login(context.Background(), LoginInput{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresIn:    time.Hour,
	})
	if err != nil {
		t.Fatalf("expected login, got: %v", err)
	}

	if len(enqueuer.messages) != 1 {
		t.Fatalf("expected one scheduled refresh, got %d", len(enqueuer.messages))
	}
	msg := enqueuer.messages[0]
	if msg.JobID != RefreshJobID {
		t.Fatalf("expected refresh job id, got %q", msg.JobID)
	}
	storageKey, refreshAt, scheduleErr := RefreshJobSchedule(msg)
	if scheduleErr != nil {
		t.Fatalf("schedule: %v", scheduleErr)
	}
	if storageKey != service.Config().Credentials.StorageKey {
		t.Fatalf("expected configured storage key, got %q", storageKey)
	}
	if !refreshAt.Before(*record.ExpiresAt) {
		t.Fatalf("expected refresh due ahead of expiry, got %s vs %s", refreshAt, record.ExpiresAt)
	}
}

func TestLoginWithoutRefreshTokenSkipsScheduling(t *testing.T) {
	enqueuer := &capturingJobEnqueuer{}
	service := newTestService(t, WithJobEnqueuer(enqueuer))

	if _, err := service.Login(context.Background(), LoginInput{
		AccessToken: "access",
		ExpiresIn:   time.Hour,
	}); err != nil {
		t.Fatalf("expected login, got: %v", err)
	}
	if len(enqueuer.messages) != 0 {
		t.Fatalf("expected no schedule without a refresh token, got %d", len(enqueuer.messages))
	}
}

func TestEnsureFreshReschedulesAfterRefresh(t *testing.T) {
	enqueuer := &capturingJobEnqueuer{}
	transport := &stubRefreshTransport{
		outcome: RefreshOutcome{AccessToken: "refreshed", RefreshToken: "next", ExpiresIn: time.Hour},
	}
	service := newTestService(t, WithRefreshTransport(transport), WithJobEnqueuer(enqueuer))

	if _, err := service.Login(context.Background(), LoginInput{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresIn:    5 * time.Second,
	}); err != nil {
		t.Fatalf("expected login, got: %v", err)
	}
	if _, err := service.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("expected fresh credential, got: %v", err)
	}

	if len(enqueuer.messages) != 2 {
		t.Fatalf("expected schedule on login and after refresh, got %d", len(enqueuer.messages))
	}
	if enqueuer.messages[0].IdempotencyKey != enqueuer.messages[1].IdempotencyKey {
		t.Fatalf("expected both schedules to share one idempotency key")
	}
}

type capturingJobEnqueuer struct {
	messages []*JobExecutionMessage
}

func (e *capturingJobEnqueuer) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	e.messages = append(e.messages, msg)
	return nil
}
