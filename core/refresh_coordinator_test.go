package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type stubRefreshTransport struct {
	mu        sync.Mutex
	exchanges int32
	delay     time.Duration
	outcome   RefreshOutcome
	err       error
}

func (t *stubRefreshTransport) Exchange(ctx context.Context, refreshToken string) (RefreshOutcome, error) {
	atomic.AddInt32(&t.exchanges, 1)
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return RefreshOutcome{}, ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return RefreshOutcome{}, t.err
	}
	return t.outcome, nil
}

func (t *stubRefreshTransport) calls() int32 {
	return atomic.LoadInt32(&t.exchanges)
}

type capturingSignalBus struct {
	mu      sync.Mutex
	signals []AuthSignal
}

func (b *capturingSignalBus) Publish(_ context.Context, signal AuthSignal) error {
	b.mu.Lock()
	b.signals = append(b.signals, signal)
	b.mu.Unlock()
	return nil
}

func (b *capturingSignalBus) Subscribe(AuthSignalHandler) {}

func (b *capturingSignalBus) published() []AuthSignal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]AuthSignal(nil), b.signals...)
}

func newTestCoordinator(t *testing.T, store CredentialStore, transport RefreshTransport, bus AuthSignalBus) *RefreshCoordinator {
	t.Helper()
	coordinator, err := NewRefreshCoordinator(RefreshCoordinatorConfig{
		Store:     store,
		Transport: transport,
		Signals:   bus,
	})
	if err != nil {
		t.Fatalf("expected coordinator, got error: %v", err)
	}
	return coordinator
}

func seedStaleCredential(t *testing.T, store CredentialStore) {
	t.Helper()
	expired := time.Now().UTC().Add(-time.Minute)
	if err := store.Write(context.Background(), CredentialRecord{
		AccessToken:  "stale-access",
		RefreshToken: "refresh-1",
		ExpiresAt:    &expired,
	}); err != nil {
		t.Fatalf("expected seeded credential, got: %v", err)
	}
}

func TestEnsureFreshReturnsStoredCredentialWithoutRefresh(t *testing.T) {
	store := NewMemoryCredentialStore()
	transport := &stubRefreshTransport{}
	coordinator := newTestCoordinator(t, store, transport, nil)

	future := time.Now().UTC().Add(time.Hour)
	if err := store.Write(context.Background(), CredentialRecord{
		AccessToken: "fresh-access",
		ExpiresAt:   &future,
	}); err != nil {
		t.Fatalf("expected write, got: %v", err)
	}

	record, err := coordinator.EnsureFresh(context.Background())
	if err != nil {
		t.Fatalf("expected credential, got error: %v", err)
	}
	if record.AccessToken != "fresh-access" {
		t.Fatalf("expected stored token, got %q", record.AccessToken)
	}
	if transport.calls() != 0 {
		t.Fatalf("expected no exchange, got %d", transport.calls())
	}
}

func TestEnsureFreshRefreshesStaleCredential(t *testing.T) {
	store := NewMemoryCredentialStore()
	transport := &stubRefreshTransport{
		outcome: RefreshOutcome{
			AccessToken: "new-access",
			ExpiresIn:   time.Hour,
		},
	}
	coordinator := newTestCoordinator(t, store, transport, nil)
	seedStaleCredential(t, store)

	record, err := coordinator.EnsureFresh(context.Background())
	if err != nil {
		t.Fatalf("expected refreshed credential, got error: %v", err)
	}
	if record.AccessToken != "new-access" {
		t.Fatalf("expected refreshed token, got %q", record.AccessToken)
	}
	if record.RefreshToken != "refresh-1" {
		t.Fatalf("expected refresh token preserved, got %q", record.RefreshToken)
	}
	if record.ExpiresAt == nil {
		t.Fatalf("expected expiry to be recorded")
	}

	stored, found, err := store.Read(context.Background())
	if err != nil || !found {
		t.Fatalf("expected persisted credential, found=%v err=%v", found, err)
	}
	if stored.AccessToken != "new-access" {
		t.Fatalf("expected persisted token, got %q", stored.AccessToken)
	}
}

func TestEnsureFreshSingleFlight(t *testing.T) {
	store := NewMemoryCredentialStore()
	transport := &stubRefreshTransport{
		delay: 50 * time.Millisecond,
		outcome: RefreshOutcome{
			AccessToken: "new-access",
			ExpiresIn:   time.Hour,
		},
	}
	coordinator := newTestCoordinator(t, store, transport, nil)
	seedStaleCredential(t, store)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]CredentialRecord, callers)
	errors := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errors[idx] = coordinator.EnsureFresh(context.Background())
		}(i)
	}
	wg.Wait()

	if calls := transport.calls(); calls != 1 {
		t.Fatalf("expected a single exchange, got %d", calls)
	}
	for i := 0; i < callers; i++ {
		if errors[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errors[i])
		}
		if results[i].AccessToken != "new-access" {
			t.Fatalf("caller %d: expected shared outcome, got %q", i, results[i].AccessToken)
		}
	}
	if state := coordinator.State(); state != CoordinatorStateIdle {
		t.Fatalf("expected idle coordinator, got %q", state)
	}
}

func TestEnsureFreshRotatesRefreshToken(t *testing.T) {
	store := NewMemoryCredentialStore()
	transport := &stubRefreshTransport{
		outcome: RefreshOutcome{
			AccessToken:  "new-access",
			RefreshToken: "refresh-2",
			ExpiresIn:    time.Hour,
		},
	}
	coordinator := newTestCoordinator(t, store, transport, nil)
	seedStaleCredential(t, store)

	record, err := coordinator.EnsureFresh(context.Background())
	if err != nil {
		t.Fatalf("expected refreshed credential, got error: %v", err)
	}
	if record.RefreshToken != "refresh-2" {
		t.Fatalf("expected rotated refresh token, got %q", record.RefreshToken)
	}
	stored, _, _ := store.Read(context.Background())
	if stored.RefreshToken != "refresh-2" {
		t.Fatalf("expected rotated token persisted, got %q", stored.RefreshToken)
	}
}

func TestEnsureFreshRejectionTearsDownCredential(t *testing.T) {
	store := NewMemoryCredentialStore()
	transport := &stubRefreshTransport{
		err: goerrors.New("invalid_grant", goerrors.CategoryAuth),
	}
	bus := &capturingSignalBus{}
	coordinator := newTestCoordinator(t, store, transport, bus)
	seedStaleCredential(t, store)

	_, err := coordinator.EnsureFresh(context.Background())
	if err == nil {
		t.Fatalf("expected rejection error")
	}
	if !IsRefreshRejected(err) {
		t.Fatalf("expected refresh-rejected error, got: %v", err)
	}

	_, found, readErr := store.Read(context.Background())
	if readErr != nil {
		t.Fatalf("expected read, got: %v", readErr)
	}
	if found {
		t.Fatalf("expected credential to be cleared after rejection")
	}

	signals := bus.published()
	if len(signals) != 1 {
		t.Fatalf("expected one auth loss signal, got %d", len(signals))
	}
	if signals[0].Reason != AuthLossRefreshRejected {
		t.Fatalf("expected refresh_rejected reason, got %q", signals[0].Reason)
	}
	if signals[0].ID == "" {
		t.Fatalf("expected signal id")
	}
	if state := coordinator.State(); state != CoordinatorStateIdle {
		t.Fatalf("expected idle coordinator after settlement, got %q", state)
	}
}

func TestEnsureFreshNetworkFailureClearsCredential(t *testing.T) {
	store := NewMemoryCredentialStore()
	transport := &stubRefreshTransport{
		err: fmt.Errorf("dial tcp: connection refused"),
	}
	bus := &capturingSignalBus{}
	coordinator := newTestCoordinator(t, store, transport, bus)
	seedStaleCredential(t, store)

	_, err := coordinator.EnsureFresh(context.Background())
	if err == nil {
		t.Fatalf("expected failure")
	}
	if IsRefreshRejected(err) {
		t.Fatalf("expected external error, got rejection: %v", err)
	}

	// A failed exchange ends the session regardless of the failure class:
	// the stored credential is gone and the loss was announced.
	_, found, _ := store.Read(context.Background())
	if found {
		t.Fatalf("expected credential to be cleared after failed refresh")
	}
	signals := bus.published()
	if len(signals) != 1 {
		t.Fatalf("expected one auth loss signal, got %d", len(signals))
	}
	if signals[0].Reason != AuthLossRefreshRejected {
		t.Fatalf("expected refresh_rejected reason, got %q", signals[0].Reason)
	}

	if state := coordinator.State(); state != CoordinatorStateIdle {
		t.Fatalf("expected idle coordinator after settlement, got %q", state)
	}

	// A later login starts a new session; the coordinator accepts new flights.
	transport.mu.Lock()
	transport.err = nil
	transport.outcome = RefreshOutcome{AccessToken: "recovered", ExpiresIn: time.Hour}
	transport.mu.Unlock()
	seedStaleCredential(t, store)

	record, err := coordinator.EnsureFresh(context.Background())
	if err != nil {
		t.Fatalf("expected recovery after re-login, got: %v", err)
	}
	if record.AccessToken != "recovered" {
		t.Fatalf("expected recovered token, got %q", record.AccessToken)
	}
}

func TestEnsureFreshEmptyTokenResponseClearsCredential(t *testing.T) {
	store := NewMemoryCredentialStore()
	transport := &stubRefreshTransport{
		outcome: RefreshOutcome{AccessToken: "   "},
	}
	bus := &capturingSignalBus{}
	coordinator := newTestCoordinator(t, store, transport, bus)
	seedStaleCredential(t, store)

	_, err := coordinator.EnsureFresh(context.Background())
	if err == nil {
		t.Fatalf("expected failure on empty token response")
	}
	_, found, _ := store.Read(context.Background())
	if found {
		t.Fatalf("expected credential to be cleared")
	}
	if len(bus.published()) != 1 {
		t.Fatalf("expected one auth loss signal, got %d", len(bus.published()))
	}
}

func TestEnsureFreshWithoutStoredCredential(t *testing.T) {
	store := NewMemoryCredentialStore()
	transport := &stubRefreshTransport{}
	coordinator := newTestCoordinator(t, store, transport, nil)

	_, err := coordinator.EnsureFresh(context.Background())
	if err == nil {
		t.Fatalf("expected error with no stored credential")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Category != goerrors.CategoryAuth {
		t.Fatalf("expected auth category, got: %v", err)
	}
	if transport.calls() != 0 {
		t.Fatalf("expected no exchange, got %d", transport.calls())
	}
}

func TestEnsureFreshWaiterCancellation(t *testing.T) {
	store := NewMemoryCredentialStore()
	transport := &stubRefreshTransport{
		delay: 100 * time.Millisecond,
		outcome: RefreshOutcome{
			AccessToken: "new-access",
			ExpiresIn:   time.Hour,
		},
	}
	coordinator := newTestCoordinator(t, store, transport, nil)
	seedStaleCredential(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancelledErr := make(chan error, 1)
	go func() {
		_, err := coordinator.EnsureFresh(ctx)
		cancelledErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-cancelledErr; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}

	// The abandoned flight still settles for later callers.
	record, err := coordinator.EnsureFresh(context.Background())
	if err != nil {
		t.Fatalf("expected settled credential, got: %v", err)
	}
	if record.AccessToken != "new-access" {
		t.Fatalf("expected settled token, got %q", record.AccessToken)
	}
}
