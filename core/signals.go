package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewAuthSignal builds a signal with a fresh identifier and UTC timestamp.
func NewAuthSignal(reason AuthLossReason, metadata map[string]any) AuthSignal {
	return AuthSignal{
		ID:         uuid.NewString(),
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
		Metadata:   copyAnyMap(metadata),
	}
}

// AuthSignalHandlerFunc adapts a function to the AuthSignalHandler interface.
type AuthSignalHandlerFunc func(ctx context.Context, signal AuthSignal) error

func (f AuthSignalHandlerFunc) Handle(ctx context.Context, signal AuthSignal) error {
	if f == nil {
		return nil
	}
	return f(ctx, signal)
}

// MemoryAuthSignalBus fans a published signal out to every subscriber,
// synchronously and in subscription order. Handler errors are collected but
// do not stop later handlers from running.
type MemoryAuthSignalBus struct {
	mu       sync.RWMutex
	handlers []AuthSignalHandler
	logger   Logger
}

func NewMemoryAuthSignalBus(logger Logger) *MemoryAuthSignalBus {
	return &MemoryAuthSignalBus{logger: ensureLogger(logger)}
}

func (b *MemoryAuthSignalBus) Subscribe(handler AuthSignalHandler) {
	if b == nil || handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
}

func (b *MemoryAuthSignalBus) Publish(ctx context.Context, signal AuthSignal) error {
	if b == nil {
		return fmt.Errorf("core: auth signal bus is nil")
	}
	if !signal.Reason.Valid() {
		return fmt.Errorf("core: auth signal reason %q is not valid", signal.Reason)
	}
	if strings.TrimSpace(signal.ID) == "" {
		signal.ID = uuid.NewString()
	}
	if signal.OccurredAt.IsZero() {
		signal.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := append([]AuthSignalHandler(nil), b.handlers...)
	b.mu.RUnlock()

	var firstErr error
	for _, handler := range handlers {
		if err := handler.Handle(ctx, signal); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			b.logger.Error("auth signal handler failed",
				"signal_id", signal.ID,
				"reason", string(signal.Reason),
				"error", err,
			)
		}
	}
	return firstErr
}

var _ AuthSignalBus = (*MemoryAuthSignalBus)(nil)
