package gojob

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-client/core"

	job "github.com/goliatone/go-job"
)

// Refresher is the slice of the refresh coordinator the worker drives.
type Refresher interface {
	ForceRefresh(ctx context.Context) (core.CredentialRecord, error)
}

// RefreshWorker drains scheduled refresh jobs from a queue and runs the
// credential exchange through the coordinator. Jobs that arrive before their
// due time are requeued with a delay; a rejected refresh dead-letters the job
// since the session is already torn down.
type RefreshWorker struct {
	refresher Refresher
	dequeuer  core.JobDequeuer
	logger    job.Logger
	nowFn     func() time.Time
}

type RefreshWorkerConfig struct {
	Refresher Refresher
	Dequeuer  core.JobDequeuer
	Logger    job.Logger
}

func NewRefreshWorker(cfg RefreshWorkerConfig) (*RefreshWorker, error) {
	if cfg.Refresher == nil {
		return nil, fmt.Errorf("gojob: refresher is required")
	}
	if cfg.Dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	return &RefreshWorker{
		refresher: cfg.Refresher,
		dequeuer:  cfg.Dequeuer,
		logger:    cfg.Logger,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run processes jobs until the context ends.
func (w *RefreshWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.ProcessOne(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// ProcessOne dequeues a single job and settles it with an ack or a nack. A
// nil return means the delivery was settled; dequeue and settle failures
// surface to the caller.
func (w *RefreshWorker) ProcessOne(ctx context.Context) error {
	if w == nil {
		return fmt.Errorf("gojob: refresh worker is nil")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}

	msg := delivery.Message()
	storageKey, refreshAt, scheduleErr := core.RefreshJobSchedule(msg)
	if scheduleErr != nil {
		w.logError("refresh job rejected", "error", scheduleErr.Error())
		return delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     scheduleErr.Error(),
		})
	}

	if wait := refreshAt.Sub(w.nowFn()); wait > 0 {
		return delivery.Nack(ctx, core.JobNackOptions{
			Requeue: true,
			Delay:   wait,
			Reason:  "refresh not due yet",
		})
	}

	if _, refreshErr := w.refresher.ForceRefresh(ctx); refreshErr != nil {
		if core.IsRefreshRejected(refreshErr) {
			// The coordinator already cleared the credential and announced
			// auth loss; retrying this job cannot recover the session.
			w.logError("scheduled refresh rejected", "storage_key", storageKey, "error", refreshErr.Error())
			return delivery.Nack(ctx, core.JobNackOptions{
				DeadLetter: true,
				Reason:     refreshErr.Error(),
			})
		}
		w.logError("scheduled refresh failed", "storage_key", storageKey, "error", refreshErr.Error())
		return delivery.Nack(ctx, core.JobNackOptions{
			Requeue: true,
			Reason:  refreshErr.Error(),
		})
	}

	if w.logger != nil {
		w.logger.Info("scheduled refresh completed", "storage_key", storageKey)
	}
	return delivery.Ack(ctx)
}

func (w *RefreshWorker) logError(msg string, args ...any) {
	if w == nil || w.logger == nil {
		return
	}
	w.logger.Error(msg, args...)
}
