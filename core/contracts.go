package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// CredentialRecord is the unit of authentication state: the access/refresh
// token pair, its expiry, and the subject it belongs to. A record is either
// fully absent or fully populated; partial records never persist.
type CredentialRecord struct {
	SubjectID    string
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Metadata     map[string]any
}

// CredentialStore holds at most one credential record under a single storage
// key. Read treats corrupt or unparsable payloads as absent rather than as
// errors; Clear removes the legacy storage key alongside the primary one.
type CredentialStore interface {
	Read(ctx context.Context) (CredentialRecord, bool, error)
	Write(ctx context.Context, record CredentialRecord) error
	Clear(ctx context.Context) error
}

// RefreshOutcome is what a refresh exchange yields on success.
type RefreshOutcome struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
	Metadata     map[string]any
}

// RefreshTransport performs the physical credential exchange against the
// backend. Implementations own endpoint selection, including the one-shot
// legacy-path fallback on a not-found-class failure.
type RefreshTransport interface {
	Exchange(ctx context.Context, refreshToken string) (RefreshOutcome, error)
}

// CredentialSource is the read side consumed by the request interceptor:
// current record without triggering a refresh, and the suspending
// ensure-fresh entry point.
type CredentialSource interface {
	CurrentCredential(ctx context.Context) (CredentialRecord, bool, error)
	EnsureFresh(ctx context.Context) (CredentialRecord, error)
}

type TransportRequest struct {
	Method      string
	URL         string
	Headers     map[string]string
	Query       map[string]string
	Body        []byte
	Metadata    map[string]any
	Timeout     time.Duration
	Idempotency string
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

// HTTPDoer matches *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Signer attaches credentials to an outbound request.
type Signer interface {
	Sign(ctx context.Context, req *http.Request, record CredentialRecord) error
}

// AuthSignal announces an unrecoverable authentication loss. The host
// application owns what happens next (typically a re-authentication flow);
// this layer only emits the signal.
type AuthSignal struct {
	ID         string
	Reason     AuthLossReason
	OccurredAt time.Time
	Metadata   map[string]any
}

type AuthSignalHandler interface {
	Handle(ctx context.Context, signal AuthSignal) error
}

type AuthSignalBus interface {
	Publish(ctx context.Context, signal AuthSignal) error
	Subscribe(handler AuthSignalHandler)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
