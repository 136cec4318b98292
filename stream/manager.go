package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"

	"github.com/goliatone/go-client/core"
)

const (
	defaultMaxAttempts     = 5
	defaultBaseDelay       = time.Second
	defaultFallbackTimeout = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
)

// EventHandler receives normalized events, including the terminal
// disconnected event. Handlers run on the reader goroutine.
type EventHandler func(event Event)

// Manager owns one logical websocket subscription. It attaches the active
// credential at dial time, resends the subscription request after every
// reconnect, and walks a linear backoff schedule when the link drops. Close
// is idempotent and ends the subscription without a terminal failure event.
type Manager struct {
	dialer          *gorillawebsocket.Dialer
	source          core.CredentialSource
	logger          core.Logger
	metrics         core.MetricsRecorder
	url             string
	maxAttempts     int
	baseDelay       time.Duration
	fallbackTimeout time.Duration

	mu      sync.Mutex
	conn    *gorillawebsocket.Conn
	request []byte
	closed  bool
	cancel  context.CancelFunc

	done       chan struct{}
	firstEvent chan struct{}
}

type ManagerConfig struct {
	URL             string
	Source          core.CredentialSource
	Logger          core.Logger
	Metrics         core.MetricsRecorder
	Dialer          *gorillawebsocket.Dialer
	MaxAttempts     int
	BaseDelay       time.Duration
	FallbackTimeout time.Duration
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, goerrors.New("stream: manager requires a url", goerrors.CategoryBadInput).
			WithTextCode(core.ClientErrorBadInput)
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = gorillawebsocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	fallbackTimeout := cfg.FallbackTimeout
	if fallbackTimeout <= 0 {
		fallbackTimeout = defaultFallbackTimeout
	}
	done := make(chan struct{})
	close(done)
	return &Manager{
		dialer:          dialer,
		source:          cfg.Source,
		logger:          logger,
		metrics:         metrics,
		url:             url,
		maxAttempts:     maxAttempts,
		baseDelay:       baseDelay,
		fallbackTimeout: fallbackTimeout,
		done:            done,
		firstEvent:      make(chan struct{}),
	}, nil
}

// BackoffDelay returns the wait before the given reconnect attempt. The
// schedule is linear: attempt n waits n times the base delay.
func (m *Manager) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return m.baseDelay * time.Duration(attempt)
}

// Connect dials the stream, sends the subscription request, and starts the
// reader. An already-open connection is torn down first: the manager keeps
// at most one logical connection, and the latest request wins. The request
// is retained so it can be resent after a reconnect.
func (m *Manager) Connect(ctx context.Context, request []byte, handler EventHandler) error {
	if m == nil {
		return fmt.Errorf("stream: manager is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("stream: manager is closed")
	}
	prevConn := m.conn
	prevCancel := m.cancel
	m.conn = nil
	m.cancel = nil
	m.request = append([]byte(nil), request...)
	m.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	if prevConn != nil {
		_ = prevConn.Close()
	}

	conn, err := m.dial(ctx)
	if err != nil {
		return err
	}
	if err := m.sendRequest(conn); err != nil {
		_ = conn.Close()
		return err
	}

	readerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	firstEvent := make(chan struct{})
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		_ = conn.Close()
		return fmt.Errorf("stream: manager is closed")
	}
	m.conn = conn
	m.cancel = cancel
	m.done = done
	m.firstEvent = firstEvent
	m.mu.Unlock()

	go m.readLoop(readerCtx, conn, handler, done, firstEvent)
	return nil
}

// AwaitFirstEvent blocks until the first event arrives or the fallback
// timeout elapses. It reports whether the stream produced an event in time;
// callers use a false result to fall back to polling.
func (m *Manager) AwaitFirstEvent(ctx context.Context) bool {
	if m == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	firstEvent := m.firstEvent
	m.mu.Unlock()

	timer := time.NewTimer(m.fallbackTimeout)
	defer timer.Stop()

	select {
	case <-firstEvent:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close tears the subscription down. Repeat calls are no-ops; the reader
// exits without emitting a terminal failure event.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(
			gorillawebsocket.CloseMessage,
			gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""),
			deadline,
		)
		_ = conn.Close()
	}
	return nil
}

// Done is closed when the current reader loop has fully stopped.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *Manager) readLoop(
	ctx context.Context,
	conn *gorillawebsocket.Conn,
	handler EventHandler,
	done chan struct{},
	firstEvent chan struct{},
) {
	defer close(done)

	deliver := func(event Event) {
		select {
		case <-firstEvent:
		default:
			close(firstEvent)
		}
		recordCounter(context.Background(), m.metrics, "client.stream.event", 1)
		if handler != nil {
			handler(event)
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err == nil {
			deliver(NormalizeFrame(raw))
			continue
		}

		if m.isStale(conn) || ctx.Err() != nil {
			return
		}
		m.logger.Info("stream disconnected, reconnecting", "error", err)
		recordCounter(ctx, m.metrics, "client.stream.disconnect", 1)

		next, reconnectErr := m.reconnect(ctx, conn)
		if reconnectErr != nil {
			if m.isStale(conn) || ctx.Err() != nil {
				return
			}
			m.logger.Error("stream reconnect exhausted", "error", reconnectErr)
			deliver(Event{
				CorrelationID: uuid.NewString(),
				Type:          EventTypeDisconnected,
				Terminal:      true,
				ReceivedAt:    time.Now().UTC(),
				ErrInfo:       map[string]any{"error": reconnectErr.Error()},
				Metadata:      map[string]any{"attempts": m.maxAttempts},
			})
			return
		}
		conn = next
	}
}

// reconnect walks the backoff schedule. A successful dial resets the
// schedule for the next disconnect.
func (m *Manager) reconnect(ctx context.Context, prev *gorillawebsocket.Conn) (*gorillawebsocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if err := waitWithContext(ctx, m.BackoffDelay(attempt)); err != nil {
			return nil, err
		}
		if m.isStale(prev) {
			return nil, fmt.Errorf("stream: manager is closed")
		}

		conn, err := m.dial(ctx)
		if err != nil {
			lastErr = err
			m.logger.Info("stream reconnect attempt failed",
				"attempt", attempt,
				"max_attempts", m.maxAttempts,
				"error", err,
			)
			continue
		}
		if err := m.sendRequest(conn); err != nil {
			_ = conn.Close()
			lastErr = err
			continue
		}

		m.mu.Lock()
		if m.closed || m.conn != prev {
			m.mu.Unlock()
			_ = conn.Close()
			return nil, fmt.Errorf("stream: manager is closed")
		}
		m.conn = conn
		prev = conn
		m.mu.Unlock()

		recordCounter(ctx, m.metrics, "client.stream.reconnect", 1)
		return conn, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("stream: reconnect failed")
	}
	return nil, fmt.Errorf("stream: reconnect attempts exhausted: %w", lastErr)
}

func (m *Manager) dial(ctx context.Context) (*gorillawebsocket.Conn, error) {
	header := http.Header{}
	if m.source != nil {
		record, err := m.source.EnsureFresh(ctx)
		if err != nil {
			return nil, err
		}
		scheme := strings.TrimSpace(record.TokenType)
		if scheme == "" {
			scheme = "Bearer"
		}
		header.Set("Authorization", scheme+" "+strings.TrimSpace(record.AccessToken))
	}

	conn, response, err := m.dialer.DialContext(ctx, m.url, header)
	if err != nil {
		statusCode := 0
		if response != nil {
			statusCode = response.StatusCode
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "stream: dial failed").
			WithCode(http.StatusBadGateway).
			WithTextCode(core.ClientErrorStreamDisconnected).
			WithMetadata(map[string]any{"url": m.url, "status_code": statusCode})
	}
	return conn, nil
}

// requestEnvelope is the frame written on open and after every reconnect:
// the retained caller request wrapped as {"type":"request","payload":...}.
type requestEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func encodeRequest(request []byte) ([]byte, error) {
	payload := json.RawMessage(request)
	if !json.Valid(request) {
		encoded, err := json.Marshal(string(request))
		if err != nil {
			return nil, err
		}
		payload = encoded
	}
	return json.Marshal(requestEnvelope{Type: "request", Payload: payload})
}

func (m *Manager) sendRequest(conn *gorillawebsocket.Conn) error {
	m.mu.Lock()
	request := append([]byte(nil), m.request...)
	m.mu.Unlock()
	if len(request) == 0 {
		return nil
	}
	frame, err := encodeRequest(request)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "stream: encode subscription request").
			WithTextCode(core.ClientErrorBadInput)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err := conn.WriteMessage(gorillawebsocket.TextMessage, frame); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "stream: send subscription request").
			WithCode(http.StatusBadGateway).
			WithTextCode(core.ClientErrorStreamDisconnected)
	}
	return nil
}

// isStale reports whether the reader that owns conn should stop: either the
// manager closed, or a later Connect replaced the connection out from under
// this reader.
func (m *Manager) isStale(conn *gorillawebsocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed || m.conn != conn
}

func recordCounter(ctx context.Context, metrics core.MetricsRecorder, name string, value int64) {
	if metrics == nil {
		return
	}
	metrics.IncCounter(ctx, name, value, nil)
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
