package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-client/core"
)

const KindREST = "rest"

const defaultClientTimeout = 30 * time.Second
const defaultResponseBodyLimit int64 = 10 << 20 // 10 MiB

// ForceRefresher is the write side of the credential source: a refresh that
// runs regardless of the locally recorded expiry. The authenticated client
// uses it after the backend rejects a signed request.
type ForceRefresher interface {
	ForceRefresh(ctx context.Context) (core.CredentialRecord, error)
}

// AuthenticatedClient executes HTTP requests with the active credential
// attached. Requests matching an excluded path go out unsigned; everything
// else is signed, and a 401 response triggers exactly one refresh-and-retry
// cycle before the failure is surfaced.
type AuthenticatedClient struct {
	client               core.HTTPDoer
	source               core.CredentialSource
	signer               core.Signer
	signals              core.AuthSignalBus
	logger               core.Logger
	baseURL              string
	excludedPaths        []string
	defaultHeaders       map[string]string
	maxResponseBodyBytes int64
}

type AuthenticatedClientConfig struct {
	Client               core.HTTPDoer
	Source               core.CredentialSource
	Signer               core.Signer
	Signals              core.AuthSignalBus
	Logger               core.Logger
	BaseURL              string
	ExcludedPaths        []string
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewAuthenticatedClient(cfg AuthenticatedClientConfig) (*AuthenticatedClient, error) {
	if cfg.Source == nil {
		return nil, transportError(
			"transport: authenticated client requires a credential source",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"adapter": KindREST},
		)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	signer := cfg.Signer
	if signer == nil {
		signer = core.BearerTokenSigner{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	maxBody := cfg.MaxResponseBodyBytes
	if maxBody <= 0 {
		maxBody = defaultResponseBodyLimit
	}
	headers := make(map[string]string, len(cfg.DefaultHeaders))
	for key, value := range cfg.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return &AuthenticatedClient{
		client:               client,
		source:               cfg.Source,
		signer:               signer,
		signals:              cfg.Signals,
		logger:               logger,
		baseURL:              strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		excludedPaths:        append([]string(nil), cfg.ExcludedPaths...),
		defaultHeaders:       headers,
		maxResponseBodyBytes: maxBody,
	}, nil
}

func (*AuthenticatedClient) Kind() string {
	return KindREST
}

// Do executes the request. Signing and retry state live entirely in this
// call; nothing about the request is cached on the client.
func (c *AuthenticatedClient) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if c == nil || c.client == nil {
		return core.TransportResponse{}, transportError(
			"transport: authenticated client requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"adapter": KindREST},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	parsedURL, err := c.resolveURL(req.URL)
	if err != nil {
		return core.TransportResponse{}, err
	}
	query := parsedURL.Query()
	for key, value := range req.Query {
		if strings.TrimSpace(key) == "" {
			continue
		}
		query.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	parsedURL.RawQuery = query.Encode()

	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	excluded := c.isExcludedPath(parsedURL.Path)
	record := core.CredentialRecord{}
	sign := false
	if !excluded {
		// A missing credential does not block the call: the request goes out
		// unsigned and the backend decides. Only a present credential is
		// freshened and attached.
		_, present, readErr := c.source.CurrentCredential(requestCtx)
		if readErr != nil {
			return core.TransportResponse{}, readErr
		}
		if present {
			record, err = c.resolveCredential(requestCtx)
			if err != nil {
				return core.TransportResponse{}, err
			}
			sign = true
		}
	}

	response, err := c.execute(requestCtx, req, parsedURL, record, sign)
	if err != nil {
		return core.TransportResponse{}, err
	}
	if excluded || response.StatusCode != http.StatusUnauthorized {
		return response, nil
	}

	// One refresh-and-retry cycle: the backend's rejection outranks the
	// locally recorded expiry.
	refreshed, refreshErr := c.forceRefresh(requestCtx)
	if refreshErr != nil {
		return core.TransportResponse{}, refreshErr
	}
	retried, err := c.execute(requestCtx, req, parsedURL, refreshed, true)
	if err != nil {
		return core.TransportResponse{}, err
	}
	if retried.StatusCode == http.StatusUnauthorized {
		c.publishAuthLoss(requestCtx, parsedURL.Path)
		return core.TransportResponse{}, transportError(
			"transport: request unauthorized after credential refresh",
			goerrors.CategoryAuth,
			http.StatusUnauthorized,
			map[string]any{"adapter": KindREST, "path": parsedURL.Path},
		)
	}
	return retried, nil
}

func (c *AuthenticatedClient) execute(
	ctx context.Context,
	req core.TransportRequest,
	parsedURL *url.URL,
	record core.CredentialRecord,
	sign bool,
) (core.TransportResponse, error) {
	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, parsedURL.String(), bytes.NewReader(req.Body))
	if err != nil {
		return core.TransportResponse{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"adapter": KindREST, "method": method, "url": parsedURL.String()},
		)
	}
	for key, value := range c.defaultHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if strings.TrimSpace(req.Idempotency) != "" {
		httpReq.Header.Set("Idempotency-Key", strings.TrimSpace(req.Idempotency))
	}
	if sign {
		if signErr := c.signer.Sign(ctx, httpReq, record); signErr != nil {
			return core.TransportResponse{}, transportWrapError(
				signErr,
				goerrors.CategoryAuth,
				"transport: sign http request",
				http.StatusUnauthorized,
				map[string]any{"adapter": KindREST, "path": parsedURL.Path},
			)
		}
	}

	startedAt := time.Now().UTC()
	httpRes, err := c.client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"adapter": KindREST, "method": method, "url": parsedURL.String()},
		)
	}
	defer httpRes.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpRes.Body, c.maxResponseBodyBytes+1))
	if err != nil {
		return core.TransportResponse{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"adapter": KindREST, "status_code": httpRes.StatusCode},
		)
	}
	if int64(len(body)) > c.maxResponseBodyBytes {
		return core.TransportResponse{}, transportError(
			"transport: response body exceeds configured limit",
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{
				"adapter":          KindREST,
				"status_code":      httpRes.StatusCode,
				"response_limit_b": c.maxResponseBodyBytes,
			},
		)
	}

	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			"duration_ms": time.Since(startedAt).Milliseconds(),
			"kind":        KindREST,
		},
	}, nil
}

func (c *AuthenticatedClient) resolveCredential(ctx context.Context) (core.CredentialRecord, error) {
	record, err := c.source.EnsureFresh(ctx)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return core.CredentialRecord{}, err
		}
		return core.CredentialRecord{}, transportWrapError(
			err,
			goerrors.CategoryAuth,
			"transport: resolve credential",
			http.StatusUnauthorized,
			map[string]any{"adapter": KindREST},
		)
	}
	return record, nil
}

func (c *AuthenticatedClient) forceRefresh(ctx context.Context) (core.CredentialRecord, error) {
	if refresher, ok := c.source.(ForceRefresher); ok {
		return refresher.ForceRefresh(ctx)
	}
	return c.source.EnsureFresh(ctx)
}

func (c *AuthenticatedClient) publishAuthLoss(ctx context.Context, path string) {
	if c.signals == nil {
		return
	}
	signal := core.NewAuthSignal(core.AuthLossUnauthorizedRetry, map[string]any{"path": path})
	if err := c.signals.Publish(ctx, signal); err != nil {
		c.logger.Error("auth loss signal publish failed", "error", err, "path", path)
	}
}

func (c *AuthenticatedClient) resolveURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, transportError(
			"transport: request url is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"adapter": KindREST},
		)
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") && c.baseURL != "" {
		raw = c.baseURL + "/" + strings.TrimLeft(raw, "/")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid request url",
			http.StatusBadRequest,
			map[string]any{"adapter": KindREST, "url": raw},
		)
	}
	if parsed.String() == "" {
		return nil, transportError(
			"transport: request url is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"adapter": KindREST},
		)
	}
	return parsed, nil
}

// isExcludedPath matches the request path against the exclusion list. A
// pattern matches on path equality, suffix, or substring, so both exact
// endpoints and versioned variants of them stay unsigned.
func (c *AuthenticatedClient) isExcludedPath(path string) bool {
	path = strings.TrimSpace(path)
	if path == "" {
		return false
	}
	for _, pattern := range c.excludedPaths {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if path == pattern || strings.HasSuffix(path, pattern) || strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) == 0 {
			flat[key] = ""
			continue
		}
		flat[key] = strings.Join(values, ",")
	}
	return flat
}
