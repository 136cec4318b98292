package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-client/core"
)

const maxRefreshResponseBytes int64 = 1 << 20 // 1 MiB

// HTTPRefreshTransport exchanges a refresh token for new token material over
// HTTP. The exchange goes to the primary path first; a not-found-class answer
// (404 or 410) triggers exactly one fallback attempt against the legacy path,
// for backends that predate the current route layout.
type HTTPRefreshTransport struct {
	client      core.HTTPDoer
	logger      core.Logger
	baseURL     string
	primaryPath string
	legacyPath  string
}

type HTTPRefreshTransportConfig struct {
	Client      core.HTTPDoer
	Logger      core.Logger
	BaseURL     string
	PrimaryPath string
	LegacyPath  string
}

type refreshRequestPayload struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponsePayload struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken,omitempty"`
	TokenType        string `json:"tokenType,omitempty"`
	ExpiresInSeconds int64  `json:"expiresInSeconds,omitempty"`
}

func NewHTTPRefreshTransport(cfg HTTPRefreshTransportConfig) (*HTTPRefreshTransport, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, transportError(
			"transport: refresh transport requires a base url",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			nil,
		)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	primaryPath := strings.TrimSpace(cfg.PrimaryPath)
	if primaryPath == "" {
		primaryPath = core.DefaultConfig().Refresh.PrimaryPath
	}
	return &HTTPRefreshTransport{
		client:      client,
		logger:      logger,
		baseURL:     baseURL,
		primaryPath: primaryPath,
		legacyPath:  strings.TrimSpace(cfg.LegacyPath),
	}, nil
}

func (t *HTTPRefreshTransport) Exchange(ctx context.Context, refreshToken string) (core.RefreshOutcome, error) {
	if t == nil || t.client == nil {
		return core.RefreshOutcome{}, transportError(
			"transport: refresh transport requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.RefreshOutcome{}, transportError(
			"transport: refresh token is required",
			goerrors.CategoryAuth,
			http.StatusUnauthorized,
			nil,
		)
	}

	outcome, err := t.exchangeAt(ctx, t.primaryPath, refreshToken)
	if err == nil {
		return outcome, nil
	}
	if t.legacyPath == "" || !core.IsNotFoundClass(err) {
		return core.RefreshOutcome{}, err
	}

	t.logger.Info("refresh endpoint not found, retrying legacy path",
		"primary_path", t.primaryPath,
		"legacy_path", t.legacyPath,
	)
	return t.exchangeAt(ctx, t.legacyPath, refreshToken)
}

func (t *HTTPRefreshTransport) exchangeAt(ctx context.Context, path string, refreshToken string) (core.RefreshOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := t.baseURL + "/" + strings.TrimLeft(path, "/")

	payload, err := json.Marshal(refreshRequestPayload{RefreshToken: refreshToken})
	if err != nil {
		return core.RefreshOutcome{}, transportWrapError(
			err,
			goerrors.CategoryInternal,
			"transport: encode refresh request",
			http.StatusInternalServerError,
			nil,
		)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return core.RefreshOutcome{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create refresh request",
			http.StatusBadRequest,
			map[string]any{"url": endpoint},
		)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	startedAt := time.Now().UTC()
	httpRes, err := t.client.Do(httpReq)
	if err != nil {
		return core.RefreshOutcome{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute refresh request",
			http.StatusBadGateway,
			map[string]any{"url": endpoint},
		)
	}
	defer httpRes.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpRes.Body, maxRefreshResponseBytes))
	if err != nil {
		return core.RefreshOutcome{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read refresh response",
			http.StatusBadGateway,
			map[string]any{"url": endpoint, "status_code": httpRes.StatusCode},
		)
	}

	if httpRes.StatusCode != http.StatusOK {
		return core.RefreshOutcome{}, t.mapRefreshFailure(httpRes.StatusCode, body, endpoint)
	}

	decoded := refreshResponsePayload{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return core.RefreshOutcome{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: decode refresh response",
			http.StatusBadGateway,
			map[string]any{"url": endpoint},
		)
	}
	if strings.TrimSpace(decoded.AccessToken) == "" {
		return core.RefreshOutcome{}, transportError(
			"transport: refresh response carried no access token",
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"url": endpoint},
		)
	}

	t.logger.Info("refresh exchange completed",
		"path", path,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
	return core.RefreshOutcome{
		AccessToken:  strings.TrimSpace(decoded.AccessToken),
		RefreshToken: strings.TrimSpace(decoded.RefreshToken),
		TokenType:    strings.TrimSpace(decoded.TokenType),
		ExpiresIn:    time.Duration(decoded.ExpiresInSeconds) * time.Second,
	}, nil
}

func (t *HTTPRefreshTransport) mapRefreshFailure(statusCode int, body []byte, endpoint string) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	metadata := map[string]any{"url": endpoint, "status_code": statusCode}

	switch {
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return goerrors.New("transport: refresh endpoint not found", goerrors.CategoryNotFound).
			WithCode(statusCode).
			WithTextCode(core.ClientErrorExternalFailure).
			WithMetadata(metadata)
	case statusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(snippet), "invalid_grant"),
		statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		return goerrors.New("transport: refresh token was rejected", goerrors.CategoryAuth).
			WithCode(statusCode).
			WithTextCode(core.ClientErrorRefreshRejected).
			WithMetadata(metadata)
	case statusCode >= 500:
		return transportError(
			"transport: refresh backend failure",
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			metadata,
		)
	default:
		return transportError(
			"transport: unexpected refresh response",
			goerrors.CategoryExternal,
			statusCode,
			metadata,
		)
	}
}

var _ core.RefreshTransport = (*HTTPRefreshTransport)(nil)
