package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-client/core"
)

func newRefreshTransport(t *testing.T, server *httptest.Server) *HTTPRefreshTransport {
	t.Helper()
	transport, err := NewHTTPRefreshTransport(HTTPRefreshTransportConfig{
		Client:      server.Client(),
		BaseURL:     server.URL,
		PrimaryPath: "/api/auth/refresh",
		LegacyPath:  "/auth/refresh",
	})
	if err != nil {
		t.Fatalf("expected transport, got error: %v", err)
	}
	return transport
}

func TestHTTPRefreshTransport_Exchange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/auth/refresh" {
			t.Fatalf("expected primary path, got %s", r.URL.Path)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode refresh payload: %v", err)
		}
		if payload["refreshToken"] != "refresh-1" {
			t.Fatalf("expected refresh token in payload, got %q", payload["refreshToken"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken":"new-access","refreshToken":"refresh-2","expiresInSeconds":900}`))
	}))
	defer server.Close()

	transport := newRefreshTransport(t, server)
	outcome, err := transport.Exchange(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("perform exchange: %v", err)
	}
	if outcome.AccessToken != "new-access" {
		t.Fatalf("expected access token, got %q", outcome.AccessToken)
	}
	if outcome.RefreshToken != "refresh-2" {
		t.Fatalf("expected rotated refresh token, got %q", outcome.RefreshToken)
	}
	if outcome.ExpiresIn != 15*time.Minute {
		t.Fatalf("expected 15m expiry, got %s", outcome.ExpiresIn)
	}
}

func TestHTTPRefreshTransport_LegacyPathFallback(t *testing.T) {
	var primaryHits, legacyHits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/refresh":
			atomic.AddInt32(&primaryHits, 1)
			w.WriteHeader(http.StatusNotFound)
		case "/auth/refresh":
			atomic.AddInt32(&legacyHits, 1)
			_, _ = w.Write([]byte(`{"accessToken":"legacy-access","expiresInSeconds":600}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	transport := newRefreshTransport(t, server)
	outcome, err := transport.Exchange(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("perform exchange: %v", err)
	}
	if outcome.AccessToken != "legacy-access" {
		t.Fatalf("expected legacy access token, got %q", outcome.AccessToken)
	}
	if atomic.LoadInt32(&primaryHits) != 1 || atomic.LoadInt32(&legacyHits) != 1 {
		t.Fatalf("expected one hit per endpoint, got primary=%d legacy=%d", primaryHits, legacyHits)
	}
}

func TestHTTPRefreshTransport_LegacyFallbackIsSingleShot(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	transport := newRefreshTransport(t, server)
	_, err := transport.Exchange(context.Background(), "refresh-1")
	if err == nil {
		t.Fatalf("expected exchange failure")
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected exactly two attempts, got %d", hits)
	}
}

func TestHTTPRefreshTransport_RejectionMapsToAuth(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		body       string
	}{
		{name: "unauthorized", statusCode: http.StatusUnauthorized, body: `{"error":"expired"}`},
		{name: "forbidden", statusCode: http.StatusForbidden, body: `{}`},
		{name: "invalid grant", statusCode: http.StatusBadRequest, body: `{"error":"invalid_grant"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			transport := newRefreshTransport(t, server)
			_, err := transport.Exchange(context.Background(), "refresh-1")
			if err == nil {
				t.Fatalf("expected rejection error")
			}
			var richErr *goerrors.Error
			if !goerrors.As(err, &richErr) {
				t.Fatalf("expected rich error, got: %v", err)
			}
			if richErr.Category != goerrors.CategoryAuth {
				t.Fatalf("expected auth category, got %v", richErr.Category)
			}
			if richErr.TextCode != core.ClientErrorRefreshRejected {
				t.Fatalf("expected rejection text code, got %q", richErr.TextCode)
			}
		})
	}
}

func TestHTTPRefreshTransport_BackendFailureMapsToExternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	transport := newRefreshTransport(t, server)
	_, err := transport.Exchange(context.Background(), "refresh-1")
	if err == nil {
		t.Fatalf("expected backend failure")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got: %v", err)
	}
	if core.IsRefreshRejected(err) {
		t.Fatalf("expected transient failure, not rejection")
	}
}

func TestHTTPRefreshTransport_RequiresRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("expected no request for blank token")
	}))
	defer server.Close()

	transport := newRefreshTransport(t, server)
	if _, err := transport.Exchange(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for blank refresh token")
	}
}

func TestHTTPRefreshTransport_EmptyAccessTokenFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accessToken":""}`))
	}))
	defer server.Close()

	transport := newRefreshTransport(t, server)
	if _, err := transport.Exchange(context.Background(), "refresh-1"); err == nil {
		t.Fatalf("expected error for empty access token")
	}
}
