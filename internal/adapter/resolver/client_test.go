package resolver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/domain"
)

func TestClientResolve(t *testing.T) {
	var gotReq resolveRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(Resolution{
			Reference:   gotReq.Reference,
			ResolvedURL: "https://signed.example/abc?sig=xyz",
			TTLSeconds:  1800,
			IssuedAt:    time.Now().Unix(),
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		Endpoint:      srv.URL,
		IssuerContext: "tenant-1",
		TTLSeconds:    1800,
	}, slog.Default())

	res, err := c.Resolve(context.Background(), "storage://bucket/abc")
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/abc?sig=xyz", res.ResolvedURL)
	assert.Equal(t, 1800, res.TTLSeconds)

	assert.Equal(t, "storage://bucket/abc", gotReq.Reference)
	assert.Equal(t, "tenant-1", gotReq.IssuerContext)
	assert.Equal(t, 1800, gotReq.TTLSeconds)
}

func TestClientResolveServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, slog.Default())

	_, err := c.Resolve(context.Background(), "storage://bucket/abc")
	require.Error(t, err)
	assert.Equal(t, domain.CodeResolveFailed, domain.ErrorCodeOf(err))
}

func TestClientResolveRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, slog.Default())

	_, err := c.Resolve(context.Background(), "storage://bucket/abc")
	require.Error(t, err)
	assert.Equal(t, domain.CodeRateLimit, domain.ErrorCodeOf(err))
}

func TestClientCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		Endpoint:           srv.URL,
		BreakerMaxFailures: 3,
	}, slog.Default())

	for i := 0; i < 3; i++ {
		_, err := c.Resolve(context.Background(), "storage://bucket/abc")
		require.Error(t, err)
	}

	// The breaker is open now: the call fails fast without reaching the
	// server.
	_, err := c.Resolve(context.Background(), "storage://bucket/abc")
	require.Error(t, err)
	assert.Equal(t, domain.CodeResolverUnavailable, domain.ErrorCodeOf(err))
}

func TestClientEmptyResolvedURLRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(Resolution{Reference: "storage://bucket/abc"})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, slog.Default())

	_, err := c.Resolve(context.Background(), "storage://bucket/abc")
	require.Error(t, err)
	assert.Equal(t, domain.CodeResolveFailed, domain.ErrorCodeOf(err))
}
