package httpclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCBConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      5 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

func failingServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`down`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCircuitBreaker_DefaultConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("baas")
	assert.Equal(t, "baas", cfg.Name)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 60*time.Second, cfg.Interval)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 0.5, cfg.FailureRatio)
	assert.Equal(t, uint32(5), cfg.MinRequests)
}

func TestCircuitBreaker_ClosedState_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	cb := NewCircuitBreakerClient(New(fastRetryConfig(0)), testCBConfig("cb-closed"), testLogger())

	resp, err := send(context.Background(), cb, http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gobreaker.StateClosed, cb.breaker.State())
}

func TestCircuitBreaker_TripsAndRejectsWithoutReachingServer(t *testing.T) {
	var hits atomic.Int32
	server := failingServer(t, &hits)

	cb := NewCircuitBreakerClient(New(fastRetryConfig(0)), testCBConfig("cb-trip"), testLogger())

	for i := 0; i < 3; i++ {
		_, err := send(context.Background(), cb, http.MethodGet, server.URL, http.NoBody)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server error 500")
	}
	assert.Equal(t, gobreaker.StateOpen, cb.breaker.State())

	before := hits.Load()
	for i := 0; i < 3; i++ {
		_, err := send(context.Background(), cb, http.MethodGet, server.URL, http.NoBody)
		assert.ErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, before, hits.Load())
}

func TestCircuitBreaker_HalfOpenToClosedRecovery(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	cfg := testCBConfig("cb-recovery")
	cfg.Timeout = 100 * time.Millisecond
	cb := NewCircuitBreakerClient(New(fastRetryConfig(0)), cfg, testLogger())

	for i := 0; i < 3; i++ {
		_, _ = send(context.Background(), cb, http.MethodGet, server.URL, http.NoBody)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.breaker.State())

	time.Sleep(150 * time.Millisecond)
	failing.Store(false)

	resp, err := send(context.Background(), cb, http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, gobreaker.StateClosed, cb.breaker.State())
}

func TestCircuitBreaker_4xxNotCountedAsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"P0001","message":"insufficient stock"}`))
	}))
	defer server.Close()

	cb := NewCircuitBreakerClient(New(fastRetryConfig(0)), testCBConfig("cb-4xx"), testLogger())

	for i := 0; i < 5; i++ {
		resp, err := send(context.Background(), cb, http.MethodGet, server.URL, http.NoBody)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, gobreaker.StateClosed, cb.breaker.State())
}

func TestCircuitBreaker_CanceledRequestsDoNotTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	cb := NewCircuitBreakerClient(New(fastRetryConfig(0)), testCBConfig("cb-cancel"), testLogger())

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := send(ctx, cb, http.MethodGet, server.URL, http.NoBody)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.breaker.State())
}

func TestCircuitBreaker_WrapsAnyDoer(t *testing.T) {
	var hits atomic.Int32
	server := failingServer(t, &hits)

	inner := NewCircuitBreakerClient(New(fastRetryConfig(0)), testCBConfig("cb-inner"), testLogger())
	var d Doer = NewCircuitBreakerClient(inner, testCBConfig("cb-outer"), testLogger())

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	_, err = d.Do(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}
