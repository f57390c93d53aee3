package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSinkDeliversOnFirstSuccess(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPSinkConfig{Endpoint: srv.URL, MaxRetries: 2, BaseDelayMs: 1, RateLimitPerSec: 1000})
	err := sink.Deliver(context.Background(), "run-1-msg-1", []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, "run-1-msg-1", gotKey)
}

func TestHTTPSinkRetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPSinkConfig{Endpoint: srv.URL, MaxRetries: 3, BaseDelayMs: 1, MaxRetryDelayMs: 5, RateLimitPerSec: 1000})
	err := sink.Deliver(context.Background(), "run-2-msg-1", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestHTTPSinkDoesNotRetryOn4xx(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPSinkConfig{Endpoint: srv.URL, MaxRetries: 3, BaseDelayMs: 1, RateLimitPerSec: 1000})
	err := sink.Deliver(context.Background(), "run-3-msg-1", []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestHTTPSinkGivesUpAfterMaxRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPSinkConfig{Endpoint: srv.URL, MaxRetries: 2, BaseDelayMs: 1, MaxRetryDelayMs: 5, RateLimitPerSec: 1000})
	err := sink.Deliver(context.Background(), "run-4-msg-1", []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestHTTPSinkHonorsContextCancellationDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPSinkConfig{Endpoint: srv.URL, MaxRetries: 5, BaseDelayMs: 200, MaxRetryDelayMs: 5000, RateLimitPerSec: 1000})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sink.Deliver(ctx, "run-5-msg-1", []byte(`{}`))
	assert.Error(t, err)
}
