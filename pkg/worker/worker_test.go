package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerRegisterAndHeartbeat(t *testing.T) {
	var registered, heartbeats int32
	var mu sync.Mutex
	var firstActiveHeartbeat *heartbeatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/nodes:register":
			atomic.AddInt32(&registered, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/nodes/node-1:heartbeat":
			atomic.AddInt32(&heartbeats, 1)
			var hb heartbeatRequest
			_ = json.NewDecoder(r.Body).Decode(&hb)
			mu.Lock()
			if firstActiveHeartbeat == nil && hb.Status == "active" {
				firstActiveHeartbeat = &hb
			}
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	leaseClient := newFakeLeaseClient()
	cfg := Config{NodeID: "node-1", MaxConcurrentLeases: 3, HeartbeatInterval: 20 * time.Millisecond, ControlPlaneHTTPAddr: srv.URL}
	w := NewWorker(cfg, leaseClient, newFakeInput(), &fakeOutput{}, nil)

	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&registered))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstActiveHeartbeat != nil
	}, time.Second, 5*time.Millisecond)
	w.Stop(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, firstActiveHeartbeat.AvailableSlots)
}

func TestWorkerRegisterFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := Config{NodeID: "node-2", ControlPlaneHTTPAddr: srv.URL}
	w := NewWorker(cfg, newFakeLeaseClient(), newFakeInput(), &fakeOutput{}, nil)

	err := w.Start(context.Background())
	assert.Error(t, err)
}

func TestSleepBackoffHonorsStop(t *testing.T) {
	cfg := Config{NodeID: "node-3", ControlPlaneHTTPAddr: "http://unused.invalid"}
	w := NewWorker(cfg, newFakeLeaseClient(), newFakeInput(), &fakeOutput{}, nil)

	close(w.stopCh)
	ok := w.sleepBackoff(10)
	assert.False(t, ok)
}
