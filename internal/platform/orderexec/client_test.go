package orderexec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantavo/poolpilot/internal/domain"
)

func TestClient_CreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders", r.URL.Path)

		var body createOrderPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pool-1", body.PoolID)
		assert.Equal(t, 0.05, body.TargetPrice)
		assert.True(t, body.IsBuy)
		assert.Equal(t, "key-1", body.ClientKey)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(orderPayload{ID: "ord-1", Status: "pending"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	handle, err := c.CreateOrder(context.Background(), domain.OrderRequest{
		PoolID:      "pool-1",
		TargetPrice: 0.05,
		IsBuy:       true,
		Amount:      100,
		ClientKey:   "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", handle.ID)
	assert.Equal(t, domain.OrderStatusPending, handle.Status)
}

func TestClient_CreateOrderDuplicateKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "client key already used", http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.CreateOrder(context.Background(), domain.OrderRequest{ClientKey: "key-1"})
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
}

func TestClient_GetOrderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_AwaitTerminal(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "executing"
		if polls.Add(1) >= 3 {
			status = "completed"
		}
		json.NewEncoder(w).Encode(orderPayload{ID: "ord-1", Status: status, ExecutedPrice: 0.05})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	order, err := c.AwaitTerminal(context.Background(), "ord-1", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.Equal(t, 0.05, order.ExecutedPrice)
	assert.GreaterOrEqual(t, polls.Load(), int64(3))
}

func TestClient_AwaitTerminalTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(orderPayload{ID: "ord-1", Status: "executing"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	order, err := c.AwaitTerminal(context.Background(), "ord-1", 700*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// The last observed state is returned even on timeout.
	assert.Equal(t, domain.OrderStatusExecuting, order.Status)
}
