package dex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantavo/poolpilot/internal/domain"
)

func TestClient_GetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/pools/pool-1/price", r.URL.Path)
		assert.Equal(t, "TOKEN", r.URL.Query().Get("token"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pool_id":"pool-1","token":"TOKEN","price":0.42,"liquidity":100000,"timestamp":1700000000}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1", "test-key")
	price, err := c.GetPrice(context.Background(), "pool-1", "TOKEN")
	require.NoError(t, err)
	assert.Equal(t, 0.42, price)
}

func TestClient_GetPriceUnknownPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.GetPrice(context.Background(), "missing", "TOKEN")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestClient_GetPriceZeroIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pool_id":"pool-1","token":"TOKEN","price":0}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.GetPrice(context.Background(), "pool-1", "TOKEN")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestClient_GetPriceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream indexer down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.GetPrice(context.Background(), "pool-1", "TOKEN")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}
