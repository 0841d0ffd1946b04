package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/ethereum/history", r.URL.Path)
		assert.Equal(t, "03-01-2024", r.URL.Query().Get("date"))
		assert.Equal(t, "secret", r.Header.Get("x-cg-pro-api-key"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"ethereum","market_data":{"current_price":{"usd":2210.53,"eur":2000.1}}}`))
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{Endpoints: []string{server.URL}, APIKey: "secret"})
	p, err := client.DailyPrice(context.Background(), "ethereum", time.Date(2024, 1, 3, 17, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, p.Equal(decimal.RequireFromString("2210.53")))
}

func TestDailyPriceMissingMarketData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"dead-coin"}`))
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{Endpoints: []string{server.URL}})
	_, err := client.DailyPrice(context.Background(), "dead-coin", time.Now())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBreakerFailsOverToNextEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"market_data":{"current_price":{"usd":1}}}`))
	}))
	defer good.Close()

	client := NewHTTPWithOpts(Opts{Endpoints: []string{bad.URL, good.URL}, BreakerFailures: 1, RPS: 1000, Burst: 1000})
	for i := 0; i < 3; i++ {
		p, err := client.DailyPrice(context.Background(), "usd-coin", time.Now())
		require.NoError(t, err)
		require.True(t, p.Equal(decimal.NewFromInt(1)))
	}
	require.False(t, client.breakers.allow(bad.URL))
}

func TestTokenBucketRefills(t *testing.T) {
	b := newTokenBucket(1000, 2)
	require.Zero(t, b.take())
	require.Zero(t, b.take())
	require.Positive(t, b.take())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.wait(ctx))
}

func TestBreakerHalfOpen(t *testing.T) {
	br := newBreakers(2, 50*time.Millisecond)
	br.failure("a")
	require.True(t, br.allow("a"))
	br.failure("a")
	require.False(t, br.allow("a"))

	time.Sleep(60 * time.Millisecond)
	require.True(t, br.allow("a"))
	br.failure("a")
	require.False(t, br.allow("a"))

	br.success("b")
	require.True(t, br.allow("b"))
}
