package dexscreener

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pairsJSON = `{"pairs":[
	{"chainId":"solana","pairAddress":"p1","baseToken":{"address":"0xABC","name":"Token One","symbol":"TOK1"},
	 "liquidity":{"usd":1000},"volume":{"h24":50},"fdv":90000,"pairCreatedAt":1700000000000,
	 "txns":{"h24":{"buys":10,"sells":30}}},
	{"chainId":"solana","pairAddress":"p2","baseToken":{"address":"0xABC","name":"Token One","symbol":"TOK1"},
	 "liquidity":{"usd":25000},"volume":{"h24":900},"fdv":90000,"info":{"imageUrl":"https://img/tok1.png"}}
]}`

func newTestClient(url string) *Client {
	c := NewClient(url, 2*time.Second, 3)
	c.backoff = time.Millisecond
	return c
}

func TestTokenPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/tokens/0xABC", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(pairsJSON))
	}))
	defer srv.Close()

	pairs, err := newTestClient(srv.URL).TokenPairs(context.Background(), "0xABC")
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "TOK1", pairs[0].BaseToken.Symbol)
	assert.Equal(t, 30, pairs[0].Txns.H24.Sells)
	assert.Equal(t, time.UnixMilli(1700000000000), pairs[0].CreatedAt())
	assert.True(t, pairs[1].CreatedAt().IsZero())
}

func TestTopPairPicksDeepestLiquidity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pairsJSON))
	}))
	defer srv.Close()

	pair, err := newTestClient(srv.URL).TopPair(context.Background(), "0xABC")
	require.NoError(t, err)
	assert.Equal(t, "p2", pair.PairAddress)
	assert.Equal(t, "https://img/tok1.png", pair.Info.ImageURL)
}

func TestTokenPairsNoPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"schemaVersion":"1.0.0","pairs":null}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).TokenPairs(context.Background(), "0xDEAD")
	assert.ErrorIs(t, err, ErrNoPairs)
}

func TestTokenPairsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(pairsJSON))
	}))
	defer srv.Close()

	pairs, err := newTestClient(srv.URL).TokenPairs(context.Background(), "0xABC")
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTokenPairsGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).TokenPairs(context.Background(), "0xABC")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoPairs))
	assert.Equal(t, int32(3), calls.Load())
}

func TestTokenPairsClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).TokenPairs(context.Background(), "0xABC")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTokenPairsMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pairs":[`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).TokenPairs(context.Background(), "0xABC")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoPairs)
}

func TestTokenPairsEmptyAddress(t *testing.T) {
	_, err := NewClient("http://unused", time.Second, 1).TokenPairs(context.Background(), "  ")
	assert.Error(t, err)
}
