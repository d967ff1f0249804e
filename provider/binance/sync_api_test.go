package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/driftwood-labs/depthsync/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncAPI_FetchSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "XMRBTC", r.URL.Query().Get("symbol"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(depthResponse{
			LastUpdateID: 42,
			Bids:         [][]string{{"0.010", "5"}, {"0.009", "2"}},
			Asks:         [][]string{{"0.011", "1"}},
		})
	}))
	defer server.Close()

	api := NewSyncAPI(server.URL)
	symbol, err := market.New("xmr", "btc")
	require.NoError(t, err)

	snapshot, err := api.FetchSnapshot(context.Background(), symbol, 3)
	require.NoError(t, err)

	assert.Equal(t, uint64(42), snapshot.LastUpdateID)
	require.Len(t, snapshot.Bids, 2)
	require.Len(t, snapshot.Asks, 1)
	assert.True(t, snapshot.Bids[0].Price.Equal(mustDecimal(t, "0.010")))
	assert.True(t, snapshot.Asks[0].Qty.Equal(mustDecimal(t, "1")))
}

func TestSyncAPI_FetchSnapshot_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	api := NewSyncAPI(server.URL)
	symbol, err := market.New("btc", "usdt")
	require.NoError(t, err)

	_, err = api.FetchSnapshot(context.Background(), symbol, 10)
	assert.Error(t, err)
}

func TestSyncAPI_FetchSnapshot_MalformedLevel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(depthResponse{
			LastUpdateID: 1,
			Bids:         [][]string{{"not-a-number", "1"}},
		})
	}))
	defer server.Close()

	api := NewSyncAPI(server.URL)
	symbol, err := market.New("btc", "usdt")
	require.NoError(t, err)

	_, err = api.FetchSnapshot(context.Background(), symbol, 10)
	assert.Error(t, err)
}
