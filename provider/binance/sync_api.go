// Package binance implements the provider side of the spec for Binance:
// a REST snapshot fetcher and a reconnecting websocket depth-diff stream.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/driftwood-labs/depthsync/market"
	"github.com/driftwood-labs/depthsync/orderbook"
	"github.com/shopspring/decimal"
)

var logger = log.New(os.Stdout, "[binance] ", log.LstdFlags)

const defaultRESTEndpoint = "https://api.binance.com"

// SyncAPI implements recovery.SnapshotFetcher over Binance's REST depth
// endpoint.
type SyncAPI struct {
	endpoint string
	client   *http.Client
}

// NewSyncAPI builds a SyncAPI against endpoint (pass "" for the default
// production endpoint).
func NewSyncAPI(endpoint string) *SyncAPI {
	if endpoint == "" {
		endpoint = defaultRESTEndpoint
	}
	return &SyncAPI{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

type depthResponse struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// FetchSnapshot implements recovery.SnapshotFetcher.
func (api *SyncAPI) FetchSnapshot(ctx context.Context, symbol market.Symbol, depth int) (orderbook.Snapshot, error) {
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d", api.endpoint, strings.ToUpper(symbol.Join("")), depth)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return orderbook.Snapshot{}, fmt.Errorf("binance: building request: %w", err)
	}

	resp, err := api.client.Do(req)
	if err != nil {
		return orderbook.Snapshot{}, fmt.Errorf("binance: depth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return orderbook.Snapshot{}, fmt.Errorf("binance: depth request for %s returned status %d", symbol, resp.StatusCode)
	}

	var raw depthResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return orderbook.Snapshot{}, fmt.Errorf("binance: decoding depth response: %w", err)
	}

	bids, err := parseLevels(raw.Bids)
	if err != nil {
		return orderbook.Snapshot{}, fmt.Errorf("binance: parsing bids: %w", err)
	}
	asks, err := parseLevels(raw.Asks)
	if err != nil {
		return orderbook.Snapshot{}, fmt.Errorf("binance: parsing asks: %w", err)
	}

	logger.Printf("fetched snapshot for %s at lastUpdateId=%d (%d bids, %d asks)", symbol, raw.LastUpdateID, len(bids), len(asks))

	return orderbook.Snapshot{
		LastUpdateID: raw.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

func parseLevels(raw [][]string) ([]orderbook.PriceLevel, error) {
	levels := make([]orderbook.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 2 {
			return nil, fmt.Errorf("malformed level entry %v", entry)
		}
		price, err := decimal.NewFromString(entry[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", entry[0], err)
		}
		qty, err := decimal.NewFromString(entry[1])
		if err != nil {
			return nil, fmt.Errorf("qty %q: %w", entry[1], err)
		}
		levels = append(levels, orderbook.PriceLevel{Price: price, Qty: qty})
	}
	return levels, nil
}

