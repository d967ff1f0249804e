package binance

import (
	"encoding/json"
	"fmt"

	"github.com/driftwood-labs/depthsync/market"
	"github.com/driftwood-labs/depthsync/orderbook"
)

// StreamAPI turns a StreamClient's raw topic frames into typed depth
// updates.
type StreamAPI struct {
	client *StreamClient
}

// NewStreamAPI builds a StreamAPI over an already-connected client.
func NewStreamAPI(client *StreamClient) *StreamAPI {
	return &StreamAPI{client: client}
}

type depthUpdatePayload struct {
	FirstUpdateID uint64     `json:"U"`
	FinalUpdateID uint64     `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// DepthDiffStream subscribes to the combined <symbol>@depth topic and
// emits a orderbook.Update for every frame received, until unsubscribe is
// called. The returned channel is closed when the subscription ends.
func (api *StreamAPI) DepthDiffStream(symbol market.Symbol) (<-chan orderbook.Update, func(), error) {
	topic := fmt.Sprintf("%s@depth", symbol.Join(""))

	frames, unsubscribe, err := api.client.Subscribe(topic)
	if err != nil {
		return nil, nil, fmt.Errorf("binance: %w", err)
	}

	updates := make(chan orderbook.Update)

	go func() {
		defer close(updates)

		for frame := range frames {
			var msg Message[depthUpdatePayload]
			if err := json.Unmarshal(frame, &msg); err != nil {
				logger.Printf("discarding malformed depth frame for %s: %s", topic, err)
				continue
			}

			bids, err := parseLevels(msg.Data.Bids)
			if err != nil {
				logger.Printf("discarding depth frame for %s, bad bid level: %s", topic, err)
				continue
			}
			asks, err := parseLevels(msg.Data.Asks)
			if err != nil {
				logger.Printf("discarding depth frame for %s, bad ask level: %s", topic, err)
				continue
			}

			updates <- orderbook.Update{
				FirstUpdateID: msg.Data.FirstUpdateID,
				FinalUpdateID: msg.Data.FinalUpdateID,
				Bids:          bids,
				Asks:          asks,
			}
		}
	}()

	return updates, unsubscribe, nil
}
