package binance

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/recws-org/recws"
)

const (
	defaultWSEndpoint = "wss://stream.binance.com:9443/stream"
	pingDelay          = 9 * time.Minute
)

// Message envelopes a combined-stream payload: {"stream": "...", "data": T}.
type Message[T any] struct {
	Stream string `json:"stream"`
	Data   T      `json:"data"`
}

type subscription struct {
	ch    chan []byte
	count int
}

type subscribeRequest struct {
	ReqID  int64    `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// StreamClient wraps a reconnecting websocket connection to Binance's
// combined-stream endpoint, demultiplexing {stream, data} envelopes to
// per-topic subscriber channels and resubscribing to every live topic
// after a reconnect.
type StreamClient struct {
	conn     *recws.RecConn
	endpoint string

	mu            sync.Mutex
	subscriptions map[string]*subscription

	reqID   atomic.Int64
	lastURL string
}

// NewStreamClient builds a StreamClient against endpoint (pass "" for the
// default production combined-stream endpoint).
func NewStreamClient(endpoint string) *StreamClient {
	if endpoint == "" {
		endpoint = defaultWSEndpoint
	}
	return &StreamClient{
		endpoint:      endpoint,
		subscriptions: make(map[string]*subscription),
	}
}

// Connect dials the websocket and starts the read loop. The recws
// connection reconnects automatically on drop; Connect's caller does not
// need to redial.
func (c *StreamClient) Connect() error {
	conn := &recws.RecConn{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
		KeepAliveTimeout: pingDelay,
	}
	conn.Dial(c.endpoint, nil)
	c.conn = conn

	go c.read()
	go c.resubscribeOnReconnect()
	return nil
}

// Close tears down the connection.
func (c *StreamClient) Close() error {
	if c.conn == nil || c.conn.Conn == nil {
		return nil
	}
	return c.conn.Conn.Close()
}

// Subscribe multiplexes onto topic, sending a SUBSCRIBE control message
// only for the first subscriber. The returned channel delivers raw frames
// for topic until Unsubscribe is called.
func (c *StreamClient) Subscribe(topic string) (<-chan []byte, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.subscriptions[topic]
	if ok {
		entry.count++
		return entry.ch, func() { c.unsubscribe(topic) }, nil
	}

	entry = &subscription{ch: make(chan []byte, 64), count: 1}
	c.subscriptions[topic] = entry

	if err := c.sendControl("SUBSCRIBE", topic); err != nil {
		delete(c.subscriptions, topic)
		return nil, nil, fmt.Errorf("binance: subscribing to %s: %w", topic, err)
	}

	return entry.ch, func() { c.unsubscribe(topic) }, nil
}

func (c *StreamClient) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.subscriptions[topic]
	if !ok {
		return
	}
	if entry.count > 1 {
		entry.count--
		return
	}

	delete(c.subscriptions, topic)
	close(entry.ch)
	_ = c.sendControl("UNSUBSCRIBE", topic)
}

func (c *StreamClient) sendControl(method, topic string) error {
	return c.conn.WriteJSON(subscribeRequest{
		ReqID:  c.reqID.Add(1),
		Method: method,
		Params: []string{topic},
	})
}

func (c *StreamClient) read() {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			logger.Printf("stream read error, recws will redial: %s", err)
			continue
		}

		var envelope struct {
			Stream string `json:"stream"`
		}
		if err := json.Unmarshal(msg, &envelope); err != nil {
			logger.Printf("discarding unparsable frame: %s", err)
			continue
		}
		if envelope.Stream == "" {
			continue
		}

		c.mu.Lock()
		entry, ok := c.subscriptions[envelope.Stream]
		c.mu.Unlock()
		if !ok {
			continue
		}

		select {
		case entry.ch <- msg:
		default:
			logger.Printf("dropping frame for %s, subscriber channel full", envelope.Stream)
		}
	}
}

// resubscribeOnReconnect polls recws's connected state and reissues
// SUBSCRIBE for every live topic on each false-to-true transition after
// the first, since Binance does not remember subscriptions across a
// fresh TCP handshake and recws reconnects silently underneath us.
func (c *StreamClient) resubscribeOnReconnect() {
	wasConnected := c.conn.IsConnected()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		connected := c.conn.IsConnected()
		reconnected := connected && !wasConnected
		wasConnected = connected
		if !reconnected {
			continue
		}

		c.mu.Lock()
		topics := make([]string, 0, len(c.subscriptions))
		for topic := range c.subscriptions {
			topics = append(topics, topic)
		}
		c.mu.Unlock()

		for _, topic := range topics {
			if err := c.sendControl("SUBSCRIBE", topic); err != nil {
				logger.Printf("resubscribe to %s failed: %s", topic, err)
			}
		}
	}
}
