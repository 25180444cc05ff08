package api

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
)

// LogFilter selects the chain logs a subscriber wants.
type LogFilter struct {
	Addresses []common.Address
	Topics    [][]common.Hash
}

// LogCallback receives each matching log. Called from the read loop; heavy
// work must be handed off.
type LogCallback func(lg types.Log)

// ChainWS multiplexes eth_subscribe log subscriptions over one websocket
// connection. Subscribers register under a caller-chosen key; the client
// dials lazily on the first subscription, resubscribes everything after a
// reconnect and tears the connection down when the last subscriber leaves.
type ChainWS struct {
	urlFn          func() (string, error)
	reconnectDelay time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	subs      map[string]*chainSub // by caller key
	pending   map[int64]string     // request id -> caller key
	bySubID   map[string]string    // rpc subscription id -> caller key
	nextReqID int64
	running   bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type chainSub struct {
	key    string
	filter LogFilter
	cb     LogCallback
	subID  string
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcMessage struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Params *rpcSubParams   `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcSubParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// NewChainWS creates a client that resolves its endpoint through urlFn on
// every (re)connect, so a node pool failover takes effect at the next dial.
func NewChainWS(urlFn func() (string, error), reconnectDelay time.Duration) *ChainWS {
	return &ChainWS{
		urlFn:          urlFn,
		reconnectDelay: reconnectDelay,
		subs:           make(map[string]*chainSub),
		pending:        make(map[int64]string),
		bySubID:        make(map[string]string),
		stopCh:         make(chan struct{}),
	}
}

// Subscribe registers a log subscription under key, replacing any previous
// subscription with the same key. The first subscription starts the session
// loop.
func (c *ChainWS) Subscribe(key string, filter LogFilter, cb LogCallback) error {
	c.mu.Lock()
	c.subs[key] = &chainSub{key: key, filter: filter, cb: cb}
	start := !c.running
	if start {
		c.running = true
	}
	conn := c.conn
	c.mu.Unlock()

	if start {
		c.wg.Add(1)
		go c.sessionLoop()
		return nil
	}
	if conn != nil {
		return c.sendSubscribe(conn, key)
	}
	return nil
}

// Unsubscribe removes a subscription. When the last one is removed the
// connection is closed and the session loop exits.
func (c *ChainWS) Unsubscribe(key string) {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.subs, key)
	if sub.subID != "" {
		delete(c.bySubID, sub.subID)
	}
	last := len(c.subs) == 0
	conn := c.conn
	c.mu.Unlock()

	if last && conn != nil {
		// Read loop exits on the closed connection; sessionLoop sees no
		// subscribers and stops instead of reconnecting.
		conn.Close()
	}
}

// Stop closes the connection and waits for the session loop.
func (c *ChainWS) Stop() {
	close(c.stopCh)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	log.Println("[ChainWS] Stopped")
}

// sessionLoop dials, resubscribes everything and reads until the connection
// drops, then retries after a fixed delay.
func (c *ChainWS) sessionLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.mu.Lock()
		empty := len(c.subs) == 0
		if empty {
			c.running = false
		}
		c.mu.Unlock()
		if empty {
			return
		}

		if err := c.runSession(); err != nil {
			log.Printf("[ChainWS] Session ended: %v; reconnecting in %v", err, c.reconnectDelay)
		}

		select {
		case <-time.After(c.reconnectDelay):
		case <-c.stopCh:
			return
		}
	}
}

func (c *ChainWS) runSession() error {
	wsURL, err := c.urlFn()
	if err != nil {
		return fmt.Errorf("resolve endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	// Stale ids from the previous session must not route new notifications.
	c.pending = make(map[int64]string)
	c.bySubID = make(map[string]string)
	keys := make([]string, 0, len(c.subs))
	for key, sub := range c.subs {
		sub.subID = ""
		keys = append(keys, key)
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	log.Printf("[ChainWS] Connected to %s, resubscribing %d filters", wsURL, len(keys))
	for _, key := range keys {
		if err := c.sendSubscribe(conn, key); err != nil {
			return fmt.Errorf("subscribe %s: %w", key, err)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(data)
	}
}

func (c *ChainWS) sendSubscribe(conn *websocket.Conn, key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.nextReqID++
	reqID := c.nextReqID
	c.pending[reqID] = key
	filter := sub.filter
	c.mu.Unlock()

	params := map[string]interface{}{}
	if len(filter.Addresses) > 0 {
		params["address"] = filter.Addresses
	}
	if len(filter.Topics) > 0 {
		params["topics"] = filter.Topics
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params:  []interface{}{"logs", params},
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(req)
}

func (c *ChainWS) handleMessage(data []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[ChainWS] Malformed message: %v", err)
		return
	}

	// Subscription confirmation: bind the rpc sub id to the caller key.
	if msg.ID != 0 {
		c.mu.Lock()
		key, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		if ok && msg.Error == nil {
			var subID string
			if err := json.Unmarshal(msg.Result, &subID); err == nil {
				c.bySubID[subID] = key
				if sub, exists := c.subs[key]; exists {
					sub.subID = subID
				}
			}
		}
		c.mu.Unlock()
		if msg.Error != nil {
			log.Printf("[ChainWS] Subscribe failed for %s: %s", key, msg.Error.Message)
		}
		return
	}

	if msg.Method != "eth_subscription" || msg.Params == nil {
		return
	}

	c.mu.Lock()
	key, ok := c.bySubID[msg.Params.Subscription]
	var cb LogCallback
	if ok {
		if sub, exists := c.subs[key]; exists {
			cb = sub.cb
		}
	}
	c.mu.Unlock()
	if cb == nil {
		return
	}

	var lg types.Log
	if err := json.Unmarshal(msg.Params.Result, &lg); err != nil {
		log.Printf("[ChainWS] Malformed log notification: %v", err)
		return
	}
	cb(lg)
}
