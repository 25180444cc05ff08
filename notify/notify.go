// Package notify posts engine events to an operator webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Notifier delivers fire-and-forget webhook notifications. Delivery errors
// are logged and swallowed; notification must never fail or slow the
// pipeline.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// Event is one webhook payload.
type Event struct {
	Kind      string    `json:"kind"` // replication_failed, replication_succeeded
	ConfigID  int64     `json:"configId,omitempty"`
	LeaderID  int64     `json:"leaderId,omitempty"`
	TradeID   string    `json:"tradeId,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a notifier. An empty URL disables delivery.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Send delivers the event asynchronously.
func (n *Notifier) Send(event Event) {
	if n.webhookURL == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	go n.deliver(event)
}

func (n *Notifier) deliver(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Notify] Marshal event: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		log.Printf("[Notify] Build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		log.Printf("[Notify] Deliver %s: %v", event.Kind, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("[Notify] Webhook returned %d for %s", resp.StatusCode, event.Kind)
	}
}
