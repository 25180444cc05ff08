package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscribeServer answers eth_subscribe and then pushes one log
// notification per confirmed subscription.
func subscribeServer(t *testing.T, dropAfterConfirms int32) (*httptest.Server, string) {
	t.Helper()
	var confirms int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Method != "eth_subscribe" {
				continue
			}

			n := atomic.AddInt32(&confirms, 1)
			subID := "0xsub" + string(rune('0'+n))
			resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": subID}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}

			if dropAfterConfirms > 0 && n == dropAfterConfirms {
				return // simulate a dropped connection
			}

			lg := types.Log{
				Address: common.HexToAddress("0x01"),
				Topics:  []common.Hash{OrderFilledTopic},
				TxHash:  common.HexToHash("0xbeef"),
			}
			raw, _ := json.Marshal(lg)
			notif := map[string]interface{}{
				"jsonrpc": "2.0",
				"method":  "eth_subscription",
				"params": map[string]interface{}{
					"subscription": subID,
					"result":       json.RawMessage(raw),
				},
			}
			if err := conn.WriteJSON(notif); err != nil {
				return
			}
		}
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func TestChainWSDeliversLogs(t *testing.T) {
	srv, wsURL := subscribeServer(t, 0)
	defer srv.Close()

	client := NewChainWS(func() (string, error) { return wsURL, nil }, 50*time.Millisecond)
	defer client.Stop()

	received := make(chan types.Log, 1)
	err := client.Subscribe("fills", LogFilter{Topics: [][]common.Hash{{OrderFilledTopic}}}, func(lg types.Log) {
		received <- lg
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case lg := <-received:
		if lg.TxHash != common.HexToHash("0xbeef") {
			t.Errorf("tx hash = %s", lg.TxHash.Hex())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no log delivered")
	}
}

func TestChainWSReconnectsAndResubscribes(t *testing.T) {
	// First session dies right after the subscription confirm; the second
	// one must re-subscribe and deliver.
	srv, wsURL := subscribeServer(t, 1)
	defer srv.Close()

	client := NewChainWS(func() (string, error) { return wsURL, nil }, 50*time.Millisecond)
	defer client.Stop()

	received := make(chan types.Log, 1)
	err := client.Subscribe("fills", LogFilter{}, func(lg types.Log) {
		received <- lg
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("no log delivered after reconnect")
	}
}

func TestChainWSUnsubscribeLastTearsDown(t *testing.T) {
	srv, wsURL := subscribeServer(t, 0)
	defer srv.Close()

	client := NewChainWS(func() (string, error) { return wsURL, nil }, 50*time.Millisecond)
	defer client.Stop()

	received := make(chan types.Log, 1)
	if err := client.Subscribe("fills", LogFilter{}, func(lg types.Log) { received <- lg }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("no log delivered")
	}

	client.Unsubscribe("fills")

	// The session loop must exit once the registry is empty.
	deadline := time.After(2 * time.Second)
	for {
		client.mu.Lock()
		running := client.running
		client.mu.Unlock()
		if !running {
			break
		}
		select {
		case <-deadline:
			t.Fatal("session loop still running after last unsubscribe")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
