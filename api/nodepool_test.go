package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wry5560/PolyHermes-sub002/config"
)

// fakeProbe fails for the endpoints in its down set.
type fakeProbe struct {
	mu   sync.Mutex
	down map[string]bool
}

func (f *fakeProbe) probe(ctx context.Context, httpURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[httpURL] {
		return errors.New("probe failed")
	}
	return nil
}

func (f *fakeProbe) setDown(url string, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[url] = down
}

func testNodes() []config.RPCNode {
	return []config.RPCNode{
		{Name: "secondary", HTTPURL: "http://b", WSURL: "ws://b", Priority: 1},
		{Name: "primary", HTTPURL: "http://a", WSURL: "ws://a", Priority: 0},
		{Name: "disabled", HTTPURL: "http://c", Priority: 0, Disabled: true},
	}
}

func TestNodePoolPriorityOrder(t *testing.T) {
	probe := &fakeProbe{down: map[string]bool{}}
	pool := NewNodePool(testNodes(), time.Hour, time.Second, probe.probe)

	node, err := pool.Healthy()
	if err != nil {
		t.Fatalf("Healthy() error = %v", err)
	}
	if node.Name != "primary" {
		t.Errorf("healthy node = %s, want primary", node.Name)
	}

	snapshot := pool.HealthSnapshot()
	if _, ok := snapshot["disabled"]; ok {
		t.Error("disabled node should not be in the pool")
	}
}

func TestNodePoolUnhealthyAfterThreeFailures(t *testing.T) {
	probe := &fakeProbe{down: map[string]bool{"http://a": true}}
	pool := NewNodePool(testNodes(), time.Hour, time.Second, probe.probe)

	// Two failed rounds are not enough to demote.
	pool.probeAll()
	pool.probeAll()
	if node, _ := pool.Healthy(); node.Name != "primary" {
		t.Fatalf("after 2 failures node = %s, want primary still", node.Name)
	}

	pool.probeAll()
	node, err := pool.Healthy()
	if err != nil {
		t.Fatalf("Healthy() error = %v", err)
	}
	if node.Name != "secondary" {
		t.Errorf("after 3 failures node = %s, want secondary", node.Name)
	}
}

func TestNodePoolRecovery(t *testing.T) {
	probe := &fakeProbe{down: map[string]bool{"http://a": true}}
	pool := NewNodePool(testNodes(), time.Hour, time.Second, probe.probe)

	for i := 0; i < 3; i++ {
		pool.probeAll()
	}
	if node, _ := pool.Healthy(); node.Name != "secondary" {
		t.Fatal("primary should be demoted")
	}

	probe.setDown("http://a", false)
	pool.probeAll()
	if node, _ := pool.Healthy(); node.Name != "primary" {
		t.Errorf("recovered node = %s, want primary", node.Name)
	}
}

func TestNodePoolReportFailure(t *testing.T) {
	probe := &fakeProbe{down: map[string]bool{}}
	pool := NewNodePool(testNodes(), time.Hour, time.Second, probe.probe)

	for i := 0; i < 3; i++ {
		pool.ReportFailure("primary")
	}
	if node, _ := pool.Healthy(); node.Name != "secondary" {
		t.Errorf("after reported failures node = %s, want secondary", node.Name)
	}
}

func TestNodePoolNoHealthyEndpoint(t *testing.T) {
	probe := &fakeProbe{down: map[string]bool{"http://a": true, "http://b": true}}
	pool := NewNodePool(testNodes(), time.Hour, time.Second, probe.probe)

	for i := 0; i < 3; i++ {
		pool.probeAll()
	}

	if _, err := pool.Healthy(); !errors.Is(err, ErrNoHealthyEndpoint) {
		t.Errorf("Healthy() error = %v, want ErrNoHealthyEndpoint", err)
	}
	if _, err := pool.HealthyWSURL(); !errors.Is(err, ErrNoHealthyEndpoint) {
		t.Errorf("HealthyWSURL() error = %v, want ErrNoHealthyEndpoint", err)
	}
}

func TestNodePoolHealthyWSURLSkipsNodesWithoutWS(t *testing.T) {
	nodes := []config.RPCNode{
		{Name: "nows", HTTPURL: "http://a", Priority: 0},
		{Name: "withws", HTTPURL: "http://b", WSURL: "ws://b", Priority: 1},
	}
	probe := &fakeProbe{down: map[string]bool{}}
	pool := NewNodePool(nodes, time.Hour, time.Second, probe.probe)

	wsURL, err := pool.HealthyWSURL()
	if err != nil {
		t.Fatalf("HealthyWSURL() error = %v", err)
	}
	if wsURL != "ws://b" {
		t.Errorf("wsURL = %s, want ws://b", wsURL)
	}
}
