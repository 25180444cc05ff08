package api

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/wry5560/PolyHermes-sub002/config"
)

// ErrNoHealthyEndpoint is returned when every configured RPC node is down.
var ErrNoHealthyEndpoint = errors.New("no healthy rpc endpoint")

// consecutive probe failures before an endpoint is marked unhealthy.
const unhealthyThreshold = 3

// ProbeFunc checks one endpoint's liveness. Tests inject their own.
type ProbeFunc func(ctx context.Context, httpURL string) error

// nodeState is one endpoint plus its health bookkeeping.
type nodeState struct {
	node     config.RPCNode
	client   *ethclient.Client
	healthy  bool
	failures int
	lastSeen time.Time
}

// NodePool hands out the highest-priority healthy RPC endpoint and probes
// every endpoint in the background. Selection never blocks on a probe; a
// caller that hits a dead node reports it back and retries with the next.
type NodePool struct {
	mu    sync.Mutex
	nodes []*nodeState

	probe         ProbeFunc
	probeInterval time.Duration
	probeTimeout  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewNodePool creates a pool over the configured endpoints. probe may be
// nil; the default asks each node for its latest block number.
func NewNodePool(nodes []config.RPCNode, probeInterval, probeTimeout time.Duration, probe ProbeFunc) *NodePool {
	if probe == nil {
		probe = defaultProbe
	}

	p := &NodePool{
		probe:         probe,
		probeInterval: probeInterval,
		probeTimeout:  probeTimeout,
		stopCh:        make(chan struct{}),
	}
	for _, n := range nodes {
		if n.Disabled {
			continue
		}
		// Every node starts healthy; the first probe round corrects that.
		p.nodes = append(p.nodes, &nodeState{node: n, healthy: true})
	}
	sort.SliceStable(p.nodes, func(i, j int) bool {
		return p.nodes[i].node.Priority < p.nodes[j].node.Priority
	})
	return p
}

func defaultProbe(ctx context.Context, httpURL string) error {
	client, err := ethclient.DialContext(ctx, httpURL)
	if err != nil {
		return err
	}
	defer client.Close()
	_, err = client.BlockNumber(ctx)
	return err
}

// Start launches the background probe loop.
func (p *NodePool) Start() {
	p.wg.Add(1)
	go p.probeLoop()
	log.Printf("[NodePool] Started with %d endpoints, probing every %v", len(p.nodes), p.probeInterval)
}

// Stop ends the probe loop and closes every dialed client.
func (p *NodePool) Stop() {
	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.nodes {
		if n.client != nil {
			n.client.Close()
			n.client = nil
		}
	}
	log.Println("[NodePool] Stopped")
}

func (p *NodePool) probeLoop() {
	defer p.wg.Done()

	p.probeAll()

	ticker := time.NewTicker(p.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.probeAll()
		case <-p.stopCh:
			return
		}
	}
}

func (p *NodePool) probeAll() {
	p.mu.Lock()
	nodes := append([]*nodeState(nil), p.nodes...)
	p.mu.Unlock()

	for _, n := range nodes {
		ctx, cancel := context.WithTimeout(context.Background(), p.probeTimeout)
		err := p.probe(ctx, n.node.HTTPURL)
		cancel()

		p.mu.Lock()
		if err != nil {
			n.failures++
			if n.healthy && n.failures >= unhealthyThreshold {
				n.healthy = false
				log.Printf("[NodePool] Endpoint %s unhealthy after %d probe failures: %v", n.node.Name, n.failures, err)
			}
		} else {
			if !n.healthy {
				log.Printf("[NodePool] Endpoint %s recovered", n.node.Name)
			}
			n.healthy = true
			n.failures = 0
			n.lastSeen = time.Now()
		}
		p.mu.Unlock()
	}
}

// Healthy returns the highest-priority healthy endpoint.
func (p *NodePool) Healthy() (config.RPCNode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.nodes {
		if n.healthy {
			return n.node, nil
		}
	}
	return config.RPCNode{}, ErrNoHealthyEndpoint
}

// HealthyWSURL returns the websocket URL of the best healthy endpoint that
// has one configured.
func (p *NodePool) HealthyWSURL() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.nodes {
		if n.healthy && n.node.WSURL != "" {
			return n.node.WSURL, nil
		}
	}
	return "", ErrNoHealthyEndpoint
}

// ReportFailure records a request failure seen by a caller. Counts toward
// the same threshold as probe failures so a dead node is demoted without
// waiting for the next probe round.
func (p *NodePool) ReportFailure(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.nodes {
		if n.node.Name != name {
			continue
		}
		n.failures++
		if n.healthy && n.failures >= unhealthyThreshold {
			n.healthy = false
			log.Printf("[NodePool] Endpoint %s unhealthy after %d reported failures", name, n.failures)
		}
		return
	}
}

// HealthSnapshot reports each endpoint's state for the read API.
func (p *NodePool) HealthSnapshot() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]bool, len(p.nodes))
	for _, n := range p.nodes {
		out[n.node.Name] = n.healthy
	}
	return out
}

// client returns a cached dialed client for the best healthy endpoint.
func (p *NodePool) client(ctx context.Context) (*ethclient.Client, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.nodes {
		if !n.healthy {
			continue
		}
		if n.client == nil {
			c, err := ethclient.DialContext(ctx, n.node.HTTPURL)
			if err != nil {
				n.failures++
				if n.failures >= unhealthyThreshold {
					n.healthy = false
				}
				continue
			}
			n.client = c
		}
		return n.client, n.node.Name, nil
	}
	return nil, "", ErrNoHealthyEndpoint
}

// TransactionReceipt fetches a receipt through the pool, failing over once
// to the next healthy endpoint.
func (p *NodePool) TransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	hash := common.HexToHash(txHash)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		client, name, err := p.client(ctx)
		if err != nil {
			return nil, err
		}
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		p.ReportFailure(name)
	}
	return nil, lastErr
}
