// Package membership tracks the liveness of drillbit endpoints that
// currently own fragments of a running query, and notifies interested
// watchers (normally one per active QueryManager) when an endpoint stops
// responding.
package membership

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/types"
)

// CheckResult is the outcome of one liveness probe.
type CheckResult struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Prober performs a single liveness check against an endpoint.
type Prober interface {
	Probe(ctx context.Context, endpoint types.Endpoint) CheckResult
}

// TCPProber checks liveness by opening and immediately closing a TCP
// connection to the endpoint's address.
type TCPProber struct {
	Timeout time.Duration
}

// NewTCPProber creates a prober with a 5 second default timeout.
func NewTCPProber() *TCPProber {
	return &TCPProber{Timeout: 5 * time.Second}
}

// Probe implements Prober.
func (p *TCPProber) Probe(ctx context.Context, endpoint types.Endpoint) CheckResult {
	start := time.Now()
	dialer := &net.Dialer{Timeout: p.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", endpoint.Address)
	if err != nil {
		return CheckResult{
			Healthy:   false,
			Message:   fmt.Sprintf("connection to %s failed: %v", endpoint.Address, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	return CheckResult{
		Healthy:   true,
		Message:   fmt.Sprintf("tcp connection to %s successful", endpoint.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Config controls probe cadence and the failure threshold.
type Config struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
}

// DefaultConfig returns sensible polling defaults.
func DefaultConfig() Config {
	return Config{
		Interval:         10 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 3,
	}
}

// FailureHandler is invoked once an endpoint crosses the failure threshold.
// It will not be invoked again for the same endpoint until it recovers and
// fails again.
type FailureHandler func(endpoint types.Endpoint)

type endpointState struct {
	endpoint            types.Endpoint
	consecutiveFailures int
	healthy             bool
	handlers            []FailureHandler
}

// DrillbitStatusListener is the default membership collaborator a
// QueryManager registers with to learn when a node carrying one of its
// fragments has gone away. It polls each watched endpoint on a fixed
// interval rather than relying on a push-based cluster membership protocol,
// since no consensus layer is available to this module (see DESIGN.md).
type DrillbitStatusListener struct {
	mu     sync.Mutex
	prober Prober
	cfg    Config
	states map[string]*endpointState

	stopCh chan struct{}
	once   sync.Once
}

// NewDrillbitStatusListener builds a listener using the given prober and
// config. Pass nil for prober to get a TCPProber with config.Timeout.
func NewDrillbitStatusListener(prober Prober, cfg Config) *DrillbitStatusListener {
	if prober == nil {
		prober = &TCPProber{Timeout: cfg.Timeout}
	}
	return &DrillbitStatusListener{
		prober: prober,
		cfg:    cfg,
		states: make(map[string]*endpointState),
		stopCh: make(chan struct{}),
	}
}

// Watch registers onFailure to be called the first time endpoint crosses
// the configured consecutive-failure threshold. Multiple watchers may
// register for the same endpoint (e.g. two queries sharing a leaf node).
func (l *DrillbitStatusListener) Watch(endpoint types.Endpoint, onFailure FailureHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[endpoint.NodeID]
	if !ok {
		st = &endpointState{endpoint: endpoint, healthy: true}
		l.states[endpoint.NodeID] = st
	}
	st.handlers = append(st.handlers, onFailure)
}

// Unwatch drops all handlers registered for the endpoint, e.g. once a
// query tracking it has reached a terminal state.
func (l *DrillbitStatusListener) Unwatch(endpoint types.Endpoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, endpoint.NodeID)
}

// Run starts the polling loop; it blocks until ctx is canceled or Stop is
// called.
func (l *DrillbitStatusListener) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.pollOnce(ctx)
		}
	}
}

// Stop terminates the polling loop. Safe to call more than once.
func (l *DrillbitStatusListener) Stop() {
	l.once.Do(func() { close(l.stopCh) })
}

func (l *DrillbitStatusListener) pollOnce(ctx context.Context) {
	l.mu.Lock()
	targets := make([]*endpointState, 0, len(l.states))
	for _, st := range l.states {
		targets = append(targets, st)
	}
	l.mu.Unlock()

	for _, st := range targets {
		checkCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
		result := l.prober.Probe(checkCtx, st.endpoint)
		cancel()

		l.mu.Lock()
		cur, ok := l.states[st.endpoint.NodeID]
		if !ok {
			l.mu.Unlock()
			continue // unwatched while the probe was in flight
		}
		var fire []FailureHandler
		if result.Healthy {
			cur.consecutiveFailures = 0
			cur.healthy = true
		} else {
			cur.consecutiveFailures++
			if cur.healthy && cur.consecutiveFailures >= l.cfg.FailureThreshold {
				cur.healthy = false
				fire = append(fire, cur.handlers...)
			}
		}
		l.mu.Unlock()

		if len(fire) > 0 {
			logger := log.WithComponent("membership")
			logger.Warn().Str("node_id", st.endpoint.NodeID).Msg("endpoint marked unreachable")
			for _, h := range fire {
				h(st.endpoint)
			}
		}
	}
}
