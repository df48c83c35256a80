package collab

import (
	"sync"
	"time"

	"collab-sync/internal/logger"
	"collab-sync/internal/metrics"
)

// DefaultHeartbeatInterval is the time between liveness checks.
const DefaultHeartbeatInterval = 30 * time.Second

// Prober is a peer the liveness monitor can check. A peer is alive when it
// answered the previous ping.
type Prober interface {
	Peer
	IsAlive() bool
	MarkNotAlive()
	Ping() error
	Terminate()
}

// Monitor pings every peer each interval and terminates those that did not
// answer the previous ping.
type Monitor struct {
	interval time.Duration
	peers    func() []Peer

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMonitor creates a monitor checking the peers returned by peers.
func NewMonitor(interval time.Duration, peers func() []Peer) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Monitor{
		interval: interval,
		peers:    peers,
		done:     make(chan struct{}),
	}
}

// Start runs Tick every interval until Stop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
				m.Tick()
			}
		}
	}()
}

// Stop ends the ticker loop. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
}

// Tick runs one liveness round and returns the number of terminated peers.
func (m *Monitor) Tick() int {
	terminated := 0
	for _, peer := range m.peers() {
		p, ok := peer.(Prober)
		if !ok {
			continue
		}

		if !p.IsAlive() {
			logger.L().Info("terminating unresponsive connection", "client_id", p.ClientID())
			p.Terminate()
			metrics.HeartbeatTerminations.Inc()
			terminated++
			continue
		}

		p.MarkNotAlive()
		if err := p.Ping(); err != nil {
			logger.L().Debug("ping failed", "client_id", p.ClientID(), "error", err)
		}
	}
	return terminated
}
