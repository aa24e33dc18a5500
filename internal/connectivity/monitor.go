// Package connectivity tracks whether the device is online.
//
// The reachability probe owns the online state. The MQTT client only reports
// hints: a broker connect or loss triggers an early probe but never flips the
// state by itself. Without a prober every source is taken at its word. Every
// offline to online transition sets a latch and emits one Transition on the
// Events channel. The device session is the only consumer of that channel.
package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/metrics"
)

// Transition is emitted when the device comes back online.
type Transition struct {
	Online bool
	At     time.Time
	Source string
}

// Prober checks network reachability.
type Prober interface {
	Probe(ctx context.Context) error
}

// TCPProber dials a well-known address.
type TCPProber struct {
	Address string
	Timeout time.Duration
}

func (p TCPProber) Probe(ctx context.Context) error {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// hintSources are reports that only schedule a probe when a prober is set.
var hintSources = map[string]bool{"mqtt": true}

type Monitor struct {
	prober   Prober
	interval time.Duration
	kick     chan struct{}

	mu         sync.RWMutex
	known      bool
	online     bool
	wasOffline bool
	changedAt  time.Time
	hints      map[string]bool

	events chan Transition
	now    func() time.Time
}

func NewMonitor(prober Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		kick:     make(chan struct{}, 1),
		hints:    map[string]bool{},
		events:   make(chan Transition, 1),
		now:      time.Now,
	}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// WasOffline is set on an offline to online transition and stays set until cleared.
func (m *Monitor) WasOffline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wasOffline
}

func (m *Monitor) ClearWasOffline() {
	m.mu.Lock()
	m.wasOffline = false
	m.mu.Unlock()
}

// Events delivers online edges. Transitions that arrive while one is still
// unread are collapsed into it.
func (m *Monitor) Events() <-chan Transition {
	return m.events
}

// Report records an observation from any source. The first report only
// establishes the initial state.
func (m *Monitor) Report(online bool, source string) {
	if m.prober != nil && hintSources[source] {
		m.hint(online, source)
		return
	}
	m.observe(online, source)
}

// hint keeps the last value per hint source and asks Serve for an early
// probe when it changes.
func (m *Monitor) hint(online bool, source string) {
	m.mu.Lock()
	prev, seen := m.hints[source]
	m.hints[source] = online
	m.mu.Unlock()
	if seen && prev == online {
		return
	}
	log.Debug().Bool("connected", online).Str("source", source).Msg("connectivity hint, probing early")
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Hint returns the last value reported by a hint source.
func (m *Monitor) Hint(source string) (online, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	online, ok = m.hints[source]
	return online, ok
}

func (m *Monitor) observe(online bool, source string) {
	m.mu.Lock()
	first := !m.known
	changed := m.known && m.online != online
	m.known = true
	m.online = online
	if changed || first {
		m.changedAt = m.now()
	}
	edge := changed && online
	if edge {
		m.wasOffline = true
	}
	at := m.changedAt
	m.mu.Unlock()

	if online {
		metrics.Online.Set(1)
	} else {
		metrics.Online.Set(0)
	}

	if !changed {
		if first {
			log.Info().Bool("online", online).Str("source", source).Msg("initial connectivity state")
		}
		return
	}

	if online {
		metrics.ConnectivityTransitions.WithLabelValues("online").Inc()
		log.Info().Str("source", source).Msg("device back online")
	} else {
		metrics.ConnectivityTransitions.WithLabelValues("offline").Inc()
		log.Warn().Str("source", source).Msg("device went offline")
	}

	if edge {
		select {
		case m.events <- Transition{Online: true, At: at, Source: source}:
		default:
			log.Debug().Msg("online edge already pending")
		}
	}
}

// Serve polls the prober until ctx is done.
func (m *Monitor) Serve(ctx context.Context) error {
	if m.prober == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	m.probeOnce(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.probeOnce(ctx)
		case <-m.kick:
			m.probeOnce(ctx)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	err := m.prober.Probe(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Debug().Err(err).Msg("reachability probe failed")
	}
	m.observe(err == nil, "probe")
}

func (m *Monitor) String() string { return "connectivity-monitor" }
