package connectivity

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan Transition) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}

func TestReport_FirstReportIsNotAnEdge(t *testing.T) {
	m := NewMonitor(nil, time.Second)
	m.Report(true, "test")

	assert.True(t, m.Online())
	assert.False(t, m.WasOffline())
	assert.Zero(t, drain(m.Events()))
}

// TestReport_OfflineToOnlineSetsLatch checks the latch and the event for one reconnect.
func TestReport_OfflineToOnlineSetsLatch(t *testing.T) {
	m := NewMonitor(nil, time.Second)
	m.Report(true, "test")
	m.Report(false, "test")
	assert.False(t, m.Online())
	assert.False(t, m.WasOffline())

	m.Report(true, "test")
	m.Report(true, "test")
	assert.True(t, m.WasOffline())

	select {
	case tr := <-m.Events():
		assert.True(t, tr.Online)
		assert.Equal(t, "test", tr.Source)
	default:
		t.Fatal("expected an online transition")
	}
	assert.Zero(t, drain(m.Events()), "repeated online reports must not emit again")

	m.ClearWasOffline()
	assert.False(t, m.WasOffline())
}

func TestReport_StartingOfflineThenOnline(t *testing.T) {
	m := NewMonitor(nil, time.Second)
	m.Report(false, "probe")
	m.Report(true, "mqtt")

	assert.True(t, m.WasOffline())
	assert.Equal(t, 1, drain(m.Events()))
}

func TestReport_UnreadEdgesCollapse(t *testing.T) {
	m := NewMonitor(nil, time.Second)
	m.Report(true, "test")
	for i := 0; i < 3; i++ {
		m.Report(false, "test")
		m.Report(true, "test")
	}
	assert.Equal(t, 1, drain(m.Events()))
}

type flakyProber struct {
	fail atomic.Bool
}

func (p *flakyProber) Probe(context.Context) error {
	if p.fail.Load() {
		return errors.New("unreachable")
	}
	return nil
}

func TestServe_ProbeDrivesState(t *testing.T) {
	p := &flakyProber{}
	p.fail.Store(true)
	m := NewMonitor(p, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.known && !m.online
	}, time.Second, 5*time.Millisecond)

	p.fail.Store(false)
	select {
	case tr := <-m.Events():
		assert.True(t, tr.Online)
	case <-time.After(2 * time.Second):
		t.Fatal("no online transition observed")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// TestReport_BrokerFlapKeepsProbeState drops and restores the broker link
// while the probe still sees the network.
func TestReport_BrokerFlapKeepsProbeState(t *testing.T) {
	m := NewMonitor(&flakyProber{}, time.Hour)
	m.Report(true, "probe")

	m.Report(false, "mqtt")
	assert.True(t, m.Online())
	m.Report(true, "mqtt")
	assert.True(t, m.Online())

	assert.False(t, m.WasOffline())
	assert.Zero(t, drain(m.Events()))
	connected, ok := m.Hint("mqtt")
	assert.True(t, ok)
	assert.True(t, connected)
	assert.Len(t, m.kick, 1, "hint changes collapse into one early probe")
}

func TestReport_BrokerConnectProbesEarly(t *testing.T) {
	p := &flakyProber{}
	p.fail.Store(true)
	m := NewMonitor(p, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.known && !m.online
	}, time.Second, 5*time.Millisecond)

	p.fail.Store(false)
	m.Report(true, "mqtt")
	select {
	case tr := <-m.Events():
		assert.True(t, tr.Online)
		assert.Equal(t, "probe", tr.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("broker connect did not trigger a probe")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	p := TCPProber{Address: ln.Addr().String(), Timeout: time.Second}
	assert.NoError(t, p.Probe(context.Background()))

	require.NoError(t, ln.Close())
	assert.Error(t, p.Probe(context.Background()))
}
