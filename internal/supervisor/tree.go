// Package supervisor hosts every long-running loop of the player in a suture
// tree so a crashing loop is restarted without taking the process down.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree layers:
//
//	data      connectivity monitor, cache expiry
//	sync      manifest sync loop, drain loop, mqtt client
//	playback  scheduler, rotation engine
//	api       local http server
type Tree struct {
	root     *suture.Supervisor
	data     *suture.Supervisor
	sync     *suture.Supervisor
	playback *suture.Supervisor
	api      *suture.Supervisor
}

func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := childSpec
	if logger != nil {
		rootSpec.EventHook = (&sutureslog.Handler{Logger: logger}).MustHook()
	}

	t := &Tree{
		root:     suture.New("player", rootSpec),
		data:     suture.New("data-layer", childSpec),
		sync:     suture.New("sync-layer", childSpec),
		playback: suture.New("playback-layer", childSpec),
		api:      suture.New("api-layer", childSpec),
	}
	t.root.Add(t.data)
	t.root.Add(t.sync)
	t.root.Add(t.playback)
	t.root.Add(t.api)
	return t
}

func (t *Tree) AddData(svc suture.Service) suture.ServiceToken     { return t.data.Add(svc) }
func (t *Tree) AddSync(svc suture.Service) suture.ServiceToken     { return t.sync.Add(svc) }
func (t *Tree) AddPlayback(svc suture.Service) suture.ServiceToken { return t.playback.Add(svc) }
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken      { return t.api.Add(svc) }

func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
