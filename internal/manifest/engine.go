// Package manifest keeps the local manifest and blob cache in line with the
// device's assignment in the remote store.
//
// A new manifest only replaces the cached one after every blob it references
// is stored locally. Until then the device keeps playing the previous one.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/localstore"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/metrics"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/remote"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/storage"
)

var (
	ErrSyncInFlight    = errors.New("manifest: sync already in progress")
	ErrDownloadsFailed = errors.New("manifest: download failed")
	ErrNoDeviceCode    = errors.New("manifest: device is not provisioned")
)

const defaultBlockedMessage = "This display has been blocked by an administrator."

type Options struct {
	DeviceCode      string
	Concurrency     int
	DownloadTimeout time.Duration
	Now             func() time.Time
}

// Result summarises one sync pass.
type Result struct {
	Status     string
	Changed    bool
	Total      int
	Downloaded int
	Failed     int
	Pruned     int
}

type Engine struct {
	store   *localstore.Store
	remote  remote.Store
	fetcher storage.Fetcher
	opts    Options

	inFlight atomic.Bool

	mu       sync.RWMutex
	code     string
	state    model.DeviceState
	onChange func(model.DeviceState)
}

func NewEngine(store *localstore.Store, rs remote.Store, fetcher storage.Fetcher, opts Options) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		store:   store,
		remote:  rs,
		fetcher: fetcher,
		opts:    opts,
		code:    opts.DeviceCode,
	}
	e.state = model.DeviceState{DeviceCode: opts.DeviceCode, Status: model.StatusOK}
	if opts.DeviceCode == "" {
		e.state.Status = model.StatusSetup
	}
	return e
}

// OnChange registers a callback fired after every state change, including
// progress updates. It must not block.
func (e *Engine) OnChange(fn func(model.DeviceState)) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

// SetDeviceCode switches the identity used by later syncs.
func (e *Engine) SetDeviceCode(code string) {
	e.mu.Lock()
	e.code = code
	e.state.DeviceCode = code
	if code == "" {
		e.state.Status = model.StatusSetup
	} else if e.state.Status == model.StatusSetup {
		e.state.Status = model.StatusOK
	}
	e.mu.Unlock()
}

// Provisioned switches to a device code that was just issued locally. Until a
// sync sees the device with content, "not registered" and "no playlist"
// answers keep the device pending instead of fatal.
func (e *Engine) Provisioned(code string) {
	st := e.update(func(s *model.DeviceState) {
		e.code = code
		*s = model.DeviceState{
			DeviceCode:    code,
			Status:        model.StatusPending,
			StatusMessage: "Waiting for device " + code + " to be registered.",
		}
	})
	e.persistState(st)
}

func (e *Engine) DeviceCode() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.code
}

// Restore loads the persisted DeviceState so status survives a restart.
func (e *Engine) Restore() error {
	code := e.DeviceCode()
	if code == "" {
		return nil
	}
	var st model.DeviceState
	err := e.store.GetJSON(localstore.RegionState, stateKey(code), &st)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	st.Progress = model.Progress{}
	e.mu.Lock()
	e.state = st
	e.mu.Unlock()
	return nil
}

func (e *Engine) State() model.DeviceState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) Progress() model.Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Progress
}

// InFlight reports whether a sync pass is running.
func (e *Engine) InFlight() bool {
	return e.inFlight.Load()
}

// Manifest returns the cached manifest for the current device.
func (e *Engine) Manifest() (*model.Manifest, error) {
	code := e.DeviceCode()
	if code == "" {
		return nil, localstore.ErrNotFound
	}
	var m model.Manifest
	if err := e.store.GetJSON(localstore.RegionManifest, code, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func stateKey(code string) string {
	return "device/" + code
}

func (e *Engine) update(fn func(*model.DeviceState)) model.DeviceState {
	e.mu.Lock()
	fn(&e.state)
	st := e.state
	cb := e.onChange
	e.mu.Unlock()
	if cb != nil {
		cb(st)
	}
	return st
}

func (e *Engine) persistState(st model.DeviceState) {
	if st.DeviceCode == "" {
		return
	}
	if err := e.store.PutJSON(localstore.RegionState, stateKey(st.DeviceCode), st); err != nil {
		log.Error().Err(err).Str("device_code", st.DeviceCode).Msg("failed to persist device state")
	}
}

// Sync runs one pass. A call made while another pass is running returns
// ErrSyncInFlight without doing anything.
func (e *Engine) Sync(ctx context.Context) (Result, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		metrics.SyncPasses.WithLabelValues("skipped").Inc()
		return Result{}, ErrSyncInFlight
	}
	defer e.inFlight.Store(false)

	start := e.opts.Now()
	res, err := e.sync(ctx)
	metrics.SyncDuration.Observe(time.Since(start).Seconds())

	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("device_code", e.DeviceCode()).
		Str("status", res.Status).
		Bool("changed", res.Changed).
		Int("media", res.Total).
		Int("downloaded", res.Downloaded).
		Int("failed", res.Failed).
		Int("pruned", res.Pruned).
		Dur("took", time.Since(start)).
		Msg("sync pass finished")
	return res, err
}

func (e *Engine) sync(ctx context.Context) (Result, error) {
	code := e.DeviceCode()
	if code == "" {
		e.update(func(s *model.DeviceState) { s.Status = model.StatusSetup })
		return Result{Status: model.StatusSetup}, ErrNoDeviceCode
	}

	a, err := e.remote.FetchAssignment(ctx, code)
	if err != nil {
		if errors.Is(err, remote.ErrDeviceNotFound) {
			return e.fatal(code, model.StatusNotFound, "Device "+code+" is not registered.")
		}
		metrics.SyncPasses.WithLabelValues("fetch_failed").Inc()
		st := e.update(func(s *model.DeviceState) {
			s.Online = false
			s.SyncError = err.Error()
			s.Progress = model.Progress{}
		})
		e.persistState(st)
		return Result{Status: st.Status}, fmt.Errorf("fetch assignment: %w", err)
	}

	if a.Device.Blocked {
		msg := defaultBlockedMessage
		if a.Device.BlockedMessage != nil && *a.Device.BlockedMessage != "" {
			msg = *a.Device.BlockedMessage
		}
		return e.fatal(code, model.StatusBlocked, msg)
	}

	m := Build(code, a)
	if a.Playlist == nil && m.Override == nil {
		return e.fatal(code, model.StatusNoPlaylist, "No playlist is assigned to this device.")
	}

	res := Result{Total: len(m.Media)}
	pending := e.diff(m)
	res.Downloaded, res.Failed = e.download(ctx, m, pending)

	if res.Failed > 0 {
		metrics.SyncPasses.WithLabelValues("download_failed").Inc()
		st := e.update(func(s *model.DeviceState) {
			s.Online = true
			s.SyncError = fmt.Sprintf("download failed: %d of %d", res.Failed, len(pending))
		})
		e.persistState(st)
		res.Status = st.Status
		return res, fmt.Errorf("%w: %d of %d", ErrDownloadsFailed, res.Failed, len(pending))
	}

	changed, err := e.swap(m)
	if err != nil {
		metrics.SyncPasses.WithLabelValues("download_failed").Inc()
		st := e.update(func(s *model.DeviceState) { s.SyncError = "storage error: " + err.Error() })
		res.Status = st.Status
		return res, err
	}
	res.Changed = changed
	res.Pruned = e.prune(m)
	res.Status = model.StatusOK
	metrics.SyncPasses.WithLabelValues("ok").Inc()
	return res, nil
}

func (e *Engine) fatal(code, status, msg string) (Result, error) {
	now := e.opts.Now()
	if e.State().Status == model.StatusPending && status != model.StatusBlocked {
		metrics.SyncPasses.WithLabelValues("pending").Inc()
		st := e.update(func(s *model.DeviceState) {
			s.DeviceCode = code
			s.StatusMessage = msg
			s.Online = true
			s.SyncError = ""
			s.LastSync = &now
			s.Progress = model.Progress{}
		})
		e.persistState(st)
		log.Info().Str("device_code", code).Str("remote_status", status).Msg("device still pending registration")
		return Result{Status: model.StatusPending}, nil
	}
	metrics.SyncPasses.WithLabelValues("fatal").Inc()
	st := e.update(func(s *model.DeviceState) {
		s.DeviceCode = code
		s.Status = status
		s.StatusMessage = msg
		s.Online = true
		s.SyncError = ""
		s.LastSync = &now
		s.Progress = model.Progress{}
	})
	e.persistState(st)
	log.Warn().Str("device_code", code).Str("status", status).Msg(msg)
	return Result{Status: status}, nil
}
