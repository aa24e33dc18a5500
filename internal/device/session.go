// Package device wires the offline-first core of one player into a Session:
// local store, connectivity monitor, manifest sync, mutation queue, schedule
// resolution and the rotation engine. Every loop lives in the supervisor tree
// so stopping its context tears all timers down.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/connectivity"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/localstore"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/manifest"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/metrics"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/playback"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/schedule"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/supervisor"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/syncqueue"
)

type Options struct {
	SyncInterval       time.Duration
	DrainInterval      time.Duration
	ExpiryInterval     time.Duration
	RescheduleInterval time.Duration
	Defaults           schedule.Defaults
	Location           *time.Location
	Now                func() time.Time
}

type Session struct {
	Store   *localstore.Store
	Monitor *connectivity.Monitor
	Sync    *manifest.Engine
	Queue   *syncqueue.Queue
	Player  *playback.Engine

	opts Options

	syncReq  chan struct{}
	drainReq chan struct{}

	mu         sync.Mutex
	resolution schedule.Resolution
	lastDrain  *syncqueue.Report
	onSynced   []func(model.DeviceState)

	resetMu sync.Mutex
}

func New(store *localstore.Store, monitor *connectivity.Monitor, engine *manifest.Engine,
	queue *syncqueue.Queue, player *playback.Engine, opts Options) *Session {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 30 * time.Second
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = 30 * time.Second
	}
	if opts.ExpiryInterval <= 0 {
		opts.ExpiryInterval = 10 * time.Minute
	}
	if opts.RescheduleInterval <= 0 {
		opts.RescheduleInterval = 15 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		Store:    store,
		Monitor:  monitor,
		Sync:     engine,
		Queue:    queue,
		Player:   player,
		opts:     opts,
		syncReq:  make(chan struct{}, 1),
		drainReq: make(chan struct{}, 1),
	}
}

// Register adds every loop of the session to the tree.
func (s *Session) Register(t *supervisor.Tree) {
	t.AddData(s.Monitor)
	t.AddData(supervisor.Func{Name: "cache-expiry", Run: s.runExpiry})
	t.AddSync(supervisor.Func{Name: "sync-loop", Run: s.runSync})
	t.AddSync(supervisor.Func{Name: "drain-loop", Run: s.runDrain})
	t.AddSync(supervisor.Func{Name: "online-edge", Run: s.runEdges})
	t.AddPlayback(supervisor.Func{Name: "scheduler", Run: s.runScheduler})
	t.AddPlayback(s.Player)
}

// OnSynced registers a callback run after every sync attempt.
func (s *Session) OnSynced(fn func(model.DeviceState)) {
	s.mu.Lock()
	s.onSynced = append(s.onSynced, fn)
	s.mu.Unlock()
}

// TriggerSync asks the sync loop for a pass. Requests made while one is
// pending are merged. Unlike the periodic tick it also runs in fatal states.
func (s *Session) TriggerSync() {
	select {
	case s.syncReq <- struct{}{}:
	default:
	}
}

func (s *Session) TriggerDrain() {
	select {
	case s.drainReq <- struct{}{}:
	default:
	}
}

// SyncOnce runs a pass now. Automatic passes are skipped while the device is
// in a fatal state, since those need an operator.
func (s *Session) SyncOnce(ctx context.Context, explicit bool) {
	if s.Sync.DeviceCode() == "" {
		return
	}
	status := s.Sync.State().Status
	if !explicit && model.IsFatalStatus(status) {
		log.Debug().Str("status", status).Msg("automatic sync skipped")
		return
	}
	if status == model.StatusPending {
		// the devices insert has to reach the remote before it can answer
		s.DrainOnce(ctx)
	}
	_, err := s.Sync.Sync(ctx)
	if errors.Is(err, manifest.ErrSyncInFlight) {
		return
	}
	s.Reschedule()

	st := s.Sync.State()
	s.mu.Lock()
	hooks := append([]func(model.DeviceState){}, s.onSynced...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(st)
	}
}

// DrainOnce runs one drain pass and keeps its report for the state view.
func (s *Session) DrainOnce(ctx context.Context) {
	rep, err := s.Queue.Drain(ctx)
	if errors.Is(err, syncqueue.ErrDrainInFlight) {
		return
	}
	s.mu.Lock()
	s.lastDrain = &rep
	s.mu.Unlock()
}

func (s *Session) runSync(ctx context.Context) error {
	s.SyncOnce(ctx, false)
	t := time.NewTicker(s.opts.SyncInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.SyncOnce(ctx, false)
		case <-s.syncReq:
			s.SyncOnce(ctx, true)
		}
	}
}

func (s *Session) runDrain(ctx context.Context) error {
	t := time.NewTicker(s.opts.DrainInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if !s.Monitor.Online() {
				continue
			}
			s.DrainOnce(ctx)
		case <-s.drainReq:
			s.DrainOnce(ctx)
		}
	}
}

// runEdges consumes offline to online transitions: one sync and one drain
// per edge, then the latch is cleared.
func (s *Session) runEdges(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.Monitor.Events():
			s.HandleOnline(ctx, ev)
		}
	}
}

func (s *Session) HandleOnline(ctx context.Context, ev connectivity.Transition) {
	log.Info().Str("source", ev.Source).Time("at", ev.At).Msg("reconnected, resyncing")
	s.SyncOnce(ctx, false)
	s.DrainOnce(ctx)
	s.Monitor.ClearWasOffline()
}

func (s *Session) runExpiry(ctx context.Context) error {
	t := time.NewTicker(s.opts.ExpiryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			n, err := s.Store.ClearExpired(localstore.RegionCache)
			if err != nil {
				log.Warn().Err(err).Msg("cache expiry failed")
			} else if n > 0 {
				log.Debug().Int("removed", n).Msg("expired cache entries removed")
			}
			s.Store.RunGC()
		}
	}
}

func (s *Session) runScheduler(ctx context.Context) error {
	s.Reschedule()
	t := time.NewTicker(s.opts.RescheduleInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Reschedule()
		}
	}
}

// Reschedule resolves the cached manifest against the current time and hands
// the result to the rotation engine.
func (s *Session) Reschedule() schedule.Resolution {
	now := s.opts.Now().In(s.opts.Location)

	var res schedule.Resolution
	st := s.Sync.State()
	if model.IsFatalStatus(st.Status) || st.Status == model.StatusSetup || st.Status == model.StatusPending {
		res = schedule.Resolve(nil, now, s.opts.Defaults)
	} else {
		m, err := s.Sync.Manifest()
		if err != nil && !errors.Is(err, localstore.ErrNotFound) {
			log.Warn().Err(err).Msg("failed to read cached manifest")
		}
		res = schedule.Resolve(m, now, s.opts.Defaults)
	}

	s.mu.Lock()
	changed := res.Key != s.resolution.Key
	s.resolution = res
	s.mu.Unlock()
	if changed {
		metrics.PlaybackResolutions.WithLabelValues(res.Reason).Inc()
	}
	s.Player.Load(res)
	return res
}

// RecordEvent queues an insert for table. The record gets an id when it has none.
func (s *Session) RecordEvent(ctx context.Context, table string, record map[string]any) (model.SyncQueueItem, error) {
	if record == nil {
		record = map[string]any{}
	}
	if id, _ := record["id"].(string); id == "" {
		record["id"] = uuid.NewString()
	}
	if _, ok := record["device_code"]; !ok {
		if code := s.Sync.DeviceCode(); code != "" {
			record["device_code"] = code
		}
	}
	return s.Queue.Enqueue(ctx, model.Mutation{Table: table, Op: model.OpInsert, Record: record})
}

// Reset stops playback and wipes the local store. A failure is returned as
// *localstore.ResetError.
func (s *Session) Reset(ctx context.Context) error {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.Player.Load(schedule.Resolve(nil, s.opts.Now(), s.opts.Defaults))
	if err := s.Store.ClearAll(); err != nil {
		var rerr *localstore.ResetError
		if !errors.As(err, &rerr) {
			rerr = &localstore.ResetError{Err: err}
		}
		log.Error().Err(rerr).Msg("device reset failed")
		return rerr
	}
	s.Sync.SetDeviceCode("")
	s.mu.Lock()
	s.resolution = schedule.Resolution{}
	s.lastDrain = nil
	s.mu.Unlock()
	log.Warn().Msg("device reset, waiting for setup")
	return nil
}

// Activate switches the session to a newly provisioned device code. The
// device stays pending registration, so every sync drains the queue first and
// keeps retrying until the remote answers with content.
func (s *Session) Activate(code string) error {
	if code == "" {
		return fmt.Errorf("activate: empty device code")
	}
	s.Sync.Provisioned(code)
	s.Reschedule()
	s.TriggerSync()
	return nil
}

// View is everything the renderer needs to draw the current screen.
type View struct {
	Device     model.DeviceState `json:"device"`
	Playback   playback.Snapshot `json:"playback"`
	Resolution string            `json:"resolution"`
	Channel    string            `json:"channel,omitempty"`
	Online     bool              `json:"online"`
	WasOffline bool              `json:"was_offline"`
	LastDrain  *syncqueue.Report `json:"last_drain,omitempty"`
	Queue      int               `json:"queue"`
}

func (s *Session) Snapshot(ctx context.Context) View {
	v := View{
		Device:     s.Sync.State(),
		Playback:   s.Player.Snapshot(),
		Online:     s.Monitor.Online(),
		WasOffline: s.Monitor.WasOffline(),
	}
	s.mu.Lock()
	v.Resolution = s.resolution.Reason
	v.Channel = s.resolution.ChannelName
	v.LastDrain = s.lastDrain
	s.mu.Unlock()
	if pending, err := s.Queue.Pending(ctx); err == nil {
		v.Queue = len(pending)
	}
	return v
}
