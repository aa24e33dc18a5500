// Package syncqueue buffers locally originated mutations in the local store
// and delivers them to the remote store in FIFO order.
package syncqueue

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/localstore"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/metrics"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/remote"
)

var (
	ErrDrainInFlight   = errors.New("syncqueue: drain already in progress")
	ErrInvalidMutation = errors.New("syncqueue: invalid mutation")
)

const DefaultMaxRetries = 3

type Options struct {
	MaxRetries int
	Now        func() time.Time
	// OnReport is called once at the end of every drain pass.
	OnReport func(Report)
}

// Report aggregates one drain pass. Dropped items are also counted in Failed.
type Report struct {
	Attempted int           `json:"attempted"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	Dropped   int           `json:"dropped"`
	Remaining int           `json:"remaining"`
	Took      time.Duration `json:"took"`
}

type Queue struct {
	store  *localstore.Store
	remote remote.Store
	opts   Options

	draining atomic.Bool

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func New(store *localstore.Store, rs remote.Store, opts Options) *Queue {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		store:   store,
		remote:  rs,
		opts:    opts,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (q *Queue) newID(now time.Time) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(now), q.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Enqueue appends m to the local queue. It never talks to the remote store.
func (q *Queue) Enqueue(ctx context.Context, m model.Mutation) (model.SyncQueueItem, error) {
	if err := ctx.Err(); err != nil {
		return model.SyncQueueItem{}, err
	}
	if m.Table == "" || !model.ValidOp(m.Op) {
		return model.SyncQueueItem{}, fmt.Errorf("%w: table=%q op=%q", ErrInvalidMutation, m.Table, m.Op)
	}
	if m.Op != model.OpInsert {
		if id, _ := m.Record["id"].(string); id == "" {
			return model.SyncQueueItem{}, fmt.Errorf("%w: %s requires record id", ErrInvalidMutation, m.Op)
		}
	}

	now := q.opts.Now()
	id, err := q.newID(now)
	if err != nil {
		return model.SyncQueueItem{}, fmt.Errorf("generate queue id: %w", err)
	}
	item := model.SyncQueueItem{ID: id, Mutation: m, EnqueuedAt: now}
	if err := q.store.PutJSON(localstore.RegionSyncQueue, id, item); err != nil {
		log.Error().Err(err).Str("table", m.Table).Str("op", m.Op).Msg("failed to enqueue mutation")
		return model.SyncQueueItem{}, err
	}
	metrics.QueueDepth.Inc()
	log.Debug().Str("queue_id", id).Str("table", m.Table).Str("op", m.Op).Msg("mutation enqueued")
	return item, nil
}

// Pending returns queued items oldest first.
func (q *Queue) Pending(ctx context.Context) ([]model.SyncQueueItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := q.store.ListPending(localstore.RegionSyncQueue)
	if err != nil {
		return nil, err
	}
	items := make([]model.SyncQueueItem, 0, len(recs))
	for _, r := range recs {
		var it model.SyncQueueItem
		if err := json.Unmarshal(r.Value, &it); err != nil {
			log.Warn().Err(err).Str("queue_id", r.Key).Msg("skipping unreadable queue item")
			continue
		}
		if it.ID == "" {
			it.ID = r.Key
		}
		items = append(items, it)
	}
	metrics.QueueDepth.Set(float64(len(items)))
	return items, nil
}

// Drain delivers queued items in FIFO order. Items that already used up their
// retries are dropped without an attempt. A call made while another drain is
// running returns ErrDrainInFlight.
func (q *Queue) Drain(ctx context.Context) (Report, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return Report{}, ErrDrainInFlight
	}
	defer q.draining.Store(false)

	start := q.opts.Now()
	rep, err := q.drain(ctx)
	rep.Took = time.Since(start)

	if rep.Attempted > 0 || rep.Dropped > 0 || err != nil {
		ev := log.Info()
		if rep.Failed > 0 || err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Int("attempted", rep.Attempted).
			Int("delivered", rep.Delivered).
			Int("failed", rep.Failed).
			Int("dropped", rep.Dropped).
			Int("remaining", rep.Remaining).
			Dur("took", rep.Took).
			Msg("drain pass finished")
	}
	if q.opts.OnReport != nil {
		q.opts.OnReport(rep)
	}
	return rep, err
}

func (q *Queue) drain(ctx context.Context) (Report, error) {
	var rep Report
	items, err := q.Pending(ctx)
	if err != nil {
		return rep, err
	}
	rep.Remaining = len(items)

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		if it.Retries >= q.opts.MaxRetries {
			if err := q.store.Delete(localstore.RegionSyncQueue, it.ID); err != nil {
				return rep, err
			}
			rep.Dropped++
			rep.Failed++
			rep.Remaining--
			metrics.DrainItems.WithLabelValues("dropped").Inc()
			log.Debug().Str("queue_id", it.ID).Str("table", it.Mutation.Table).
				Str("last_error", it.LastError).Msg("dropping mutation after max retries")
			continue
		}

		rep.Attempted++
		err := q.remote.Apply(ctx, it.Mutation)
		if err == nil {
			if err := q.store.Delete(localstore.RegionSyncQueue, it.ID); err != nil {
				return rep, err
			}
			rep.Delivered++
			rep.Remaining--
			metrics.DrainItems.WithLabelValues("delivered").Inc()
			continue
		}

		if errors.Is(err, remote.ErrUnavailable) || ctx.Err() != nil {
			// nothing reached the remote store, keep the retry budget
			rep.Attempted--
			return rep, err
		}

		rep.Failed++
		metrics.DrainItems.WithLabelValues("failed").Inc()
		it.Retries++
		it.LastError = err.Error()
		if perr := q.store.PutJSON(localstore.RegionSyncQueue, it.ID, it); perr != nil {
			return rep, perr
		}
		log.Debug().Err(err).Str("queue_id", it.ID).Int("retries", it.Retries).Msg("mutation delivery failed")
	}
	metrics.QueueDepth.Set(float64(rep.Remaining))
	return rep, nil
}

// Draining reports whether a drain pass is running.
func (q *Queue) Draining() bool {
	return q.draining.Load()
}
