// Package playback owns the rotation through the currently resolved items.
//
// The engine is a small state machine driven by timers (images), end-of-media
// events (videos) and new resolutions from the scheduler. The renderer only
// observes snapshots.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/metrics"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/schedule"
)

// State of the rotation. StateAdvancing is only held inside advance while
// the index moves.
type State string

const (
	StateIdle      State = "idle"
	StatePlaying   State = "playing"
	StateAdvancing State = "advancing"
	StateFading    State = "fading"
)

// BlobIndex reports which cached version, if any, holds a media's bytes.
type BlobIndex interface {
	CachedGeneration(mediaID, fingerprint string) (string, bool)
}

type Options struct {
	Fade time.Duration
	// VideoGrace is added to a video's known duration before the safety timer
	// advances without an end event.
	VideoGrace time.Duration
	// BlobURL builds the local URL for one cached version of a media.
	BlobURL func(mediaID, generation string) string
	// After replaces time.After, mainly for tests.
	After func(time.Duration) <-chan time.Time
	Now   func() time.Time
}

type Engine struct {
	blobs BlobIndex
	opts  Options

	mu        sync.Mutex
	state     State
	key       string
	reason    string
	scale     string
	items     []schedule.Playable
	index     int
	gen       uint64
	startedAt time.Time

	wake chan struct{}

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
}

func NewEngine(blobs BlobIndex, opts Options) *Engine {
	if opts.After == nil {
		opts.After = time.After
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BlobURL == nil {
		opts.BlobURL = func(id, gen string) string { return "/api/tv/blobs/" + id + "?g=" + gen }
	}
	if opts.VideoGrace <= 0 {
		opts.VideoGrace = 2 * time.Second
	}
	return &Engine{
		blobs: blobs,
		opts:  opts,
		state: StateIdle,
		wake:  make(chan struct{}, 1),
		subs:  map[int]chan Snapshot{},
	}
}

// Load installs a new resolution. The same key keeps the current position;
// a different key restarts at index 0. No items means Idle.
func (e *Engine) Load(res schedule.Resolution) {
	e.mu.Lock()
	same := res.Key == e.key && len(res.Items) == len(e.items)
	e.items = res.Items
	e.reason = res.Reason
	e.scale = res.ContentScale
	if same {
		e.mu.Unlock()
		return
	}
	e.key = res.Key
	e.index = 0
	e.gen++
	if len(res.Items) == 0 {
		e.state = StateIdle
	} else {
		e.state = StatePlaying
		e.startedAt = e.opts.Now()
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()

	log.Info().
		Str("reason", res.Reason).
		Str("channel_id", res.ChannelID).
		Int("items", len(res.Items)).
		Msg("playback content changed")
	e.signal()
	e.publish(snap)
}

// Advance moves to the next item, wrapping to 0. It returns false when idle.
func (e *Engine) Advance() bool {
	ok := e.advance(0, false)
	if ok {
		e.signal()
	}
	return ok
}

// MediaEnded advances when the renderer reports the end of the current item.
// Stale events for other items are ignored.
func (e *Engine) MediaEnded(itemID string) bool {
	e.mu.Lock()
	current := e.state != StateIdle && len(e.items) > 0 && e.items[e.index].ItemID == itemID
	e.mu.Unlock()
	if !current {
		return false
	}
	return e.Advance()
}

func (e *Engine) advance(gen uint64, checkGen bool) bool {
	e.mu.Lock()
	if e.state == StateIdle || len(e.items) == 0 || (checkGen && gen != e.gen) {
		e.mu.Unlock()
		return false
	}
	e.state = StateAdvancing
	e.index = (e.index + 1) % len(e.items)
	e.gen++
	e.state = StatePlaying
	e.startedAt = e.opts.Now()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	metrics.PlaybackAdvances.Inc()
	e.publish(snap)
	return true
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) setFading(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.state != StatePlaying {
		e.mu.Unlock()
		return
	}
	e.state = StateFading
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(snap)
}

// Serve runs the rotation timers until ctx is done.
func (e *Engine) Serve(ctx context.Context) error {
	for {
		// state is re-read below, so a pending wake is already accounted for
		select {
		case <-e.wake:
		default:
		}

		e.mu.Lock()
		gen := e.gen
		idle := e.state == StateIdle || len(e.items) == 0
		var cur schedule.Playable
		if !idle {
			cur = e.items[e.index]
		}
		e.mu.Unlock()

		if idle {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.wake:
				continue
			}
		}

		d := cur.Duration
		if cur.Media.IsVideo() {
			d += e.opts.VideoGrace
		}
		var fade <-chan time.Time
		if e.opts.Fade > 0 && cur.Duration > e.opts.Fade && !cur.Media.IsVideo() {
			fade = e.opts.After(cur.Duration - e.opts.Fade)
		}
		next := e.opts.After(d)

	wait:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.wake:
				break wait
			case <-fade:
				fade = nil
				e.setFading(gen)
			case <-next:
				if cur.Media.IsVideo() {
					log.Debug().Str("item_id", cur.ItemID).Msg("video end not reported, advancing on timer")
				}
				e.advance(gen, true)
				break wait
			}
		}
	}
}

func (e *Engine) String() string { return "playback-engine" }
