package playback

import (
	"time"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/schedule"
)

// Item is the renderer's view of one playable item.
type Item struct {
	ItemID     string `json:"item_id"`
	MediaID    string `json:"media_id"`
	Type       string `json:"type"`
	Source     string `json:"source"`
	Cached     bool   `json:"cached"`
	DurationMs int64  `json:"duration_ms"`
	Width      *int   `json:"width,omitempty"`
	Height     *int   `json:"height,omitempty"`
}

type Snapshot struct {
	State        State     `json:"state"`
	Key          string    `json:"key"`
	Reason       string    `json:"reason,omitempty"`
	ContentScale string    `json:"content_scale,omitempty"`
	Index        int       `json:"index"`
	Count        int       `json:"count"`
	Current      *Item     `json:"current,omitempty"`
	Next         *Item     `json:"next,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// Snapshot returns the current playback view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{
		State:        e.state,
		Key:          e.key,
		Reason:       e.reason,
		ContentScale: e.scale,
		Index:        e.index,
		Count:        len(e.items),
		StartedAt:    e.startedAt,
	}
	if e.state == StateIdle || len(e.items) == 0 {
		return s
	}
	cur := e.view(e.items[e.index])
	s.Current = &cur
	nxt := e.view(e.items[(e.index+1)%len(e.items)])
	s.Next = &nxt
	return s
}

// view resolves where the renderer should load media from: the cached version
// matching the item's fingerprint, otherwise the original remote URL.
func (e *Engine) view(p schedule.Playable) Item {
	it := Item{
		ItemID:     p.ItemID,
		MediaID:    p.MediaID,
		Type:       p.Type,
		Source:     p.URL,
		DurationMs: p.Duration.Milliseconds(),
		Width:      p.Media.Width,
		Height:     p.Media.Height,
	}
	if e.blobs == nil {
		return it
	}
	if gen, ok := e.blobs.CachedGeneration(p.MediaID, p.Media.Fingerprint()); ok {
		it.Source = e.opts.BlobURL(p.MediaID, gen)
		it.Cached = true
	}
	return it
}

// Subscribe streams snapshots on every state change. Slow subscribers only
// see the latest one. Call cancel to unsubscribe.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- e.Snapshot()

	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) publish(s Snapshot) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
