package playback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/schedule"
)

type fakeBlobs map[string]bool

func (f fakeBlobs) CachedGeneration(mediaID, _ string) (string, bool) {
	if !f[mediaID] {
		return "", false
	}
	return "g1", true
}

func images(key string, secs ...int) schedule.Resolution {
	res := schedule.Resolution{Key: key, Reason: schedule.ReasonChannel}
	for i, s := range secs {
		id := string(rune('a' + i))
		res.Items = append(res.Items, schedule.Playable{
			ItemID:   "item-" + id,
			MediaID:  "media-" + id,
			Type:     model.MediaImage,
			URL:      "https://cdn.example.com/" + id + ".jpg",
			Position: i,
			Duration: time.Duration(s) * time.Second,
			Media:    model.Media{ID: "media-" + id, Type: model.MediaImage},
		})
	}
	return res
}

// TestAdvance_Wraparound checks that N advances visit every index once and return to 0.
func TestAdvance_Wraparound(t *testing.T) {
	e := NewEngine(nil, Options{})
	e.Load(images("k", 1, 1, 1, 1))

	var visited []int
	for i := 0; i < 4; i++ {
		require.True(t, e.Advance())
		visited = append(visited, e.Snapshot().Index)
	}
	assert.Equal(t, []int{1, 2, 3, 0}, visited)
	assert.Equal(t, StatePlaying, e.Snapshot().State)
}

func TestLoad_SameKeyKeepsPosition(t *testing.T) {
	e := NewEngine(nil, Options{})
	e.Load(images("k1", 5, 7, 9))
	e.Advance()
	e.Advance()

	e.Load(images("k1", 5, 7, 9))
	assert.Equal(t, 2, e.Snapshot().Index)

	e.Load(images("k2", 5, 7))
	assert.Equal(t, 0, e.Snapshot().Index, "new content set restarts at the first item")
}

func TestLoad_EmptyIsIdle(t *testing.T) {
	e := NewEngine(nil, Options{})
	e.Load(images("k", 5))
	e.Load(schedule.Resolution{Key: "none", Reason: schedule.ReasonNoContent})

	snap := e.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Current)
	assert.False(t, e.Advance())
}

func TestMediaEnded_OnlyForCurrentItem(t *testing.T) {
	e := NewEngine(nil, Options{})
	e.Load(images("k", 5, 7))

	assert.False(t, e.MediaEnded("item-b"))
	assert.Equal(t, 0, e.Snapshot().Index)

	assert.True(t, e.MediaEnded("item-a"))
	assert.Equal(t, 1, e.Snapshot().Index)
}

func TestSnapshot_SourcePrefersLocalBlob(t *testing.T) {
	e := NewEngine(fakeBlobs{"media-a": true}, Options{})
	e.Load(images("k", 5, 7))

	snap := e.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "/api/tv/blobs/media-a?g=g1", snap.Current.Source)
	assert.True(t, snap.Current.Cached)
	require.NotNil(t, snap.Next)
	assert.Equal(t, "https://cdn.example.com/b.jpg", snap.Next.Source)
	assert.False(t, snap.Next.Cached)
}

// TestServe_RotatesOnDurations drives the rotation with a controlled timer and
// expects 5s, 7s, then 5s again.
func TestServe_RotatesOnDurations(t *testing.T) {
	requests := make(chan time.Duration)
	fire := make(chan time.Time)
	e := NewEngine(nil, Options{
		After: func(d time.Duration) <-chan time.Time {
			requests <- d
			return fire
		},
	})
	e.Load(images("k", 5, 7))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Serve(ctx) }()

	expect := []struct {
		d     time.Duration
		index int
	}{
		{5 * time.Second, 0},
		{7 * time.Second, 1},
		{5 * time.Second, 0},
		{7 * time.Second, 1},
	}
	for _, step := range expect {
		select {
		case d := <-requests:
			assert.Equal(t, step.d, d)
			assert.Equal(t, step.index, e.Snapshot().Index)
		case <-time.After(2 * time.Second):
			t.Fatal("timer was not armed")
		}
		fire <- time.Now()
	}
}

func TestServe_FadeBeforeAdvance(t *testing.T) {
	requests := make(chan time.Duration, 4)
	fadeFire := make(chan time.Time, 1)
	nextFire := make(chan time.Time, 1)
	e := NewEngine(nil, Options{
		Fade: 500 * time.Millisecond,
		After: func(d time.Duration) <-chan time.Time {
			requests <- d
			if d == 4500*time.Millisecond {
				return fadeFire
			}
			return nextFire
		},
	})
	e.Load(images("k", 5, 7))

	sub, unsubscribe := e.Subscribe()
	defer unsubscribe()
	<-sub

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Serve(ctx) }()

	fadeFire <- time.Now()
	require.Eventually(t, func() bool { return e.Snapshot().State == StateFading }, time.Second, time.Millisecond)
	assert.Equal(t, 0, e.Snapshot().Index, "fading does not move the index")

	nextFire <- time.Now()
	require.Eventually(t, func() bool { return e.Snapshot().Index == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StatePlaying, e.Snapshot().State)
}

func TestSubscribe_ReceivesChanges(t *testing.T) {
	e := NewEngine(nil, Options{})
	sub, unsubscribe := e.Subscribe()
	defer unsubscribe()

	first := <-sub
	assert.Equal(t, StateIdle, first.State)

	e.Load(images("k", 5, 7))
	e.Advance()

	var last Snapshot
	require.Eventually(t, func() bool {
		select {
		case last = <-sub:
		default:
		}
		return last.Index == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, last.Count)
}
