package device

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/config"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/connectivity"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/localstore"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/manifest"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/playback"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/provisioning"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/remote"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/schedule"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/storage"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/syncqueue"
)

type staticFetcher struct{}

func (staticFetcher) Fetch(_ context.Context, url string) (*storage.Object, error) {
	body := "bytes:" + url
	return &storage.Object{Body: io.NopCloser(strings.NewReader(body)), ContentType: "image/png", Size: int64(len(body))}, nil
}

func intp(v int) *int { return &v }

func lobbyAssignment() *model.Assignment {
	pl := "pl-1"
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return &model.Assignment{
		Device: model.Device{ID: "dev-1", Code: "ABC123", PlaylistID: &pl},
		Playlist: &model.Playlist{ID: pl, Name: "Lobby", Active: true, Channels: []model.Channel{{
			ID: "ch-1", PlaylistID: pl, Name: "All day", StartTime: "00:00", EndTime: "23:59", Active: true,
			Items: []model.Item{
				{ID: "i1", MediaID: "m1", Position: 0, DurationOverride: intp(5)},
				{ID: "i2", MediaID: "m2", Position: 1, DurationOverride: intp(7)},
			},
		}}},
		Media: map[string]model.Media{
			"m1": {ID: "m1", Type: model.MediaImage, URL: "https://cdn.example.com/m1.png", UpdatedAt: updated},
			"m2": {ID: "m2", Type: model.MediaImage, URL: "https://cdn.example.com/m2.png", UpdatedAt: updated},
		},
	}
}

type fixture struct {
	session *Session
	remote  *remote.MemoryStore
	store   *localstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureFor(t, "ABC123")
}

func newFixtureFor(t *testing.T, deviceCode string) *fixture {
	t.Helper()
	store, err := localstore.Open(localstore.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rs := remote.NewMemoryStore(config.DefaultMutableTables)
	rs.SetAssignment("ABC123", lobbyAssignment())

	now := func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }
	mon := connectivity.NewMonitor(nil, time.Second)
	eng := manifest.NewEngine(store, rs, staticFetcher{}, manifest.Options{DeviceCode: deviceCode, Now: now})
	queue := syncqueue.New(store, rs, syncqueue.Options{MaxRetries: 3, Now: now})
	player := playback.NewEngine(store, playback.Options{Now: now})

	s := New(store, mon, eng, queue, player, Options{
		Defaults: schedule.Defaults{ImageSec: 10, VideoSec: 8},
		Location: time.UTC,
		Now:      now,
	})
	return &fixture{session: s, remote: rs, store: store}
}

// TestSession_OfflineAndBackOnline walks a cached device through a network
// outage and the reconnect that follows.
func TestSession_OfflineAndBackOnline(t *testing.T) {
	f := newFixture(t)
	s := f.session
	ctx := context.Background()

	s.Monitor.Report(true, "test")
	s.SyncOnce(ctx, false)

	snap := s.Player.Snapshot()
	require.Equal(t, playback.StatePlaying, snap.State)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "i1", snap.Current.ItemID)
	assert.True(t, snap.Current.Cached)
	key := snap.Key

	// network drops
	s.Monitor.Report(false, "test")
	f.remote.SetFailFetch(errors.New("dial tcp: network is unreachable"))
	s.SyncOnce(ctx, false)
	s.Reschedule()

	snap = s.Player.Snapshot()
	assert.Equal(t, key, snap.Key, "playback keeps the cached content")
	assert.True(t, strings.HasPrefix(snap.Current.Source, "/api/tv/blobs/m1?g="))
	assert.NotEmpty(t, s.Sync.State().SyncError)

	_, err := s.RecordEvent(ctx, "device_detection_logs", map[string]any{"id": "ev-1", "gender": "m"})
	require.NoError(t, err)
	_, err = s.RecordEvent(ctx, "device_status_logs", map[string]any{"status": "online"})
	require.NoError(t, err)
	assert.Empty(t, f.remote.Applied())

	// network returns
	f.remote.SetFailFetch(nil)
	s.Monitor.Report(true, "test")
	assert.True(t, s.Monitor.WasOffline())

	var ev connectivity.Transition
	select {
	case ev = <-s.Monitor.Events():
	default:
		t.Fatal("expected an online edge")
	}
	fetches, _ := f.remote.Calls()
	s.HandleOnline(ctx, ev)

	after, _ := f.remote.Calls()
	assert.Equal(t, fetches+1, after, "exactly one sync per edge")
	assert.False(t, s.Monitor.WasOffline())

	applied := f.remote.Applied()
	require.Len(t, applied, 2)
	assert.Equal(t, "device_detection_logs", applied[0].Table)
	assert.Equal(t, "device_status_logs", applied[1].Table)
	assert.Equal(t, "ABC123", applied[1].Record["device_code"])
	assert.NotEmpty(t, applied[1].Record["id"])

	view := s.Snapshot(ctx)
	assert.Zero(t, view.Queue)
	require.NotNil(t, view.LastDrain)
	assert.Equal(t, 2, view.LastDrain.Delivered)
	assert.Empty(t, view.Device.SyncError)

	select {
	case <-s.Monitor.Events():
		t.Fatal("edge must be delivered once")
	default:
	}
}

func TestSession_FatalStatusSkipsAutomaticSync(t *testing.T) {
	f := newFixture(t)
	s := f.session
	ctx := context.Background()

	a := lobbyAssignment()
	a.Device.Blocked = true
	f.remote.SetAssignment("ABC123", a)

	s.SyncOnce(ctx, false)
	require.Equal(t, model.StatusBlocked, s.Sync.State().Status)
	assert.Equal(t, playback.StateIdle, s.Player.Snapshot().State)

	fetches, _ := f.remote.Calls()
	s.SyncOnce(ctx, false)
	after, _ := f.remote.Calls()
	assert.Equal(t, fetches, after)

	f.remote.SetAssignment("ABC123", lobbyAssignment())
	s.SyncOnce(ctx, true)
	assert.Equal(t, model.StatusOK, s.Sync.State().Status)
	assert.Equal(t, playback.StatePlaying, s.Player.Snapshot().State)
}

func TestSession_ProvisionedDeviceRegistersOnceInsertLands(t *testing.T) {
	f := newFixtureFor(t, "")
	s := f.session
	ctx := context.Background()

	setup := provisioning.NewService(provisioning.NewMemoryCodes(), s.Queue, f.store, time.Minute)
	setup.OnProvisioned = func(code string) { require.NoError(t, s.Activate(code)) }
	p, err := setup.RequestPairing(ctx)
	require.NoError(t, err)
	d, err := setup.Provision(ctx, provisioning.Request{PairingCode: p.Code, Name: "Lobby"})
	require.NoError(t, err)

	assert.Equal(t, d.Code, s.Sync.DeviceCode())
	assert.Equal(t, model.StatusPending, s.Sync.State().Status)
	assert.Len(t, s.syncReq, 1)

	// the remote has not seen the device yet: the insert goes out first and
	// the device stays pending instead of turning fatal
	s.SyncOnce(ctx, true)
	assert.Equal(t, model.StatusPending, s.Sync.State().Status)
	applied := f.remote.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, "devices", applied[0].Table)
	pending, err := s.Queue.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// registered but no playlist yet: periodic syncs keep going
	noPlaylist := lobbyAssignment()
	noPlaylist.Playlist = nil
	noPlaylist.Device.PlaylistID = nil
	f.remote.SetAssignment(d.Code, noPlaylist)
	s.SyncOnce(ctx, false)
	assert.Equal(t, model.StatusPending, s.Sync.State().Status)
	assert.Equal(t, playback.StateIdle, s.Player.Snapshot().State)

	f.remote.SetAssignment(d.Code, lobbyAssignment())
	s.SyncOnce(ctx, false)
	assert.Equal(t, model.StatusOK, s.Sync.State().Status)
	assert.Equal(t, playback.StatePlaying, s.Player.Snapshot().State)

	// once registered, losing the record is fatal again
	f.remote.SetAssignment(d.Code, nil)
	s.SyncOnce(ctx, true)
	assert.Equal(t, model.StatusNotFound, s.Sync.State().Status)
}

func TestSession_PendingSurvivesRestart(t *testing.T) {
	f := newFixtureFor(t, "")
	require.NoError(t, f.session.Activate("NEW00001"))

	eng := manifest.NewEngine(f.store, f.remote, staticFetcher{}, manifest.Options{DeviceCode: "NEW00001"})
	require.NoError(t, eng.Restore())
	assert.Equal(t, model.StatusPending, eng.State().Status)
	assert.False(t, model.IsFatalStatus(eng.State().Status))
}

func TestSession_TriggersCoalesce(t *testing.T) {
	f := newFixture(t)
	s := f.session

	s.TriggerSync()
	s.TriggerSync()
	s.TriggerDrain()
	s.TriggerDrain()
	assert.Len(t, s.syncReq, 1)
	assert.Len(t, s.drainReq, 1)
}

func TestSession_Reset(t *testing.T) {
	f := newFixture(t)
	s := f.session
	ctx := context.Background()

	s.SyncOnce(ctx, false)
	require.Equal(t, playback.StatePlaying, s.Player.Snapshot().State)

	require.NoError(t, s.Reset(ctx))
	assert.Equal(t, "", s.Sync.DeviceCode())
	assert.Equal(t, model.StatusSetup, s.Sync.State().Status)
	assert.Equal(t, playback.StateIdle, s.Player.Snapshot().State)

	metas, err := f.store.ListBlobMeta()
	require.NoError(t, err)
	assert.Empty(t, metas)

	require.NoError(t, f.store.Close())
	err = s.Reset(ctx)
	var rerr *localstore.ResetError
	assert.ErrorAs(t, err, &rerr)
}

func TestSession_ServesUntilCancelled(t *testing.T) {
	f := newFixture(t)
	s := f.session
	s.opts.SyncInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.runSync(ctx) }()

	require.Eventually(t, func() bool {
		return s.Sync.State().LastSync != nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
