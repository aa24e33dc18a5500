package syncqueue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/config"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/localstore"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/remote"
)

func newQueue(t *testing.T, opts Options) (*Queue, *remote.MemoryStore, *localstore.Store) {
	t.Helper()
	store, err := localstore.Open(localstore.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	rs := remote.NewMemoryStore(config.DefaultMutableTables)
	return New(store, rs, opts), rs, store
}

func detection(id string) model.Mutation {
	return model.Mutation{
		Table:  "device_detection_logs",
		Op:     model.OpInsert,
		Record: map[string]any{"id": id, "device_code": "ABC123", "gender": "f"},
	}
}

func TestEnqueue_Validates(t *testing.T) {
	q, _, _ := newQueue(t, Options{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, model.Mutation{Op: model.OpInsert})
	assert.ErrorIs(t, err, ErrInvalidMutation)

	_, err = q.Enqueue(ctx, model.Mutation{Table: "devices", Op: "upsert"})
	assert.ErrorIs(t, err, ErrInvalidMutation)

	_, err = q.Enqueue(ctx, model.Mutation{Table: "devices", Op: model.OpUpdate, Record: map[string]any{"name": "x"}})
	assert.ErrorIs(t, err, ErrInvalidMutation)
}

func TestDrain_FIFO(t *testing.T) {
	q, rs, _ := newQueue(t, Options{})
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3", "e4"} {
		_, err := q.Enqueue(ctx, detection(id))
		require.NoError(t, err)
	}
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 4)
	assert.Equal(t, "e1", pending[0].Mutation.Record["id"])

	rep, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Attempted: 4, Delivered: 4, Took: rep.Took}, rep)

	applied := rs.Applied()
	require.Len(t, applied, 4)
	for i, id := range []string{"e1", "e2", "e3", "e4"} {
		assert.Equal(t, id, applied[i].Record["id"])
	}

	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// TestDrain_RetryExhaustion follows one item that keeps failing: three drains
// attempt it, the fourth drops it without calling the remote store.
func TestDrain_RetryExhaustion(t *testing.T) {
	var reports []Report
	q, rs, _ := newQueue(t, Options{MaxRetries: 3, OnReport: func(r Report) { reports = append(reports, r) }})
	ctx := context.Background()
	rs.SetFailApply(func(model.Mutation) error { return errors.New("permission denied for table") })

	_, err := q.Enqueue(ctx, detection("e1"))
	require.NoError(t, err)

	for pass := 1; pass <= 3; pass++ {
		rep, err := q.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Attempted)
		assert.Equal(t, 1, rep.Failed)
		assert.Equal(t, 1, rep.Remaining)

		pending, err := q.Pending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, pass, pending[0].Retries)
		assert.Equal(t, "permission denied for table", pending[0].LastError)
	}
	_, applies := rs.Calls()
	assert.Equal(t, 3, applies)

	rep, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Attempted)
	assert.Equal(t, 1, rep.Dropped)
	assert.Equal(t, 1, rep.Failed)
	assert.Zero(t, rep.Remaining)

	_, applies = rs.Calls()
	assert.Equal(t, 3, applies, "dropped item must not be attempted")
	assert.Len(t, reports, 4)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrain_FailureDoesNotBlockLaterItems(t *testing.T) {
	q, rs, _ := newQueue(t, Options{})
	ctx := context.Background()
	rs.SetFailApply(func(m model.Mutation) error {
		if m.Record["id"] == "e2" {
			return errors.New("constraint violation")
		}
		return nil
	})

	for _, id := range []string{"e1", "e2", "e3"} {
		_, err := q.Enqueue(ctx, detection(id))
		require.NoError(t, err)
	}
	rep, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Delivered)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Remaining)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e2", pending[0].Mutation.Record["id"])
}

func TestDrain_UnavailableKeepsRetryBudget(t *testing.T) {
	q, rs, _ := newQueue(t, Options{})
	ctx := context.Background()
	rs.SetFailApply(func(model.Mutation) error { return remote.ErrUnavailable })

	_, err := q.Enqueue(ctx, detection("e1"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, detection("e2"))
	require.NoError(t, err)

	_, err = q.Drain(ctx)
	assert.ErrorIs(t, err, remote.ErrUnavailable)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Zero(t, pending[0].Retries)
	_, applies := rs.Calls()
	assert.Equal(t, 1, applies, "pass stops at the first unavailable error")
}

func TestDrain_NotReentrant(t *testing.T) {
	q, rs, _ := newQueue(t, Options{})
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	rs.SetFailApply(func(model.Mutation) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	})
	_, err := q.Enqueue(ctx, detection("e1"))
	require.NoError(t, err)

	done := make(chan Report, 1)
	go func() {
		rep, _ := q.Drain(ctx)
		done <- rep
	}()
	<-entered

	_, err = q.Drain(ctx)
	assert.ErrorIs(t, err, ErrDrainInFlight)
	assert.True(t, q.Draining())

	close(release)
	rep := <-done
	assert.Equal(t, 1, rep.Delivered)
}

func TestDrain_StopsOnCancel(t *testing.T) {
	q, rs, _ := newQueue(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := q.Enqueue(ctx, detection("e1"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, detection("e2"))
	require.NoError(t, err)

	rs.SetFailApply(func(model.Mutation) error {
		cancel()
		return nil
	})
	rep, err := q.Drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, rep.Delivered)

	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := localstore.Open(localstore.Options{Dir: dir})
	require.NoError(t, err)
	q := New(store, remote.NewMemoryStore(config.DefaultMutableTables), Options{})
	_, err = q.Enqueue(context.Background(), detection("e1"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = localstore.Open(localstore.Options{Dir: dir})
	require.NoError(t, err)
	defer store.Close()
	pending, err := New(store, remote.NewMemoryStore(nil), Options{}).Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "device_detection_logs", pending[0].Mutation.Table)
}
