package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/remote"
)

func TestBuildMutation_Insert(t *testing.T) {
	q, args, err := buildMutation(model.Mutation{
		Table: "device_detection_logs",
		Op:    model.OpInsert,
		Record: map[string]any{
			"id":          "d1",
			"device_code": "ABC123",
			"metadata":    map[string]any{"age": 31},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "device_detection_logs" ("device_code", "id", "metadata") VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING;`, q)
	assert.Equal(t, []any{"ABC123", "d1", `{"age":31}`}, args)
}

func TestBuildMutation_Update(t *testing.T) {
	q, args, err := buildMutation(model.Mutation{
		Table:  "devices",
		Op:     model.OpUpdate,
		Record: map[string]any{"id": "dev-1", "last_seen_at": "2026-03-04T12:00:00Z", "status": "online"},
	})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "devices" SET "last_seen_at" = $1, "status" = $2 WHERE id = $3;`, q)
	assert.Equal(t, []any{"2026-03-04T12:00:00Z", "online", "dev-1"}, args)
}

func TestBuildMutation_Delete(t *testing.T) {
	q, args, err := buildMutation(model.Mutation{Table: "playback_logs", Op: model.OpDelete, Record: map[string]any{"id": "p1"}})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "playback_logs" WHERE id = $1;`, q)
	assert.Equal(t, []any{"p1"}, args)
}

func TestBuildMutation_Rejects(t *testing.T) {
	_, _, err := buildMutation(model.Mutation{Table: "devices", Op: model.OpUpdate, Record: map[string]any{"name": "x"}})
	assert.ErrorIs(t, err, errMissingID)

	_, _, err = buildMutation(model.Mutation{Table: "devices", Op: model.OpInsert, Record: map[string]any{"name; drop": "x"}})
	assert.Error(t, err)

	_, _, err = buildMutation(model.Mutation{Table: "devices", Op: "upsert", Record: map[string]any{"id": "x"}})
	assert.Error(t, err)
}

func TestClassifyExecErr(t *testing.T) {
	fk := fmt.Errorf("exec: %w", &pq.Error{Code: "23503", Message: "violates foreign key constraint"})
	err := classifyExecErr(fk)
	assert.ErrorIs(t, err, remote.ErrRejected)
	assert.True(t, remote.Permanent(err))

	refused := errors.New("dial tcp: connection refused")
	assert.Same(t, refused, classifyExecErr(refused))

	deadlock := &pq.Error{Code: "40P01"}
	assert.False(t, remote.Permanent(classifyExecErr(deadlock)))
}

func TestItemRow_ToModel(t *testing.T) {
	r := itemRow{ID: "i1", ParentID: "c1", MediaID: "m1", Position: 2}
	it := r.toModel()
	assert.Nil(t, it.Schedule)
	assert.Nil(t, it.DurationOverride)

	r.DurationOverride.Valid = true
	r.DurationOverride.Int64 = 12
	r.StartTime.Valid = true
	r.StartTime.String = "18:00:00"
	it = r.toModel()
	require.NotNil(t, it.Schedule)
	assert.Equal(t, "18:00:00", it.Schedule.StartTime)
	assert.Equal(t, 12, *it.DurationOverride)
}
