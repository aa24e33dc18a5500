package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
)

func (s *pgStore) getPlaylist(ctx context.Context, id string) (model.Playlist, error) {
	var p model.Playlist
	const q = `
	SELECT id, name, description,
	       COALESCE(is_active, true)        AS is_active,
	       COALESCE(content_scale, 'cover') AS content_scale,
	       COALESCE(updated_at, 'epoch'::timestamptz) AS updated_at
	FROM playlists
	WHERE id = $1;`
	if err := s.db.GetContext(ctx, &p, q, id); err != nil {
		if err != sql.ErrNoRows {
			log.Error().Err(err).Str("playlist_id", id).Msg("getPlaylist failed")
		}
		return model.Playlist{}, err
	}
	return p, nil
}

type channelRow struct {
	ID         string        `db:"id"`
	PlaylistID string        `db:"playlist_id"`
	Name       string        `db:"name"`
	StartTime  string        `db:"start_time"`
	EndTime    string        `db:"end_time"`
	Weekdays   pq.Int64Array `db:"days_of_week"`
	Active     bool          `db:"is_active"`
	Fallback   bool          `db:"is_fallback"`
	Priority   int           `db:"priority"`
	Position   int           `db:"position"`
}

func (s *pgStore) listChannels(ctx context.Context, playlistID string) ([]model.Channel, error) {
	var rows []channelRow
	const q = `
	SELECT id, playlist_id, name,
	       start_time::text AS start_time,
	       end_time::text   AS end_time,
	       days_of_week,
	       COALESCE(is_active, true)    AS is_active,
	       COALESCE(is_fallback, false) AS is_fallback,
	       COALESCE(priority, 0)        AS priority,
	       COALESCE(position, 0)        AS position
	FROM playlist_channels
	WHERE playlist_id = $1
	ORDER BY position, id;`
	if err := s.db.SelectContext(ctx, &rows, q, playlistID); err != nil {
		log.Error().Err(err).Str("playlist_id", playlistID).Msg("listChannels failed")
		return nil, err
	}
	out := make([]model.Channel, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Channel{
			ID:         r.ID,
			PlaylistID: r.PlaylistID,
			Name:       r.Name,
			StartTime:  r.StartTime,
			EndTime:    r.EndTime,
			Weekdays:   ints(r.Weekdays),
			Active:     r.Active,
			Fallback:   r.Fallback,
			Priority:   r.Priority,
			Position:   r.Position,
		})
	}
	return out, nil
}

// itemRow covers both playlist_items and playlist_channel_items.
type itemRow struct {
	ID               string         `db:"id"`
	ParentID         string         `db:"parent_id"`
	MediaID          string         `db:"media_id"`
	Position         int            `db:"position"`
	DurationOverride sql.NullInt64  `db:"duration_override"`
	StartDate        sql.NullString `db:"start_date"`
	EndDate          sql.NullString `db:"end_date"`
	Weekdays         pq.Int64Array  `db:"days_of_week"`
	StartTime        sql.NullString `db:"start_time"`
	EndTime          sql.NullString `db:"end_time"`
}

func (r itemRow) toModel() model.Item {
	it := model.Item{
		ID:       r.ID,
		ParentID: r.ParentID,
		MediaID:  r.MediaID,
		Position: r.Position,
	}
	if r.DurationOverride.Valid {
		d := int(r.DurationOverride.Int64)
		it.DurationOverride = &d
	}
	sch := &model.ItemSchedule{
		Weekdays:  ints(r.Weekdays),
		StartTime: r.StartTime.String,
		EndTime:   r.EndTime.String,
	}
	if r.StartDate.Valid {
		sch.StartDate = &r.StartDate.String
	}
	if r.EndDate.Valid {
		sch.EndDate = &r.EndDate.String
	}
	if !sch.IsZero() {
		it.Schedule = sch
	}
	return it
}

// itemColumns lists the columns shared by both item tables. p is an optional
// table alias prefix such as "ci.".
func itemColumns(p string) string {
	return fmt.Sprintf(`
	       %[1]sid, %[1]smedia_id, COALESCE(%[1]sposition, 0) AS position, %[1]sduration_override,
	       %[1]sstart_date::text AS start_date, %[1]send_date::text AS end_date,
	       %[1]sdays_of_week,
	       %[1]sstart_time::text AS start_time, %[1]send_time::text AS end_time`, p)
}

// legacy flat item list
func (s *pgStore) listPlaylistItems(ctx context.Context, playlistID string) ([]model.Item, error) {
	var rows []itemRow
	q := `
	SELECT playlist_id AS parent_id,` + itemColumns("") + `
	FROM playlist_items
	WHERE playlist_id = $1
	ORDER BY position, id;`
	if err := s.db.SelectContext(ctx, &rows, q, playlistID); err != nil {
		log.Error().Err(err).Str("playlist_id", playlistID).Msg("listPlaylistItems failed")
		return nil, err
	}
	return toItems(rows), nil
}

func (s *pgStore) listChannelItems(ctx context.Context, playlistID string) ([]model.Item, error) {
	var rows []itemRow
	q := `
	SELECT ci.channel_id AS parent_id,` + itemColumns("ci.") + `
	FROM playlist_channel_items ci
	JOIN playlist_channels c ON c.id = ci.channel_id
	WHERE c.playlist_id = $1
	ORDER BY ci.channel_id, ci.position, ci.id;`
	if err := s.db.SelectContext(ctx, &rows, q, playlistID); err != nil {
		log.Error().Err(err).Str("playlist_id", playlistID).Msg("listChannelItems failed")
		return nil, err
	}
	return toItems(rows), nil
}

func toItems(rows []itemRow) []model.Item {
	out := make([]model.Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}

func ints(a pq.Int64Array) []int {
	if len(a) == 0 {
		return nil
	}
	out := make([]int, len(a))
	for i, v := range a {
		out[i] = int(v)
	}
	return out
}
