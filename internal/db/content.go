package db

import (
	"context"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
)

func (s *pgStore) listMedia(ctx context.Context, ids []string) ([]model.Media, error) {
	var out []model.Media
	const q = `
	SELECT id, COALESCE(name, '') AS name, type, file_url, duration,
	       COALESCE(file_size, 0) AS file_size, width, height, thumbnail_url,
	       COALESCE(updated_at, 'epoch'::timestamptz) AS updated_at
	FROM media_items
	WHERE id = ANY($1)
	ORDER BY id;`
	if err := s.db.SelectContext(ctx, &out, q, pq.Array(ids)); err != nil {
		log.Error().Err(err).Int("count", len(ids)).Msg("listMedia failed")
		return nil, err
	}
	return out, nil
}
