package db

import (
	"context"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
)

func (s *pgStore) getDeviceByCode(ctx context.Context, code string) (model.Device, error) {
	var d model.Device
	err := s.db.GetContext(ctx, &d, `
		SELECT id, device_code, name, store_id, group_id,
		       COALESCE(camera_enabled, false) AS camera_enabled,
		       COALESCE(is_blocked, false)     AS is_blocked,
		       blocked_message, override_media_id, current_playlist_id, last_seen_at
		FROM devices
		WHERE device_code = $1
		`, code)
	return d, err
}
