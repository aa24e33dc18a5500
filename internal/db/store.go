// exposes the remote.Store implementation backed by PostgreSQL
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/remote"
)

type pgStore struct {
	db     *sqlx.DB
	tables map[string]bool
}

// compile-time check that pgStore implements remote.Store
var _ remote.Store = (*pgStore)(nil)

// NewStore wraps db. Only tables in mutableTables accept mutations.
func NewStore(db *sqlx.DB, mutableTables []string) remote.Store {
	t := make(map[string]bool, len(mutableTables))
	for _, name := range mutableTables {
		t[name] = true
	}
	return &pgStore{db: db, tables: t}
}

// FetchAssignment loads the device, then its playlist, channels and items in
// parallel, then every referenced media row.
func (s *pgStore) FetchAssignment(ctx context.Context, deviceCode string) (*model.Assignment, error) {
	dev, err := s.getDeviceByCode(ctx, deviceCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", remote.ErrDeviceNotFound, deviceCode)
	}
	if err != nil {
		return nil, err
	}

	out := &model.Assignment{Device: dev, Media: map[string]model.Media{}}
	mediaIDs := map[string]struct{}{}
	if dev.OverrideMedia != nil && *dev.OverrideMedia != "" {
		mediaIDs[*dev.OverrideMedia] = struct{}{}
	}

	if dev.PlaylistID != nil && *dev.PlaylistID != "" {
		pl, err := s.loadPlaylist(ctx, *dev.PlaylistID)
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn().Str("device_code", deviceCode).Str("playlist_id", *dev.PlaylistID).
				Msg("assigned playlist does not exist")
		} else if err != nil {
			return nil, err
		} else {
			out.Playlist = pl
			for _, it := range pl.Items {
				mediaIDs[it.MediaID] = struct{}{}
			}
			for _, ch := range pl.Channels {
				for _, it := range ch.Items {
					mediaIDs[it.MediaID] = struct{}{}
				}
			}
		}
	}

	if len(mediaIDs) > 0 {
		ids := make([]string, 0, len(mediaIDs))
		for id := range mediaIDs {
			ids = append(ids, id)
		}
		media, err := s.listMedia(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, m := range media {
			out.Media[m.ID] = m
		}
	}
	return out, nil
}

func (s *pgStore) loadPlaylist(ctx context.Context, playlistID string) (*model.Playlist, error) {
	var (
		pl           model.Playlist
		items        []model.Item
		channels     []model.Channel
		channelItems []model.Item
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pl, err = s.getPlaylist(gctx, playlistID)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = s.listPlaylistItems(gctx, playlistID)
		return err
	})
	g.Go(func() error {
		var err error
		channels, err = s.listChannels(gctx, playlistID)
		return err
	})
	g.Go(func() error {
		var err error
		channelItems, err = s.listChannelItems(gctx, playlistID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byChannel := map[string][]model.Item{}
	for _, it := range channelItems {
		byChannel[it.ParentID] = append(byChannel[it.ParentID], it)
	}
	for i := range channels {
		channels[i].Items = byChannel[channels[i].ID]
	}
	pl.Items = items
	pl.Channels = channels
	return &pl, nil
}

func (s *pgStore) Apply(ctx context.Context, m model.Mutation) error {
	if !s.tables[m.Table] {
		return fmt.Errorf("%w: %s", remote.ErrUnknownTarget, m.Table)
	}
	q, args, err := buildMutation(m)
	if err != nil {
		return fmt.Errorf("%w: %v", remote.ErrRejected, err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		log.Error().Err(err).Str("table", m.Table).Str("op", m.Op).Msg("Apply failed")
		return classifyExecErr(err)
	}
	return nil
}
