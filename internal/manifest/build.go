package manifest

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
)

// Build turns a remote assignment into the manifest document cached on the
// device. Ordering is fixed so the same assignment always encodes to the same bytes.
func Build(code string, a *model.Assignment) *model.Manifest {
	m := &model.Manifest{
		DeviceCode:   code,
		ContentScale: model.ScaleCover,
		Media:        []model.Media{},
	}
	used := map[string]bool{}
	keep := func(items []model.Item) []model.Item {
		out := make([]model.Item, 0, len(items))
		for _, it := range items {
			if _, ok := a.Media[it.MediaID]; !ok {
				log.Warn().Str("item_id", it.ID).Str("media_id", it.MediaID).Msg("item references unknown media, skipping")
				continue
			}
			it.Media = nil
			used[it.MediaID] = true
			out = append(out, it)
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Position != out[j].Position {
				return out[i].Position < out[j].Position
			}
			return out[i].ID < out[j].ID
		})
		return out
	}

	if p := a.Playlist; p != nil {
		m.PlaylistID = p.ID
		m.PlaylistName = p.Name
		if p.ContentScale != "" {
			m.ContentScale = p.ContentScale
		}
		if p.Active || p.UsesChannels() {
			m.Items = keep(p.Items)
			for _, ch := range p.Channels {
				ch.Items = keep(ch.Items)
				m.Channels = append(m.Channels, ch)
			}
			sort.SliceStable(m.Channels, func(i, j int) bool {
				if m.Channels[i].Position != m.Channels[j].Position {
					return m.Channels[i].Position < m.Channels[j].Position
				}
				return m.Channels[i].ID < m.Channels[j].ID
			})
		}
	}

	if id := a.Device.OverrideMedia; id != nil && *id != "" {
		if _, ok := a.Media[*id]; ok {
			m.Override = &model.Item{ID: "override:" + *id, MediaID: *id}
			used[*id] = true
		} else {
			log.Warn().Str("media_id", *id).Msg("override media not found, ignoring")
		}
	}

	for id := range used {
		m.Media = append(m.Media, a.Media[id])
	}
	m.SortMedia()
	return m
}
