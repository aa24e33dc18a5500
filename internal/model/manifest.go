package model

import "sort"

// Assignment is everything the remote store returns for one device code.
type Assignment struct {
	Device   Device
	Playlist *Playlist
	Media    map[string]Media
}

// Manifest is the cached description of what a device should play.
type Manifest struct {
	DeviceCode   string    `json:"device_code"`
	PlaylistID   string    `json:"playlist_id,omitempty"`
	PlaylistName string    `json:"playlist_name,omitempty"`
	ContentScale string    `json:"content_scale"`
	Channels     []Channel `json:"channels,omitempty"`
	Items        []Item    `json:"items,omitempty"`
	Override     *Item     `json:"override,omitempty"`
	Media        []Media   `json:"media"`
}

// MediaByID indexes the manifest's media list.
func (m *Manifest) MediaByID() map[string]Media {
	out := make(map[string]Media, len(m.Media))
	for _, md := range m.Media {
		out[md.ID] = md
	}
	return out
}

// SortMedia orders the media list by ID so the encoded document is stable.
func (m *Manifest) SortMedia() {
	sort.Slice(m.Media, func(i, j int) bool { return m.Media[i].ID < m.Media[j].ID })
}
