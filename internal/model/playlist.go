package model

import "time"

const (
	ScaleCover   = "cover"
	ScaleContain = "contain"
	ScaleFill    = "fill"
)

type Playlist struct {
	ID           string    `db:"id"            json:"id"`
	Name         string    `db:"name"          json:"name"`
	Description  *string   `db:"description"   json:"description,omitempty"`
	Active       bool      `db:"is_active"     json:"is_active"`
	ContentScale string    `db:"content_scale" json:"content_scale"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
	Items        []Item    `db:"-"             json:"items,omitempty"`
	Channels     []Channel `db:"-"             json:"channels,omitempty"`
}

// UsesChannels reports whether the playlist is scheduled by time-boxed channels
// instead of its legacy flat item list.
func (p *Playlist) UsesChannels() bool {
	return p != nil && len(p.Channels) > 0
}

// Item references one media entry inside a playlist or a channel.
type Item struct {
	ID               string        `db:"id"                json:"id"`
	ParentID         string        `db:"parent_id"         json:"-"`
	MediaID          string        `db:"media_id"          json:"media_id"`
	Position         int           `db:"position"          json:"position"`
	DurationOverride *int          `db:"duration_override" json:"duration_override,omitempty"`
	Schedule         *ItemSchedule `db:"-"                 json:"schedule,omitempty"`
	Media            *Media        `db:"-"                 json:"media,omitempty"`
}
