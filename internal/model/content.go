package model

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	MediaImage = "image"
	MediaVideo = "video"
)

// Media is a content asset shared by any number of playlist items.
type Media struct {
	ID           string    `db:"id"            json:"id"`
	Name         string    `db:"name"          json:"name"`
	Type         string    `db:"type"          json:"type"`
	URL          string    `db:"file_url"      json:"url"`
	Duration     *int      `db:"duration"      json:"duration,omitempty"`
	FileSize     int64     `db:"file_size"     json:"file_size"`
	Width        *int      `db:"width"         json:"width,omitempty"`
	Height       *int      `db:"height"        json:"height,omitempty"`
	ThumbnailURL *string   `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}

func (m Media) IsVideo() bool {
	return strings.EqualFold(m.Type, MediaVideo)
}

// Fingerprint changes whenever the bytes behind the media may have changed.
func (m Media) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%d|%d", m.ID, m.URL, m.UpdatedAt.UTC().UnixNano(), m.FileSize)
}

// FileName is the last path element of the remote URL, used for progress display.
func (m Media) FileName() string {
	u := m.URL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if name := path.Base(u); name != "." && name != "/" && name != "" {
		return name
	}
	return m.ID
}
