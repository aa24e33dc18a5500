package packets

import (
	"time"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/playback"
)

// RESPONSES FOR /api/tv/*

// NowResponse is what the renderer needs to paint the next frame.
type NowResponse struct {
	Status        string         `json:"status"`
	StatusMessage string         `json:"status_message,omitempty"`
	SetupURL      string         `json:"setup_url,omitempty"`
	State         playback.State `json:"state"`
	Reason        string         `json:"reason,omitempty"`
	ContentScale  string         `json:"content_scale,omitempty"`
	Item          *playback.Item `json:"item,omitempty"`
	Next          *playback.Item `json:"next,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	Online        bool           `json:"online"`
	SyncError     string         `json:"sync_error,omitempty"`
}

// ConfigResponse is the device configuration object shared with the pages.
type ConfigResponse struct {
	SyncIntervalMs          int64 `json:"syncIntervalMs"`
	MaxRetries              int   `json:"maxRetries"`
	DefaultImageDurationSec int   `json:"defaultImageDurationSec"`
	DefaultVideoDurationSec int   `json:"defaultVideoDurationSec"`
	TimeSnapMinutes         int   `json:"timeSnapMinutes"`
}

type AcceptedResponse struct {
	Accepted bool   `json:"accepted"`
	ID       string `json:"id,omitempty"`
}

type MediaEndedResponse struct {
	Advanced bool `json:"advanced"`
}

type ResetResponse struct {
	Status   string `json:"status"`
	SetupURL string `json:"setup_url"`
}
