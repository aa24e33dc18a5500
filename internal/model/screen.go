package model

import "time"

// Device represents a display registered to a store.
type Device struct {
	ID             string     `db:"id"              json:"id"`
	Code           string     `db:"device_code"     json:"device_code"`
	Name           string     `db:"name"            json:"name"`
	StoreID        *string    `db:"store_id"        json:"store_id,omitempty"`
	GroupID        *string    `db:"group_id"        json:"group_id,omitempty"`
	CameraEnabled  bool       `db:"camera_enabled"  json:"camera_enabled"`
	Blocked        bool       `db:"is_blocked"      json:"is_blocked"`
	BlockedMessage *string    `db:"blocked_message" json:"blocked_message,omitempty"`
	OverrideMedia  *string    `db:"override_media_id" json:"override_media_id,omitempty"`
	PlaylistID     *string    `db:"current_playlist_id" json:"current_playlist_id,omitempty"`
	LastSeenAt     *time.Time `db:"last_seen_at"    json:"last_seen_at,omitempty"`
}

const (
	StatusOK         = "ok"
	StatusSetup      = "setup"
	StatusNotFound   = "not_found"
	StatusBlocked    = "blocked"
	StatusNoPlaylist = "no_playlist"
)

// StatusPending is a freshly provisioned device whose record or playlist has
// not reached the remote yet. Syncs keep retrying in this state.
const StatusPending = "pending_registration"

// IsFatalStatus reports states that need an operator before syncing resumes.
func IsFatalStatus(s string) bool {
	switch s {
	case StatusNotFound, StatusBlocked, StatusNoPlaylist:
		return true
	}
	return false
}

// Progress is the download counter shown while a sync is fetching blobs.
type Progress struct {
	Downloaded  int    `json:"downloaded"`
	Total       int    `json:"total"`
	CurrentFile string `json:"current_file,omitempty"`
}

// DeviceState is the locally persisted view of the device's sync status.
type DeviceState struct {
	DeviceCode    string     `json:"device_code"`
	Status        string     `json:"status"`
	StatusMessage string     `json:"status_message,omitempty"`
	LastSync      *time.Time `json:"last_sync,omitempty"`
	Online        bool       `json:"online"`
	SyncError     string     `json:"sync_error,omitempty"`
	Progress      Progress   `json:"progress"`
}
