package model

// Channel is a time-boxed content block inside a playlist.
// StartTime/EndTime are "HH:MM" or "HH:MM:SS" and may wrap past midnight.
type Channel struct {
	ID         string `db:"id"          json:"id"`
	PlaylistID string `db:"playlist_id" json:"playlist_id"`
	Name       string `db:"name"        json:"name"`
	StartTime  string `db:"start_time"  json:"start_time"`
	EndTime    string `db:"end_time"    json:"end_time"`
	Weekdays   []int  `db:"-"           json:"weekdays"`
	Active     bool   `db:"is_active"   json:"is_active"`
	Fallback   bool   `db:"is_fallback" json:"is_fallback"`
	Priority   int    `db:"priority"    json:"priority"`
	Position   int    `db:"position"    json:"position"`
	Items      []Item `db:"-"           json:"items,omitempty"`
}

// ItemSchedule further restricts when a single item may play. Every part is optional.
// Dates are YYYY-MM-DD and inclusive.
type ItemSchedule struct {
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`
	Weekdays  []int   `json:"weekdays,omitempty"`
	StartTime string  `json:"start_time,omitempty"`
	EndTime   string  `json:"end_time,omitempty"`
}

// IsZero reports whether the schedule carries no restriction at all.
func (s *ItemSchedule) IsZero() bool {
	return s == nil || (s.StartDate == nil && s.EndDate == nil && len(s.Weekdays) == 0 &&
		s.StartTime == "" && s.EndTime == "")
}
