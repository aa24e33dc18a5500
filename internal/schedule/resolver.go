// Package schedule decides what should be playing at a given instant.
// Everything here is pure: callers pass the manifest and the time.
package schedule

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
)

type Decision string

const (
	DecisionChannel  Decision = "channel"
	DecisionFallback Decision = "fallback"
	DecisionNone     Decision = "none"
)

const (
	ReasonOverride  = "override"
	ReasonChannel   = "channel"
	ReasonFallback  = "fallback"
	ReasonPlaylist  = "playlist"
	ReasonNoContent = "no_content"
)

// Defaults are used when neither the item nor the media carries a duration.
type Defaults struct {
	ImageSec int
	VideoSec int
}

// Playable is one resolved item ready for the rotation engine.
type Playable struct {
	ItemID   string        `json:"item_id"`
	MediaID  string        `json:"media_id"`
	Type     string        `json:"type"`
	URL      string        `json:"url"`
	Position int           `json:"position"`
	Duration time.Duration `json:"duration"`
	Media    model.Media   `json:"-"`
}

type Resolution struct {
	Key          string     `json:"key"`
	Reason       string     `json:"reason"`
	ChannelID    string     `json:"channel_id,omitempty"`
	ChannelName  string     `json:"channel_name,omitempty"`
	ContentScale string     `json:"content_scale"`
	Items        []Playable `json:"items"`
}

func (r Resolution) Empty() bool {
	return len(r.Items) == 0
}

// ChannelEligible checks the active flag, weekday set and time window.
func ChannelEligible(ch model.Channel, now time.Time) bool {
	if !ch.Active {
		return false
	}
	if !weekdayAllowed(ch.Weekdays, now.Weekday()) {
		return false
	}
	w, err := ParseWindow(ch.StartTime, ch.EndTime)
	if err != nil {
		log.Debug().Err(err).Str("channel_id", ch.ID).Msg("channel has invalid window")
		return false
	}
	return w.Contains(now)
}

// ItemPlayable applies an item's own schedule override. Items without one always play.
func ItemPlayable(it model.Item, now time.Time) bool {
	s := it.Schedule
	if s.IsZero() {
		return true
	}
	today := now.Format("2006-01-02")
	if s.StartDate != nil && *s.StartDate != "" && today < *s.StartDate {
		return false
	}
	if s.EndDate != nil && *s.EndDate != "" && today > *s.EndDate {
		return false
	}
	if !weekdayAllowed(s.Weekdays, now.Weekday()) {
		return false
	}
	if s.StartTime == "" && s.EndTime == "" {
		return true
	}
	start, end := s.StartTime, s.EndTime
	if start == "" {
		start = "00:00"
	}
	if end == "" {
		end = "23:59"
	}
	w, err := ParseWindow(start, end)
	if err != nil {
		log.Debug().Err(err).Str("item_id", it.ID).Msg("item has invalid schedule window")
		return false
	}
	return w.Contains(now)
}

func windowLength(ch model.Channel) int {
	w, err := ParseWindow(ch.StartTime, ch.EndTime)
	if err != nil {
		return secondsPerDay
	}
	return w.Length()
}

// SelectChannel picks the channel to play now. Eligible regular channels are
// ranked by priority (highest first), then the narrowest window, then position,
// then id. With none eligible the fallback channel is used.
func SelectChannel(channels []model.Channel, now time.Time) (*model.Channel, Decision) {
	var eligible []model.Channel
	var fallbacks []model.Channel
	for _, ch := range channels {
		if ch.Fallback {
			if ch.Active {
				fallbacks = append(fallbacks, ch)
			}
			continue
		}
		if ChannelEligible(ch, now) {
			eligible = append(eligible, ch)
		}
	}

	if len(eligible) > 0 {
		sort.SliceStable(eligible, func(i, j int) bool {
			a, b := eligible[i], eligible[j]
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			if la, lb := windowLength(a), windowLength(b); la != lb {
				return la < lb
			}
			if a.Position != b.Position {
				return a.Position < b.Position
			}
			return a.ID < b.ID
		})
		return &eligible[0], DecisionChannel
	}

	if len(fallbacks) == 0 {
		return nil, DecisionNone
	}
	sort.SliceStable(fallbacks, func(i, j int) bool {
		if fallbacks[i].Position != fallbacks[j].Position {
			return fallbacks[i].Position < fallbacks[j].Position
		}
		return fallbacks[i].ID < fallbacks[j].ID
	})
	if len(fallbacks) > 1 {
		log.Warn().
			Int("count", len(fallbacks)).
			Str("chosen", fallbacks[0].ID).
			Msg("playlist has more than one fallback channel")
	}
	return &fallbacks[0], DecisionFallback
}

// Duration returns how long an item stays on screen.
func Duration(it model.Item, media model.Media, d Defaults) time.Duration {
	if it.DurationOverride != nil && *it.DurationOverride > 0 {
		return time.Duration(*it.DurationOverride) * time.Second
	}
	if media.Duration != nil && *media.Duration > 0 {
		return time.Duration(*media.Duration) * time.Second
	}
	if media.IsVideo() {
		return time.Duration(d.VideoSec) * time.Second
	}
	return time.Duration(d.ImageSec) * time.Second
}

func playables(items []model.Item, media map[string]model.Media, now time.Time, d Defaults) []Playable {
	sorted := make([]model.Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	out := make([]Playable, 0, len(sorted))
	for _, it := range sorted {
		if !ItemPlayable(it, now) {
			continue
		}
		md, ok := media[it.MediaID]
		if !ok {
			if it.Media == nil {
				continue
			}
			md = *it.Media
		}
		out = append(out, Playable{
			ItemID:   it.ID,
			MediaID:  md.ID,
			Type:     md.Type,
			URL:      md.URL,
			Position: it.Position,
			Duration: Duration(it, md, d),
			Media:    md,
		})
	}
	return out
}

// Resolve maps a manifest and an instant to the ordered list of items to play.
// Override media preempts the playlist. A resolution with no items has reason
// no_content.
func Resolve(m *model.Manifest, now time.Time, d Defaults) Resolution {
	if m == nil {
		return finish(Resolution{Reason: ReasonNoContent})
	}
	res := Resolution{ContentScale: m.ContentScale}
	media := m.MediaByID()

	if m.Override != nil {
		res.Reason = ReasonOverride
		res.Items = playables([]model.Item{*m.Override}, media, now, d)
		if len(res.Items) > 0 {
			return finish(res)
		}
	}

	if len(m.Channels) > 0 {
		ch, decision := SelectChannel(m.Channels, now)
		if ch == nil {
			res.Reason = ReasonNoContent
			res.Items = nil
			return finish(res)
		}
		res.Reason = ReasonChannel
		if decision == DecisionFallback {
			res.Reason = ReasonFallback
		}
		res.ChannelID = ch.ID
		res.ChannelName = ch.Name
		res.Items = playables(ch.Items, media, now, d)
		return finish(res)
	}

	res.Reason = ReasonPlaylist
	res.Items = playables(m.Items, media, now, d)
	return finish(res)
}

func finish(r Resolution) Resolution {
	if len(r.Items) == 0 {
		r.Reason = ReasonNoContent
		r.Items = nil
	}
	r.Key = contentKey(r)
	return r
}

// contentKey identifies the resolved content set: reason, channel, and the
// ordered items with their durations.
func contentKey(r Resolution) string {
	var b strings.Builder
	b.WriteString(r.Reason)
	b.WriteByte('|')
	b.WriteString(r.ChannelID)
	for _, p := range r.Items {
		b.WriteByte('|')
		b.WriteString(p.ItemID)
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(int64(p.Duration/time.Second), 10))
	}
	return b.String()
}
