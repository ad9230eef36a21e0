package entities

import (
	"fmt"
	"slices"
	"time"
	_ "time/tzdata" // tenant timezones must resolve without system zoneinfo
)

var wallClockLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// LoadZone resolves an IANA timezone name, empty meaning UTC.
func LoadZone(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q", ErrConfigurationInvalid, tz)
	}
	return loc, nil
}

// ParseWallClock interprets value as a wall clock time in tz.
func ParseWallClock(value, tz string) (time.Time, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return time.Time{}, err
	}
	for _, layout := range wallClockLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrConfigurationInvalid, value)
}

// PreventEntry suppresses automated replies to Identity until Timestamp in Timezone.
type PreventEntry struct {
	Identity  string `json:"identity"`
	Timestamp string `json:"timestamp"`
	Timezone  string `json:"timezone"`
}

// ActiveAt reports whether the window is still open. Entries missing a
// timestamp or timezone, or that cannot be parsed, never suppress.
func (p PreventEntry) ActiveAt(now time.Time) bool {
	if p.Timestamp == "" || p.Timezone == "" {
		return false
	}
	expiry, err := ParseWallClock(p.Timestamp, p.Timezone)
	if err != nil {
		return false
	}
	return !expiry.Before(now)
}

// ChatbotConfig binds a flow to an instance for one tenant.
type ChatbotConfig struct {
	ID           int64          `json:"id"`
	TenantID     int            `json:"tenant_id"`
	Title        string         `json:"title"`
	InstanceID   string         `json:"instance_id"`
	FlowID       string         `json:"flow_id"`
	PreventReply []PreventEntry `json:"prevent_reply"`
	AIBot        []string       `json:"ai_bot"`
	GroupReply   bool           `json:"group_reply"`
	Active       bool           `json:"active"`
}

// ActiveSuppression returns the open prevent-reply window for identity, if any.
func (c ChatbotConfig) ActiveSuppression(identity string, now time.Time) (PreventEntry, bool) {
	for _, p := range c.PreventReply {
		if p.Identity == identity && p.ActiveAt(now) {
			return p, true
		}
	}
	return PreventEntry{}, false
}

// InAssistantMode reports whether identity was handed to the assistant for good.
func (c ChatbotConfig) InAssistantMode(identity string) bool {
	return slices.Contains(c.AIBot, identity)
}
