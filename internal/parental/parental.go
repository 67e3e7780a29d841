// Package parental implements the parental-control gate: a state machine
// over {disabled, locked, unlocked(until)} plus the visibility rules it
// enforces over the catalog.
//
// Lock state is never kept alive by a timer. The session expiry is stored
// as a timestamp and re-evaluated lazily on every access, so correctness
// does not depend on the process having been running when the session
// expired.
package parental

import (
	"time"

	"github.com/oncue-tv/oncue/internal/faults"
)

// GateState is the effective state of the gate at an instant.
type GateState int

const (
	Disabled GateState = iota
	Locked
	Unlocked
)

func (s GateState) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	}
	return "unknown"
}

// State is the persisted gate state. The PIN hash is not part of this
// record; it lives in the secure credential store.
type State struct {
	Enabled          bool  `json:"enabled"`
	IsLocked         bool  `json:"is_locked"`
	UnlockedUntil    int64 `json:"unlocked_until,omitempty"` // unix seconds
	BiometricEnabled bool  `json:"biometric_enabled"`
	FailedAttempts   int   `json:"failed_attempts"`
	LockoutUntil     int64 `json:"lockout_until,omitempty"` // unix seconds
}

// Settings is the persisted rule set the gate enforces.
type Settings struct {
	LockedChannels     []string          `json:"locked_channels"`
	LockedGroups       []string          `json:"locked_groups"`
	HiddenChannels     []string          `json:"hidden_channels"`
	TimeRestrictions   *TimeRestrictions `json:"time_restrictions,omitempty"`
	SessionTimeout     int               `json:"session_timeout"` // minutes
	ProtectSettings    bool              `json:"protect_settings"`
	RelockOnBackground bool              `json:"relock_on_background"`
}

// DefaultSettings is the rule set for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		SessionTimeout:     15,
		ProtectSettings:    true,
		RelockOnBackground: true,
	}
}

// TimeRestrictions denies playback outside [AllowedStartTime,
// AllowedEndTime] on restricted weekdays, independent of lock state.
type TimeRestrictions struct {
	Enabled          bool   `json:"enabled"`
	AllowedStartTime string `json:"allowed_start_time"` // "HH:MM"
	AllowedEndTime   string `json:"allowed_end_time"`   // "HH:MM"
	RestrictedDays   []int  `json:"restricted_days"`    // 0=Sunday .. 6=Saturday
}

// Validate rejects malformed restriction times at the input boundary;
// invalid values are never stored.
func (t *TimeRestrictions) Validate() error {
	if t == nil {
		return nil
	}
	if _, err := parseHHMM(t.AllowedStartTime); err != nil {
		return &faults.ValidationError{Field: "allowed_start_time", Msg: err.Error()}
	}
	if _, err := parseHHMM(t.AllowedEndTime); err != nil {
		return &faults.ValidationError{Field: "allowed_end_time", Msg: err.Error()}
	}
	for _, d := range t.RestrictedDays {
		if d < 0 || d > 6 {
			return &faults.ValidationError{Field: "restricted_days", Msg: "weekday index must be 0..6"}
		}
	}
	return nil
}

// CurrentGateState computes the effective gate state from stored state and
// the current time. Pure: the unlocked→locked transition on session expiry
// happens here, not in a background timer.
func CurrentGateState(s State, now time.Time) GateState {
	if !s.Enabled {
		return Disabled
	}
	if !s.IsLocked && s.UnlockedUntil > now.Unix() {
		return Unlocked
	}
	return Locked
}

// PlaybackAllowedAt applies the time restrictions at instant now. The
// allowed window may wrap midnight (start > end). Restrictions gate
// independently of lock state.
func (t *TimeRestrictions) PlaybackAllowedAt(now time.Time) bool {
	if t == nil || !t.Enabled {
		return true
	}
	restricted := false
	for _, d := range t.RestrictedDays {
		if int(now.Weekday()) == d {
			restricted = true
			break
		}
	}
	if !restricted {
		return true
	}
	start, err := parseHHMM(t.AllowedStartTime)
	if err != nil {
		return true // never stored invalid; belt and braces
	}
	end, err := parseHHMM(t.AllowedEndTime)
	if err != nil {
		return true
	}
	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func parseHHMM(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, errHHMM(s)
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	for _, c := range []byte{s[0], s[1], s[3], s[4]} {
		if c < '0' || c > '9' {
			return 0, errHHMM(s)
		}
	}
	if h > 23 || m > 59 {
		return 0, errHHMM(s)
	}
	return h*60 + m, nil
}

type errHHMM string

func (e errHHMM) Error() string { return `must be "HH:MM", got "` + string(e) + `"` }
