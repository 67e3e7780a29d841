package parental

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/oncue-tv/oncue/internal/faults"
	"github.com/oncue-tv/oncue/internal/source"
)

const (
	// lockoutThreshold failed attempts trigger a lockout window.
	lockoutThreshold = 5
	// baseLockout is the first lockout window; it doubles with each
	// consecutive lockout and never decreases.
	baseLockout = 1 * time.Minute
	maxLockout  = 24 * time.Hour
)

// PINResult is the outcome of a verification attempt. Failures carry
// remaining attempts or the lockout expiry, never a bare error.
type PINResult struct {
	Success           bool  `json:"success"`
	RemainingAttempts int   `json:"remaining_attempts,omitempty"`
	LockoutExpiresAt  int64 `json:"lockout_expires_at,omitempty"`
}

// Action is a gated user action.
type Action string

const (
	ActionViewChannel    Action = "view_channel"
	ActionAccessSettings Action = "access_settings"
	ActionViewHidden     Action = "view_hidden"
	ActionModifyLocks    Action = "modify_locks"
)

// Decision is the gate's answer for one action attempt.
type Decision struct {
	Allowed      bool `json:"allowed"`
	RequiresPIN  bool `json:"requires_pin,omitempty"`
	TimeDenied   bool `json:"time_denied,omitempty"` // denied by time restrictions
}

// Gate owns the parental-control state for one signed-in user (or the
// device when signed out). It is created at sign-in / app start and torn
// down at sign-out; nothing accesses it ambiently.
//
// PIN verification is synchronous and runs to completion under the lock:
// an attempt either completes and updates state, or it is not counted.
type Gate struct {
	mu       sync.Mutex
	state    State
	settings Settings
	secrets  source.SecureStore
	now      func() time.Time
}

// NewGate restores a gate from persisted state and settings.
func NewGate(state State, settings Settings, secrets source.SecureStore) *Gate {
	return &Gate{state: state, settings: settings, secrets: secrets, now: time.Now}
}

// SetClock overrides the gate's time source. Test hook.
func (g *Gate) SetClock(now func() time.Time) { g.now = now }

// State returns a copy of the persisted state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Settings returns a copy of the current settings.
func (g *Gate) Settings() Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings
}

// UpdateSettings validates and replaces the rule set.
func (g *Gate) UpdateSettings(s Settings) error {
	if err := s.TimeRestrictions.Validate(); err != nil {
		return err
	}
	if s.SessionTimeout <= 0 {
		return &faults.ValidationError{Field: "session_timeout", Msg: "must be positive minutes"}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settings = s
	return nil
}

// SetEnabled switches the controls on or off. Enabling starts locked.
func (g *Gate) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.Enabled = enabled
	if enabled {
		g.state.IsLocked = true
		g.state.UnlockedUntil = 0
	}
}

// SetPIN hashes and stores a new PIN in the secure store. The plaintext
// never leaves this call.
func (g *Gate) SetPIN(pin string) error {
	if len(pin) < 4 {
		return &faults.ValidationError{Field: "pin", Msg: "must be at least 4 digits"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return g.secrets.Put(source.PINHashKey, string(hash))
}

// GateState computes the effective state lazily from the stored timestamps.
func (g *Gate) GateState() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return CurrentGateState(g.state, g.now())
}

// VerifyPIN checks pin and applies the resulting transition.
//
// During an active lockout window every attempt fails with LockoutError,
// correct PIN included, and is not counted. A wrong PIN increments
// FailedAttempts; crossing the threshold opens a lockout window whose
// length doubles with each consecutive lockout. Success resets
// FailedAttempts and opens an unlock session of SessionTimeout minutes.
func (g *Gate) VerifyPIN(pin string) (PINResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.state.LockoutUntil > now.Unix() {
		until := time.Unix(g.state.LockoutUntil, 0)
		return PINResult{LockoutExpiresAt: g.state.LockoutUntil}, &faults.LockoutError{Until: until}
	}

	hash, ok, err := g.secrets.Get(source.PINHashKey)
	if err != nil {
		return PINResult{}, err
	}
	if !ok {
		return PINResult{}, errors.New("no pin configured")
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil {
		g.state.FailedAttempts = 0
		g.state.LockoutUntil = 0
		g.state.IsLocked = false
		timeout := g.settings.SessionTimeout
		if timeout <= 0 {
			timeout = 15
		}
		g.state.UnlockedUntil = now.Add(time.Duration(timeout) * time.Minute).Unix()
		return PINResult{Success: true}, nil
	}

	g.state.FailedAttempts++
	if g.state.FailedAttempts%lockoutThreshold == 0 {
		lockouts := g.state.FailedAttempts / lockoutThreshold
		window := baseLockout << (lockouts - 1)
		if window > maxLockout || window <= 0 {
			window = maxLockout
		}
		g.state.LockoutUntil = now.Add(window).Unix()
		return PINResult{LockoutExpiresAt: g.state.LockoutUntil}, nil
	}
	remaining := lockoutThreshold - g.state.FailedAttempts%lockoutThreshold
	return PINResult{RemainingAttempts: remaining}, nil
}

// UnlockWithBiometric applies the unlock transition after the platform
// collaborator reports a successful biometric verification. The gate does
// not perform biometry itself.
func (g *Gate) UnlockWithBiometric() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.state.BiometricEnabled {
		return errors.New("biometric unlock not enabled")
	}
	now := g.now()
	if g.state.LockoutUntil > now.Unix() {
		return &faults.LockoutError{Until: time.Unix(g.state.LockoutUntil, 0)}
	}
	g.state.FailedAttempts = 0
	g.state.IsLocked = false
	timeout := g.settings.SessionTimeout
	if timeout <= 0 {
		timeout = 15
	}
	g.state.UnlockedUntil = now.Add(time.Duration(timeout) * time.Minute).Unix()
	return nil
}

// Relock ends the unlock session immediately.
func (g *Gate) Relock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.IsLocked = true
	g.state.UnlockedUntil = 0
}

// AppBackgrounded applies the backgrounding policy: relock when the
// settings say so.
func (g *Gate) AppBackgrounded() {
	g.mu.Lock()
	relock := g.settings.RelockOnBackground
	g.mu.Unlock()
	if relock {
		g.Relock()
	}
}

// Authorize decides one action attempt at the current instant. Time
// restrictions deny playback regardless of unlock state; lock state
// decides whether a PIN prompt is required first.
func (g *Gate) Authorize(action Action, channelID, groupID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	gs := CurrentGateState(g.state, now)
	if gs == Disabled {
		return Decision{Allowed: true}
	}

	if action == ActionViewChannel && !g.settings.TimeRestrictions.PlaybackAllowedAt(now) {
		return Decision{TimeDenied: true}
	}

	switch action {
	case ActionViewChannel:
		if !contains(g.settings.LockedChannels, channelID) && !contains(g.settings.LockedGroups, groupID) {
			return Decision{Allowed: true}
		}
	case ActionAccessSettings:
		if !g.settings.ProtectSettings {
			return Decision{Allowed: true}
		}
	case ActionViewHidden, ActionModifyLocks:
		// always gated while enabled
	}

	if gs == Unlocked {
		return Decision{Allowed: true}
	}
	return Decision{RequiresPIN: true}
}

func contains(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
