package engine

import (
	"time"

	"codeberg.org/mutker/profilectl/internal/profile"
	"codeberg.org/mutker/profilectl/internal/thermal"
)

// PhaseMode is the half of a pulse cycle currently running.
type PhaseMode int

const (
	// Rest holds the balanced profile.
	Rest PhaseMode = iota
	// Pulse holds the performance profile.
	Pulse
)

func (m PhaseMode) String() string {
	if m == Pulse {
		return "on"
	}
	return "off"
}

// Phase tracks progress through the current half of a pulse cycle.
type Phase struct {
	Mode    PhaseMode
	Elapsed time.Duration
	Length  time.Duration
}

// Remaining is how much of the phase is left.
func (p Phase) Remaining() time.Duration {
	return max(0, p.Length-p.Elapsed)
}

// initialPhase is an exhausted pulse, so the first cadence tick starts a rest.
func initialPhase() Phase {
	return Phase{Mode: Pulse}
}

func (p Phase) flip(c Cadence) Phase {
	mode := Pulse
	if p.Mode == Pulse {
		mode = Rest
	}

	return Phase{Mode: mode, Length: c.length(mode)}
}

// advance moves the phase one tick of length step. With rideOut a running
// pulse keeps its length and a running rest can only be shortened by the
// fresh cadence; without it the fresh cadence replaces the length outright.
// A zero Length marks a phase that never started and flips immediately.
func (p Phase) advance(c Cadence, rideOut bool, step time.Duration) Phase {
	switch {
	case p.Length <= 0:
	case !rideOut:
		p.Length = c.length(p.Mode)
	case p.Mode == Rest:
		p.Length = min(p.Length, c.Off)
	}

	if p.Elapsed >= p.Length {
		p = p.flip(c)
		if p.Length <= 0 {
			p = p.flip(c)
		}
	}

	p.Elapsed += step

	return p
}

// ZoneState is everything the engine remembers about one zone.
type ZoneState struct {
	// Severity is the hysteresis state.
	Severity thermal.Severity
	// Effective is Severity raised to Hot while the zone's fans stall.
	Effective thermal.Severity
	FanStall  bool

	// Known is set once the zone has reported a temperature.
	Known bool
	// Active is whether the zone reported on the last tick.
	Active bool

	// MaxTemperature is the hottest reading of the last active tick;
	// Temperature is what the zone was judged by after aggregation.
	MaxTemperature float64
	Temperature    float64
	FanSpeed       float64
	HasFan         bool

	History  thermal.History
	Smoother thermal.Smoother
	// Slope is in °C/s; Trend is the weighted, normalized slope.
	Slope float64
	Trend float64

	CriticalTicks int
	// DipTicks counts non-critical ticks forgiven since the last critical one.
	DipTicks int
}

func (z ZoneState) clone() ZoneState {
	z.History = z.History.Clone()
	z.Smoother = z.Smoother.Clone()
	return z
}

// Lock pins the profile until Until. A zero Until never expires.
type Lock struct {
	Profile profile.Profile
	Until   time.Time
}

func (l *Lock) expired(now time.Time) bool {
	return !l.Until.IsZero() && !now.Before(l.Until)
}

// State is the complete controller state between ticks.
type State struct {
	Zones []ZoneState

	// Profile is the profile believed to be in effect.
	Profile  profile.Profile
	Severity thermal.Severity

	EmergencyLocked bool
	// ClearTicks counts consecutive ticks with every known zone at or below release.
	ClearTicks int

	Phase Phase
	Boot  time.Time

	// Confirmed is set by the first tick with any zone reporting.
	Confirmed bool
	// Settled is set by the first reporting tick below Hot with no
	// emergency. Until then performance holds. The sensor-loss failsafe
	// clears it again.
	Settled bool
	// LostSince is when the current run of ticks without data started.
	LostSince time.Time

	Lock *Lock
	Tick uint64
}

// Clone returns a deep copy.
func (s State) Clone() State {
	zones := make([]ZoneState, len(s.Zones))
	for i, z := range s.Zones {
		zones[i] = z.clone()
	}
	s.Zones = zones

	if s.Lock != nil {
		l := *s.Lock
		s.Lock = &l
	}

	return s
}

// AnyActive reports whether a zone reported on the last tick.
func (s State) AnyActive() bool {
	for _, z := range s.Zones {
		if z.Active {
			return true
		}
	}
	return false
}
