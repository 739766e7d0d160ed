// Package engine decides, once per tick, which platform profile should be in
// effect. Step is a pure function of the previous state, the tick's samples
// and the policy; everything it remembers lives in State.
package engine

import (
	"time"

	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/profile"
	"codeberg.org/mutker/profilectl/internal/thermal"
	"codeberg.org/mutker/profilectl/internal/zone"
)

// Reason explains a decision.
type Reason string

const (
	ReasonEmergency   Reason = "emergency"
	ReasonSensorLoss  Reason = "sensor-loss"
	ReasonUnconfirmed Reason = "unconfirmed"
	ReasonHold        Reason = "hold"
	ReasonLock        Reason = "lock"
	ReasonBoost       Reason = "boost"
	ReasonCadence     Reason = "cadence"
)

// Policy holds the tunables of the engine.
type Policy struct {
	// Step is the wall-clock length of one tick.
	Step         time.Duration
	InitialBoost time.Duration

	CriticalTemp      float64
	EmergencyDebounce int
	EmergencyGrace    int

	SensorLossGrace time.Duration
	HistoryWindow   time.Duration

	Aggregate       thermal.Strategy
	AggregateWindow int

	RideOut bool
}

// DefaultPolicy returns the stock tunables for a one second tick.
func DefaultPolicy() Policy {
	return Policy{
		Step:              time.Second,
		InitialBoost:      12 * time.Second,
		CriticalTemp:      95,
		EmergencyDebounce: 3,
		SensorLossGrace:   30 * time.Second,
		HistoryWindow:     30 * time.Second,
		Aggregate:         thermal.StrategyMax,
		AggregateWindow:   thermal.DefaultSmoothingWindow,
		RideOut:           true,
	}
}

// Validate checks the policy for values the engine cannot work with.
func (p Policy) Validate() error {
	errFactory := errors.New()

	switch {
	case p.Step <= 0:
		return errFactory.WithData(ErrInvalidPolicy, struct{ Step time.Duration }{p.Step})
	case p.InitialBoost < 0:
		return errFactory.WithData(ErrInvalidPolicy, struct{ InitialBoost time.Duration }{p.InitialBoost})
	case p.EmergencyDebounce < 1:
		return errFactory.WithData(ErrInvalidPolicy, struct{ EmergencyDebounce int }{p.EmergencyDebounce})
	case p.EmergencyGrace < 0:
		return errFactory.WithData(ErrInvalidPolicy, struct{ EmergencyGrace int }{p.EmergencyGrace})
	case p.SensorLossGrace < 0:
		return errFactory.WithData(ErrInvalidPolicy, struct{ SensorLossGrace time.Duration }{p.SensorLossGrace})
	case p.HistoryWindow <= 0:
		return errFactory.WithData(ErrInvalidPolicy, struct{ HistoryWindow time.Duration }{p.HistoryWindow})
	}

	if _, err := thermal.ParseStrategy(string(p.Aggregate)); err != nil {
		return err
	}

	return nil
}

// Input is one tick worth of observations.
type Input struct {
	Now time.Time
	// Samples are in catalog order. Missing trailing samples count as inactive.
	Samples []thermal.Sample
}

// Decision is the outcome of a tick.
type Decision struct {
	Target   profile.Profile
	Reason   Reason
	Severity thermal.Severity
	// Cadence is set when the cadence chose the target.
	Cadence Cadence
	Trend   float64
	Hotness float64
}

// Engine binds a zone catalog, a policy and a cadence strategy.
type Engine struct {
	catalog  *zone.Catalog
	policy   Policy
	strategy Strategy
}

// New validates the policy and returns an engine.
func New(catalog *zone.Catalog, policy Policy, strategy Strategy) (*Engine, error) {
	if catalog == nil || catalog.Len() == 0 {
		return nil, errors.New().New(zone.ErrInvalidZone)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, errors.New().WithData(ErrInvalidMode, "<nil>")
	}

	return &Engine{catalog: catalog, policy: policy, strategy: strategy}, nil
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// NewState returns the state of a freshly started daemon: performance
// asserted, nothing known yet.
func (e *Engine) NewState(boot time.Time) State {
	zones := make([]ZoneState, e.catalog.Len())
	for i := range zones {
		zones[i].History = thermal.NewHistory(e.policy.HistoryWindow)
	}

	return State{
		Zones:   zones,
		Profile: profile.Performance,
		Phase:   initialPhase(),
		Boot:    boot,
	}
}

// Lock pins the profile for d, or indefinitely when d is zero.
func (e *Engine) Lock(s State, p profile.Profile, d time.Duration, now time.Time) (State, error) {
	if !p.Valid() || d < 0 {
		return s, errors.New().WithData(ErrInvalidLock, struct {
			Profile  string
			Duration time.Duration
		}{p.String(), d})
	}

	l := &Lock{Profile: p}
	if d > 0 {
		l.Until = now.Add(d)
	}
	s.Lock = l

	return s, nil
}

// Unlock removes any profile lock.
func (e *Engine) Unlock(s State) State {
	s.Lock = nil
	return s
}

// Step advances the controller by one tick.
func (e *Engine) Step(prev State, in Input) (State, Decision) {
	next := prev.Clone()
	next.Tick++

	anyActive := false
	for i := range next.Zones {
		var sample thermal.Sample
		if i < len(in.Samples) {
			sample = in.Samples[i]
		}
		if e.observe(e.catalog.Zone(i).Config, &next.Zones[i], sample, in.Now) {
			anyActive = true
		}
	}

	if anyActive {
		next.Confirmed = true
		next.LostSince = time.Time{}
		e.updateEmergency(&next)
	} else {
		if next.LostSince.IsZero() {
			next.LostSince = in.Now
		}
		next.ClearTicks = 0
	}

	next.Severity = thermal.Cool
	for _, z := range next.Zones {
		if z.Known {
			next.Severity = thermal.MaxSeverity(next.Severity, z.Effective)
		}
	}

	if anyActive && !next.EmergencyLocked && next.Severity < thermal.Hot {
		next.Settled = true
	}

	if next.Lock != nil && next.Lock.expired(in.Now) {
		next.Lock = nil
	}

	d := Decision{Severity: next.Severity}
	d.Trend, d.Hotness = e.pressure(next)

	switch {
	case next.EmergencyLocked:
		d.Target, d.Reason = profile.Performance, ReasonEmergency
	case !anyActive && next.Confirmed && in.Now.Sub(next.LostSince) >= e.policy.SensorLossGrace:
		d.Target, d.Reason = profile.Performance, ReasonSensorLoss
		next.Settled = false
	case !next.Confirmed:
		d.Target, d.Reason = profile.Performance, ReasonUnconfirmed
	case !anyActive:
		d.Target, d.Reason = prev.Profile, ReasonHold
	case next.Lock != nil:
		d.Target, d.Reason = next.Lock.Profile, ReasonLock
	case in.Now.Sub(next.Boot) < e.policy.InitialBoost:
		d.Target, d.Reason = profile.Performance, ReasonBoost
	case !next.Settled:
		d.Target, d.Reason = profile.Performance, ReasonUnconfirmed
	default:
		d.Reason = ReasonCadence
		d.Cadence = e.strategy.Cadence(CadenceInput{
			Severity: next.Severity,
			Trend:    d.Trend,
			Hotness:  d.Hotness,
		})
		next.Phase = next.Phase.advance(d.Cadence, e.policy.RideOut, e.policy.Step)
		d.Target = profile.Balanced
		if next.Phase.Mode == Pulse {
			d.Target = profile.Performance
		}
	}

	if d.Reason != ReasonCadence && d.Reason != ReasonHold {
		next.Phase = initialPhase()
	}

	next.Profile = d.Target

	return next, d
}

// observe folds one sample into a zone and reports whether the zone was active.
func (e *Engine) observe(cfg zone.Config, z *ZoneState, s thermal.Sample, now time.Time) bool {
	z.Active = s.Active()
	if !z.Active {
		return false
	}

	temp := z.Smoother.Apply(e.policy.Aggregate, e.policy.AggregateWindow, s.MaxTemperature)

	z.Known = true
	z.MaxTemperature = s.MaxTemperature
	z.Temperature = temp
	z.Severity = thermal.Classify(cfg, z.Severity, temp)

	z.HasFan = s.HasFan()
	z.FanSpeed = s.MinFanSpeed
	z.FanStall = thermal.FanStalled(cfg, z.Severity, s)
	z.Effective = z.Severity
	if z.FanStall {
		z.Effective = thermal.Hot
	}

	z.History.Push(now, temp)
	z.Slope = z.History.Slope()
	z.Trend = thermal.NormalizedTrend(cfg, z.Slope)

	switch {
	case s.MaxTemperature >= e.policy.CriticalTemp:
		z.CriticalTicks++
		z.DipTicks = 0
	case z.CriticalTicks > 0 && z.DipTicks < e.policy.EmergencyGrace:
		z.DipTicks++
	default:
		z.CriticalTicks = 0
		z.DipTicks = 0
	}

	return true
}

// updateEmergency arms the lock on a sustained critical zone and clears it
// once every known zone has been at or below release for a full debounce.
func (e *Engine) updateEmergency(s *State) {
	if !s.EmergencyLocked {
		for _, z := range s.Zones {
			if z.CriticalTicks >= e.policy.EmergencyDebounce {
				s.EmergencyLocked = true
				s.ClearTicks = 0
				return
			}
		}
		return
	}

	for i, z := range s.Zones {
		if z.Known && (!z.Active || z.MaxTemperature > e.catalog.Zone(i).Release) {
			s.ClearTicks = 0
			return
		}
	}

	s.ClearTicks++
	if s.ClearTicks >= e.policy.EmergencyDebounce {
		s.EmergencyLocked = false
		s.ClearTicks = 0
		for i := range s.Zones {
			s.Zones[i].CriticalTicks = 0
			s.Zones[i].DipTicks = 0
		}
	}
}

// pressure returns the most adverse trend among warm and hot zones and the
// hotness of the hottest zone.
func (e *Engine) pressure(s State) (trend, hotness float64) {
	found := false
	for i, z := range s.Zones {
		if !z.Known {
			continue
		}

		hotness = max(hotness, thermal.Hotness(e.catalog.Zone(i).Config, z.Temperature))

		if z.Effective < thermal.Warm {
			continue
		}
		if !found || z.Trend > trend {
			trend = z.Trend
			found = true
		}
	}

	return trend, hotness
}
