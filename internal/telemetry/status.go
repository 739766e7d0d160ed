// Package telemetry turns controller state into status records and hands
// them to the log, the history store and the exporter.
package telemetry

import (
	"time"

	"codeberg.org/mutker/profilectl/internal/engine"
	"codeberg.org/mutker/profilectl/internal/profile"
	"codeberg.org/mutker/profilectl/internal/thermal"
	"codeberg.org/mutker/profilectl/internal/zone"
)

// ZoneStatus is the reported view of one zone.
type ZoneStatus struct {
	Name        string           `json:"name"`
	Known       bool             `json:"known"`
	Active      bool             `json:"active"`
	Temperature float64          `json:"temperature"`
	Maximum     float64          `json:"max_temperature"`
	FanSpeed    float64          `json:"fan_speed"`
	HasFan      bool             `json:"has_fan"`
	FanStall    bool             `json:"fan_stall"`
	Severity    thermal.Severity `json:"severity"`
	Effective   thermal.Severity `json:"effective_severity"`
	Slope       float64          `json:"slope"`
	Trend       float64          `json:"trend"`
	Trigger     float64          `json:"trigger"`
	Release     float64          `json:"release"`
	Critical    int              `json:"critical_ticks"`
}

// Status is one tick as reported to the outside.
type Status struct {
	Tick      uint64           `json:"tick"`
	Timestamp time.Time        `json:"timestamp"`
	Profile   profile.Profile  `json:"profile"`
	Written   bool             `json:"written"`
	Reason    engine.Reason    `json:"reason"`
	Severity  thermal.Severity `json:"severity"`
	Emergency bool             `json:"emergency"`
	Degraded  bool             `json:"degraded"`
	Phase     string           `json:"phase"`
	Remaining time.Duration    `json:"phase_remaining"`
	Cadence   engine.Cadence   `json:"cadence"`
	Trend     float64          `json:"trend"`
	Hotness   float64          `json:"hotness"`
	Locked    bool             `json:"locked"`
	Errors    int              `json:"read_errors"`
	Zones     []ZoneStatus     `json:"zones"`
	// Changes lists what moved since the previous tick.
	Changes []string `json:"changes,omitempty"`
}

// Tick carries what the loop knows after one pass.
type Tick struct {
	Now        time.Time
	State      engine.State
	Decision   engine.Decision
	Profile    profile.Profile
	Written    bool
	ReadErrors int
}

// Snapshot builds the status of a tick.
func Snapshot(catalog *zone.Catalog, t Tick) Status {
	s := Status{
		Tick:      t.State.Tick,
		Timestamp: t.Now,
		Profile:   t.Profile,
		Written:   t.Written,
		Reason:    t.Decision.Reason,
		Severity:  t.Decision.Severity,
		Emergency: t.State.EmergencyLocked,
		Degraded:  !t.State.AnyActive(),
		Phase:     phaseName(t.Decision, t.State.Phase),
		Cadence:   t.Decision.Cadence,
		Trend:     t.Decision.Trend,
		Hotness:   t.Decision.Hotness,
		Locked:    t.State.Lock != nil,
		Errors:    t.ReadErrors,
		Zones:     make([]ZoneStatus, len(t.State.Zones)),
	}

	if t.Decision.Reason == engine.ReasonCadence {
		s.Remaining = t.State.Phase.Remaining()
	}

	for i, z := range t.State.Zones {
		cfg := catalog.Zone(i).Config
		s.Zones[i] = ZoneStatus{
			Name:        cfg.Name,
			Known:       z.Known,
			Active:      z.Active,
			Temperature: z.Temperature,
			Maximum:     z.MaxTemperature,
			FanSpeed:    z.FanSpeed,
			HasFan:      z.HasFan,
			FanStall:    z.FanStall,
			Severity:    z.Severity,
			Effective:   z.Effective,
			Slope:       z.Slope,
			Trend:       z.Trend,
			Trigger:     cfg.Trigger,
			Release:     cfg.Release,
			Critical:    z.CriticalTicks,
		}
	}

	return s
}

// phaseName is the cadence phase, or the reason when the cadence is not in charge.
func phaseName(d engine.Decision, p engine.Phase) string {
	if d.Reason != engine.ReasonCadence {
		return string(d.Reason)
	}
	return p.Mode.String()
}

// changes lists the fields that differ between two consecutive statuses.
func changes(prev, cur Status) []string {
	var out []string
	if prev.Profile != cur.Profile {
		out = append(out, "profile")
	}
	if prev.Severity != cur.Severity {
		out = append(out, "severity")
	}
	if prev.Emergency != cur.Emergency {
		out = append(out, "emergency")
	}
	if prev.Degraded != cur.Degraded {
		out = append(out, "degraded")
	}
	if prev.Phase != cur.Phase {
		out = append(out, "phase")
	}
	for i := range cur.Zones {
		if i < len(prev.Zones) && prev.Zones[i].Effective != cur.Zones[i].Effective {
			out = append(out, "zone:"+cur.Zones[i].Name)
		}
	}

	return out
}
