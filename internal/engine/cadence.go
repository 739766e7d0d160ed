package engine

import (
	"time"

	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/thermal"
)

// Cadence is how long the performance profile is held (On) and how long it
// is relaxed (Off) during one pulse cycle.
type Cadence struct {
	On  time.Duration `mapstructure:"on"`
	Off time.Duration `mapstructure:"off"`
}

func (c Cadence) length(m PhaseMode) time.Duration {
	if m == Pulse {
		return c.On
	}
	return c.Off
}

// Table holds a base cadence per severity.
type Table struct {
	Cool Cadence `mapstructure:"cool"`
	Warm Cadence `mapstructure:"warm"`
	Hot  Cadence `mapstructure:"hot"`
}

// For returns the base cadence of a severity.
func (t Table) For(sev thermal.Severity) Cadence {
	switch sev {
	case thermal.Hot:
		return t.Hot
	case thermal.Warm:
		return t.Warm
	}

	return t.Cool
}

// Validate rejects negative durations and cycles with no length at all.
func (t Table) Validate() error {
	errFactory := errors.New()

	for _, sev := range []thermal.Severity{thermal.Cool, thermal.Warm, thermal.Hot} {
		c := t.For(sev)
		if c.On < 0 || c.Off < 0 || c.On+c.Off == 0 {
			return errFactory.WithData(ErrInvalidCadence, struct {
				Severity string
				On       time.Duration
				Off      time.Duration
			}{sev.String(), c.On, c.Off})
		}
	}

	return nil
}

// DefaultTable pulses rarely while warm and often while hot. Cool never pulses.
func DefaultTable() Table {
	return Table{
		Cool: Cadence{On: 0, Off: 9999 * time.Second},
		Warm: Cadence{On: 1 * time.Second, Off: 30 * time.Second},
		Hot:  Cadence{On: 4 * time.Second, Off: 12 * time.Second},
	}
}

// CadenceInput is what a strategy sees each tick.
type CadenceInput struct {
	Severity thermal.Severity
	// Trend is the most adverse weighted, normalized trend among warm and hot zones.
	Trend float64
	// Hotness is how deep the hottest zone sits inside its hysteresis band, 0..1.
	Hotness float64
}

// Strategy maps the thermal situation to a cadence.
type Strategy interface {
	Cadence(in CadenceInput) Cadence
}

// Mode names a cadence strategy in configuration.
type Mode string

const (
	ModeAdaptive Mode = "adaptive"
	ModeFixed    Mode = "fixed"
	ModeBinary   Mode = "binary"
)

// Fixed returns the table entry for the severity and ignores trend and hotness.
type Fixed struct {
	Table Table
}

func (f Fixed) Cadence(in CadenceInput) Cadence {
	return f.Table.For(in.Severity)
}

// Binary is the deterministic thermostat: performance for the whole tick
// while any zone is hot, balanced otherwise. Hysteresis alone keeps it calm.
func Binary(step time.Duration) Fixed {
	return Fixed{Table: Table{
		Cool: Cadence{Off: step},
		Warm: Cadence{Off: step},
		Hot:  Cadence{On: step},
	}}
}

// Bounds limits what adaptive scaling can produce.
type Bounds struct {
	Min    time.Duration `mapstructure:"min"`
	MaxOn  time.Duration `mapstructure:"max_on"`
	MaxOff time.Duration `mapstructure:"max_off"`
}

// DefaultBounds keeps pulses between 1s and 30s and rests between 1s and 60s.
func DefaultBounds() Bounds {
	return Bounds{Min: time.Second, MaxOn: 30 * time.Second, MaxOff: 60 * time.Second}
}

// Validate checks the bounds are ordered.
func (b Bounds) Validate() error {
	if b.Min < 0 || b.MaxOn < b.Min || b.MaxOff < b.Min {
		return errors.New().WithData(ErrInvalidCadence, struct {
			Min    time.Duration
			MaxOn  time.Duration
			MaxOff time.Duration
		}{b.Min, b.MaxOn, b.MaxOff})
	}

	return nil
}

const (
	// hotnessRestCut is removed from the rest at full hotness.
	hotnessRestCut = 7 * time.Second
	// hotnessPulseGain is added to the pulse at full hotness.
	hotnessPulseGain = 5 * time.Second
)

// Adaptive starts from the table and leans on hotness and trend: a zone deep
// in its band or heating fast gets longer pulses and shorter rests, a cooling
// machine gets the opposite. Severities whose table entry never pulses are
// left alone.
type Adaptive struct {
	Table       Table
	Sensitivity float64
	Bounds      Bounds
}

func (a Adaptive) Cadence(in CadenceInput) Cadence {
	c := a.Table.For(in.Severity)
	if c.On <= 0 {
		return c
	}

	hot := max(0, min(1, in.Hotness))
	on := c.On + scale(hotnessPulseGain, hot)
	off := c.Off
	if off > 0 {
		off -= scale(hotnessRestCut, hot)
	}

	if in.Trend != 0 {
		factor := a.Sensitivity * max(-1, min(1, in.Trend))
		on = scale(on, 1+factor)
		if off > 0 {
			off = scale(off, 1-factor)
		}
	}

	on = clamp(on, a.Bounds.Min, a.Bounds.MaxOn)
	if c.Off > 0 {
		off = clamp(off, a.Bounds.Min, a.Bounds.MaxOff)
	}

	return Cadence{On: on, Off: off}
}

// NewStrategy builds the strategy named by mode.
func NewStrategy(mode Mode, table Table, sensitivity float64, bounds Bounds, step time.Duration) (Strategy, error) {
	errFactory := errors.New()

	switch mode {
	case ModeAdaptive, "":
		if err := table.Validate(); err != nil {
			return nil, err
		}
		if err := bounds.Validate(); err != nil {
			return nil, err
		}
		if sensitivity < 0 || sensitivity > 1 {
			return nil, errFactory.WithData(ErrInvalidCadence, struct{ TrendSensitivity float64 }{sensitivity})
		}
		return Adaptive{Table: table, Sensitivity: sensitivity, Bounds: bounds}, nil
	case ModeFixed:
		if err := table.Validate(); err != nil {
			return nil, err
		}
		return Fixed{Table: table}, nil
	case ModeBinary:
		if step <= 0 {
			return nil, errFactory.WithData(ErrInvalidCadence, struct{ Step time.Duration }{step})
		}
		return Binary(step), nil
	}

	return nil, errFactory.WithData(ErrInvalidMode, string(mode))
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
