// Package daemon runs the control loop: read sensors, aggregate per zone,
// step the engine, assert the profile, report.
package daemon

import (
	"context"
	"time"

	"codeberg.org/mutker/profilectl/internal/engine"
	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/logger"
	"codeberg.org/mutker/profilectl/internal/profile"
	"codeberg.org/mutker/profilectl/internal/sensor"
	"codeberg.org/mutker/profilectl/internal/telemetry"
	"codeberg.org/mutker/profilectl/internal/thermal"
	"codeberg.org/mutker/profilectl/internal/zone"
)

// Options wires a daemon.
type Options struct {
	Catalog  *zone.Catalog
	Source   sensor.Source
	Engine   *engine.Engine
	Actuator *profile.Actuator
	Reporter *telemetry.Reporter
	Log      logger.Logger

	// LockProfile pins the profile from the start, for LockDuration or
	// indefinitely when the duration is zero.
	LockProfile  profile.Profile
	LockDuration time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

type Daemon struct {
	opts    Options
	log     logger.Logger
	now     func() time.Time
	state   engine.State
	started bool
}

func New(opts Options) (*Daemon, error) {
	if opts.Catalog == nil || opts.Source == nil || opts.Engine == nil ||
		opts.Actuator == nil || opts.Reporter == nil {
		return nil, errors.New().WithMessage(ErrInvalidArg, "daemon needs catalog, source, engine, actuator and reporter")
	}

	d := &Daemon{opts: opts, log: opts.Log, now: opts.Now}
	if d.log == nil {
		d.log = logger.Nop()
	}
	if d.now == nil {
		d.now = time.Now
	}

	return d, nil
}

// Start asserts the failsafe profile and initializes the controller state.
// Nothing is read before the failsafe write.
func (d *Daemon) Start() error {
	if err := d.opts.Actuator.Failsafe(); err != nil {
		return err
	}

	now := d.now()
	d.state = d.opts.Engine.NewState(now)

	if d.opts.LockProfile != "" {
		state, err := d.opts.Engine.Lock(d.state, d.opts.LockProfile, d.opts.LockDuration, now)
		if err != nil {
			return err
		}
		d.state = state

		d.log.Info().
			Str("profile", d.opts.LockProfile.String()).
			Dur("duration", d.opts.LockDuration).
			Msg("Profile locked")
	}

	d.started = true

	return nil
}

// Run ticks every interval until ctx is done or the profile cannot be written.
func (d *Daemon) Run(ctx context.Context, interval time.Duration) error {
	if !d.started {
		if err := d.Start(); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := d.Tick(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one pass of the loop. Only a failed profile write is an error.
func (d *Daemon) Tick(ctx context.Context) error {
	if !d.started {
		return errors.New().WithMessage(ErrMainLoop, "tick before start")
	}

	now := d.now()

	readings, readErrs := d.opts.Source.Read(ctx)
	for _, err := range readErrs {
		d.log.Debug().Err(err).Msg("Sensor read failed")
	}

	samples := thermal.Aggregate(d.opts.Catalog, readings, now)
	next, decision := d.opts.Engine.Step(d.state, engine.Input{Now: now, Samples: samples})

	if next.EmergencyLocked && !d.state.EmergencyLocked {
		d.logEmergency(next)
	}

	written, err := d.opts.Actuator.Apply(decision.Target)
	next.Profile = d.opts.Actuator.Current()
	d.state = next

	d.opts.Reporter.Report(ctx, telemetry.Snapshot(d.opts.Catalog, telemetry.Tick{
		Now:        now,
		State:      next,
		Decision:   decision,
		Profile:    next.Profile,
		Written:    written,
		ReadErrors: len(readErrs),
	}))

	if err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			d.log.ErrorWithCode(coded).
				Str("target", decision.Target.String()).
				Str("reason", string(decision.Reason)).
				Msg("Failed to write profile")
		}
		return err
	}

	return nil
}

// State returns the controller state after the last tick.
func (d *Daemon) State() engine.State {
	return d.state
}

func (d *Daemon) logEmergency(s engine.State) {
	policy := d.opts.Engine.Policy()

	for i, z := range s.Zones {
		if z.CriticalTicks < policy.EmergencyDebounce {
			continue
		}
		d.log.Error().
			Str("zone", d.opts.Catalog.Zone(i).Name).
			Float64("temperature", z.MaxTemperature).
			Float64("critical", policy.CriticalTemp).
			Int("ticks", z.CriticalTicks).
			Msg("Critical temperature, locking performance")
	}
}
