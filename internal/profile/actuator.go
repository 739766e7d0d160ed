package profile

import (
	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/logger"
)

// Actuator writes a target profile to the sink only when it differs from
// the profile last asserted.
type Actuator struct {
	sink    Sink
	log     logger.Logger
	current Profile
	writes  uint64
}

func NewActuator(sink Sink, log logger.Logger) *Actuator {
	return &Actuator{sink: sink, log: log}
}

// Failsafe asserts performance unconditionally, ahead of any sensor read.
func (a *Actuator) Failsafe() error {
	a.log.Info().Str("profile", Performance.String()).Msg("Asserting failsafe profile")
	return a.write(Performance)
}

// Apply moves the platform to target and reports whether a write happened.
// On failure the previous profile is kept as the one in effect.
func (a *Actuator) Apply(target Profile) (bool, error) {
	if !target.Valid() {
		return false, errors.New().WithData(ErrUnknownProfile, target.String())
	}
	if target == a.current {
		return false, nil
	}

	if err := a.write(target); err != nil {
		return false, err
	}

	return true, nil
}

func (a *Actuator) write(p Profile) error {
	if err := a.sink.Write(p); err != nil {
		errFactory := errors.New()
		return errFactory.Wrap(ErrActuation, err).WithData(struct {
			Target   string
			Previous string
		}{p.String(), a.current.String()})
	}

	a.log.Debug().
		Str("from", a.current.String()).
		Str("to", p.String()).
		Msg("Profile written")

	a.current = p
	a.writes++

	return nil
}

// Current is the profile last written successfully, empty before the first write.
func (a *Actuator) Current() Profile {
	return a.current
}

// Writes counts successful writes.
func (a *Actuator) Writes() uint64 {
	return a.writes
}

// Monitor is a sink that only logs, for running without touching firmware.
type Monitor struct {
	Log logger.Logger
}

func (m Monitor) Write(p Profile) error {
	m.Log.Info().Str("profile", p.String()).Msg("Monitor mode, profile not written")
	return nil
}
