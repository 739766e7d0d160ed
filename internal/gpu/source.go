// Package gpu exposes NVIDIA GPU temperatures as a sensor source. The
// proprietary driver does not register a hwmon device, so without NVML the
// GPU zone would never see a reading.
package gpu

import (
	"context"
	"time"

	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/logger"
	"codeberg.org/mutker/profilectl/internal/sensor"
)

// sourcePrefix starts every reading name produced here.
const sourcePrefix = "nvidia:"

// Source reads the core temperature of every NVML device.
type Source struct {
	lib     library
	devices []device
	logger  logger.Logger
	now     func() time.Time
}

// New initializes NVML and enumerates devices.
func New(log logger.Logger) (*Source, error) {
	return newSource(&nvmlWrapper{}, log)
}

func newSource(lib library, log logger.Logger) (*Source, error) {
	errFactory := errors.New()

	if err := lib.Initialize(); err != nil {
		return nil, err
	}

	devices, err := lib.Devices()
	if err != nil {
		_ = lib.Shutdown()
		return nil, err
	}
	if len(devices) == 0 {
		_ = lib.Shutdown()
		return nil, errFactory.New(ErrNoDevices)
	}

	for _, d := range devices {
		log.Info().Str("gpu", d.Name()).Msg("Detected NVIDIA GPU")
	}

	return &Source{
		lib:     lib,
		devices: devices,
		logger:  log,
		now:     time.Now,
	}, nil
}

func (*Source) Name() string {
	return "nvml"
}

func (s *Source) Read(ctx context.Context) ([]sensor.Reading, []error) {
	errFactory := errors.New()

	var (
		readings []sensor.Reading
		failures []error
	)

	for _, d := range s.devices {
		if ctx.Err() != nil {
			failures = append(failures, errFactory.Wrap(sensor.ErrReadTimeout, ctx.Err()))
			break
		}

		temp, err := d.Temperature()
		if err != nil {
			failures = append(failures, errFactory.Wrap(ErrTemperatureReadFailed, err).WithData(d.Name()))
			continue
		}

		readings = append(readings, sensor.Reading{
			Source:    sourcePrefix + d.Name() + ":gpu",
			Kind:      sensor.Temperature,
			Value:     float64(temp),
			Timestamp: s.now(),
		})
	}

	return readings, failures
}

// Close shuts NVML down.
func (s *Source) Close() error {
	return s.lib.Shutdown()
}
