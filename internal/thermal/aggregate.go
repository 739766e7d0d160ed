package thermal

import (
	"math"
	"time"

	"codeberg.org/mutker/profilectl/internal/sensor"
	"codeberg.org/mutker/profilectl/internal/zone"
)

// Sample is what one tick of readings says about one zone.
type Sample struct {
	// MaxTemperature is the hottest matched temperature. The maximum, not the
	// mean, so a single hot core is enough to count.
	MaxTemperature float64
	// MinFanSpeed is the slowest matched fan.
	MinFanSpeed float64

	Temperatures int
	Fans         int
	Timestamp    time.Time
}

// Active reports whether the zone had a temperature reading this tick.
func (s Sample) Active() bool {
	return s.Temperatures > 0
}

// HasFan reports whether any fan reading matched the zone.
func (s Sample) HasFan() bool {
	return s.Fans > 0
}

// Matched is the number of readings assigned to the zone.
func (s Sample) Matched() int {
	return s.Temperatures + s.Fans
}

// Aggregate assigns every reading to the first zone claiming it and returns
// one sample per catalog zone, in catalog order. Readings no zone claims are
// dropped, as are NaN and infinite values.
func Aggregate(catalog *zone.Catalog, readings []sensor.Reading, now time.Time) []Sample {
	samples := make([]Sample, catalog.Len())
	for i := range samples {
		samples[i] = Sample{
			MaxTemperature: math.Inf(-1),
			MinFanSpeed:    math.Inf(1),
			Timestamp:      now,
		}
	}

	for _, r := range readings {
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			continue
		}

		i, ok := catalog.Match(r.Kind, r.Source)
		if !ok {
			continue
		}

		s := &samples[i]
		switch r.Kind {
		case sensor.Temperature:
			s.Temperatures++
			s.MaxTemperature = math.Max(s.MaxTemperature, r.Value)
		case sensor.FanSpeed:
			s.Fans++
			s.MinFanSpeed = math.Min(s.MinFanSpeed, r.Value)
		}
	}

	for i := range samples {
		if samples[i].Temperatures == 0 {
			samples[i].MaxTemperature = 0
		}
		if samples[i].Fans == 0 {
			samples[i].MinFanSpeed = 0
		}
	}

	return samples
}
