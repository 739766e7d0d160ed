package thermal

import "codeberg.org/mutker/profilectl/internal/zone"

// Classify applies the zone's hysteresis band. A zone enters Hot at or above
// trigger and only leaves it at or below release. Leaving Hot always passes
// through Warm for at least one tick, even when the temperature has already
// fallen below release.
func Classify(z zone.Config, prev Severity, temp float64) Severity {
	switch {
	case temp >= z.Trigger:
		return Hot
	case prev == Hot && temp > z.Release:
		return Hot
	case prev == Hot:
		return Warm
	case temp >= z.Release:
		return Warm
	}

	return Cool
}

// FanStalled reports that a warm or hot zone's slowest fan is below the
// expected minimum: airflow should be there and is not.
func FanStalled(z zone.Config, sev Severity, s Sample) bool {
	return sev >= Warm && s.HasFan() && s.MinFanSpeed < z.MinRPM
}

// Hotness places temp inside the zone's band: 0 at or below release, 1 at or
// above trigger.
func Hotness(z zone.Config, temp float64) float64 {
	band := z.Band()
	if band <= 0 || temp <= z.Release {
		return 0
	}

	return min(1, (temp-z.Release)/band)
}
