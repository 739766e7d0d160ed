package telemetry

import (
	"context"
	"fmt"
	"strings"

	"codeberg.org/mutker/profilectl/internal/logger"
)

// LogPublisher writes status records as log lines.
type LogPublisher struct {
	Log logger.Logger
}

func (p LogPublisher) Publish(_ context.Context, s Status) error {
	ev := p.Log.Info()
	switch {
	case s.Emergency:
		ev = p.Log.Error()
	case s.Degraded:
		ev = p.Log.Warn()
	}

	ev.Uint64("tick", s.Tick).
		Str("profile", s.Profile.String()).
		Str("severity", s.Severity.String()).
		Str("reason", string(s.Reason)).
		Str("phase", s.Phase).
		Dur("phase_remaining", s.Remaining).
		Float64("trend", s.Trend).
		Bool("emergency", s.Emergency).
		Str("zones", zoneSummary(s.Zones)).
		Strs("changes", s.Changes).
		Msg(message(s))

	return nil
}

func message(s Status) string {
	switch {
	case s.Emergency:
		return "Emergency, performance locked"
	case s.Degraded:
		return "No sensor data"
	case len(s.Changes) > 0:
		return "State changed"
	}
	return "Status"
}

// zoneSummary renders zones as name:temp°C/rpm, marking stalls and
// zones without readings.
func zoneSummary(zones []ZoneStatus) string {
	parts := make([]string, 0, len(zones))
	for _, z := range zones {
		switch {
		case !z.Known:
			parts = append(parts, z.Name+":-")
			continue
		case !z.Active:
			parts = append(parts, fmt.Sprintf("%s:%.1f°C(stale)", z.Name, z.Temperature))
			continue
		}

		part := fmt.Sprintf("%s:%.1f°C", z.Name, z.Temperature)
		if z.HasFan {
			part += fmt.Sprintf("/%.0frpm", z.FanSpeed)
		}
		if z.FanStall {
			part += "!"
		}
		parts = append(parts, part)
	}

	return strings.Join(parts, " ")
}
