package thermal

import (
	"time"

	"codeberg.org/mutker/profilectl/internal/zone"
)

// Point is one (time, temperature) observation.
type Point struct {
	Time time.Time
	Temp float64
}

// History is a trailing, time-bounded series of zone temperatures.
type History struct {
	Points []Point
	Window time.Duration
}

// NewHistory creates an empty history spanning window.
func NewHistory(window time.Duration) History {
	return History{Window: window}
}

// Push appends an observation and evicts everything older than the window.
func (h *History) Push(t time.Time, temp float64) {
	h.Points = append(h.Points, Point{Time: t, Temp: temp})

	cutoff := t.Add(-h.Window)
	drop := 0
	for drop < len(h.Points) && h.Points[drop].Time.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		h.Points = append(h.Points[:0:0], h.Points[drop:]...)
	}
}

// Len is the number of retained observations.
func (h *History) Len() int {
	return len(h.Points)
}

// Slope is the least-squares slope of the history in °C per second. With
// fewer than two points, or all points at one instant, it is 0.
func (h *History) Slope() float64 {
	n := float64(len(h.Points))
	if n < 2 {
		return 0
	}

	first := h.Points[0].Time
	var sumX, sumY, sumXY, sumX2 float64
	for _, p := range h.Points {
		x := p.Time.Sub(first).Seconds()
		sumX += x
		sumY += p.Temp
		sumXY += x * p.Temp
		sumX2 += x * x
	}

	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0
	}

	return (n*sumXY - sumX*sumY) / denom
}

// Clone returns an independent copy.
func (h History) Clone() History {
	return History{Points: append([]Point(nil), h.Points...), Window: h.Window}
}

// NormalizedTrend scales a slope by the zone's hysteresis band into [-1, 1]
// and weights it. A zone gaining its whole band per second reads as 1.
func NormalizedTrend(z zone.Config, slope float64) float64 {
	band := z.Band()
	if band <= 0 {
		return 0
	}

	return z.TrendWeight * max(-1, min(1, slope/band))
}
