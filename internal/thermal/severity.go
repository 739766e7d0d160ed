// Package thermal turns raw sensor readings into per-zone samples, classifies
// them with hysteresis and estimates how fast each zone is heating.
package thermal

// Severity is the discrete heat level of a zone or of the whole machine.
type Severity int

const (
	Cool Severity = iota
	Warm
	Hot
)

func (s Severity) String() string {
	switch s {
	case Cool:
		return "cool"
	case Warm:
		return "warm"
	case Hot:
		return "hot"
	}

	return "unknown"
}

// MaxSeverity returns the more severe of two levels.
func MaxSeverity(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
