package zone

// DefaultConfigs is the zone table used when the configuration file names none.
// Thresholds fit a large gaming laptop with four fan groups.
func DefaultConfigs() []Config {
	return []Config{
		{
			Name:        "cpu",
			TempMatch:   []string{"package", "core", "cpu"},
			FanMatch:    []string{"fan1", "cpu"},
			Trigger:     75,
			Release:     68,
			MinRPM:      300,
			MaxRPM:      4200,
			TrendWeight: 1.0,
		},
		{
			Name:        "gpu",
			TempMatch:   []string{"video", "gpu", "nvidia"},
			FanMatch:    []string{"fan2", "gpu"},
			Trigger:     70,
			Release:     62,
			MinRPM:      300,
			MaxRPM:      3900,
			TrendWeight: 1.0,
		},
		{
			Name:        "ambient",
			TempMatch:   []string{"ambient", "iwlwifi"},
			FanMatch:    []string{"fan3", "chassis"},
			Trigger:     51,
			Release:     48,
			MinRPM:      300,
			MaxRPM:      8900,
			TrendWeight: 0.4,
		},
		{
			Name:        "memory",
			TempMatch:   []string{"sodimm", "dimm", "nvme"},
			FanMatch:    []string{"fan4", "memory"},
			Trigger:     65,
			Release:     58,
			MinRPM:      300,
			MaxRPM:      6700,
			TrendWeight: 0.6,
		},
	}
}
