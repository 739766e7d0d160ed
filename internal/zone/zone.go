// Package zone holds the static zone catalog: which sensors belong to which
// thermal zone and the thresholds each zone is judged against.
package zone

import (
	"regexp"

	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/sensor"
)

// Config is one zone as written in the configuration file.
type Config struct {
	Name        string   `mapstructure:"name"`
	TempMatch   []string `mapstructure:"temp_match"`
	FanMatch    []string `mapstructure:"fan_match"`
	Trigger     float64  `mapstructure:"trigger"`
	Release     float64  `mapstructure:"release"`
	MinRPM      float64  `mapstructure:"min_rpm"`
	MaxRPM      float64  `mapstructure:"max_rpm"`
	TrendWeight float64  `mapstructure:"trend_weight"`
}

// Band is the width of the hysteresis band.
func (c Config) Band() float64 {
	return c.Trigger - c.Release
}

// Validate checks a single zone. Errors carry the zone name and offending values.
func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Name == "" {
		return errFactory.WithMessage(ErrInvalidZone, "zone without a name")
	}

	if c.Release >= c.Trigger {
		return errFactory.WithData(ErrDegenerateBand, struct {
			Zone    string
			Release float64
			Trigger float64
		}{c.Name, c.Release, c.Trigger})
	}

	if c.TrendWeight < 0 || c.TrendWeight > 1 {
		return errFactory.WithData(ErrInvalidWeight, struct {
			Zone        string
			TrendWeight float64
		}{c.Name, c.TrendWeight})
	}

	if c.MinRPM < 0 || (c.MaxRPM > 0 && c.MinRPM > c.MaxRPM) {
		return errFactory.WithData(ErrInvalidRPMBounds, struct {
			Zone   string
			MinRPM float64
			MaxRPM float64
		}{c.Name, c.MinRPM, c.MaxRPM})
	}

	for _, pattern := range append(append([]string{}, c.TempMatch...), c.FanMatch...) {
		if _, err := compile(pattern); err != nil {
			return errFactory.Wrap(ErrInvalidPattern, err).WithData(struct {
				Zone    string
				Pattern string
			}{c.Name, pattern})
		}
	}

	return nil
}

// Zone is a validated zone with its match rules compiled.
type Zone struct {
	Config

	temp []*regexp.Regexp
	fan  []*regexp.Regexp
}

// Matches reports whether a reading of the given kind and source name belongs to the zone.
func (z *Zone) Matches(kind sensor.Kind, source string) bool {
	rules := z.temp
	if kind == sensor.FanSpeed {
		rules = z.fan
	}

	for _, re := range rules {
		if re.MatchString(source) {
			return true
		}
	}

	return false
}

// Catalog is the ordered zone table. Order matters: a reading goes to the
// first zone whose rules match it.
type Catalog struct {
	zones []Zone
	index map[string]int
}

// NewCatalog validates and compiles the zone configs.
func NewCatalog(cfgs []Config) (*Catalog, error) {
	errFactory := errors.New()

	c := &Catalog{
		zones: make([]Zone, 0, len(cfgs)),
		index: make(map[string]int, len(cfgs)),
	}

	for _, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, ok := c.index[cfg.Name]; ok {
			return nil, errFactory.WithData(ErrDuplicateZone, cfg.Name)
		}

		z := Zone{Config: cfg}
		for _, p := range cfg.TempMatch {
			re, _ := compile(p)
			z.temp = append(z.temp, re)
		}
		for _, p := range cfg.FanMatch {
			re, _ := compile(p)
			z.fan = append(z.fan, re)
		}

		c.index[cfg.Name] = len(c.zones)
		c.zones = append(c.zones, z)
	}

	return c, nil
}

// Len returns the number of zones.
func (c *Catalog) Len() int {
	return len(c.zones)
}

// Zone returns the zone at position i.
func (c *Catalog) Zone(i int) *Zone {
	return &c.zones[i]
}

// Zones returns all zones in catalog order.
func (c *Catalog) Zones() []Zone {
	return c.zones
}

// Index returns the position of the named zone.
func (c *Catalog) Index(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// Match returns the position of the first zone claiming the reading.
func (c *Catalog) Match(kind sensor.Kind, source string) (int, bool) {
	for i := range c.zones {
		if c.zones[i].Matches(kind, source) {
			return i, true
		}
	}

	return -1, false
}

// Patterns are searched anywhere in the source name, ignoring case.
func compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}
