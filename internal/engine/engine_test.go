package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/profilectl/internal/profile"
	"codeberg.org/mutker/profilectl/internal/thermal"
	"codeberg.org/mutker/profilectl/internal/zone"
)

var boot = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *zone.Catalog {
	t.Helper()

	catalog, err := zone.NewCatalog([]zone.Config{
		{
			Name: "cpu", TempMatch: []string{"cpu"}, FanMatch: []string{"fan1"},
			Trigger: 75, Release: 68, MinRPM: 300, MaxRPM: 4200, TrendWeight: 1,
		},
		{
			Name: "gpu", TempMatch: []string{"gpu"}, FanMatch: []string{"fan2"},
			Trigger: 70, Release: 62, MinRPM: 300, MaxRPM: 3900, TrendWeight: 1,
		},
	})
	require.NoError(t, err)

	return catalog
}

func testTable() Table {
	return Table{
		Cool: Cadence{On: 0, Off: 100 * time.Second},
		Warm: Cadence{On: 1 * time.Second, Off: 10 * time.Second},
		Hot:  Cadence{On: 3 * time.Second, Off: 2 * time.Second},
	}
}

type harness struct {
	t     *testing.T
	e     *Engine
	state State
	now   time.Time
}

func newHarness(t *testing.T, policy Policy, strategy Strategy) *harness {
	t.Helper()

	e, err := New(testCatalog(t), policy, strategy)
	require.NoError(t, err)

	return &harness{t: t, e: e, state: e.NewState(boot), now: boot}
}

// quietPolicy has no startup boost so cadence applies from the first tick.
func quietPolicy() Policy {
	p := DefaultPolicy()
	p.InitialBoost = 0
	return p
}

// step runs one tick. Temperatures are per zone in catalog order; NaN marks
// a zone without readings.
func (h *harness) step(temps ...float64) Decision {
	samples := make([]thermal.Sample, len(temps))
	for i, temp := range temps {
		if math.IsNaN(temp) {
			continue
		}
		samples[i] = thermal.Sample{MaxTemperature: temp, Temperatures: 1, Timestamp: h.now}
	}

	return h.stepSamples(samples)
}

func (h *harness) stepSamples(samples []thermal.Sample) Decision {
	h.now = h.now.Add(h.e.Policy().Step)

	var d Decision
	h.state, d = h.e.Step(h.state, Input{Now: h.now, Samples: samples})

	return d
}

var none = math.NaN()

func TestHysteresisLatch(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})

	var got []thermal.Severity
	for _, temp := range []float64{70, 76, 74, 69, 66} {
		h.step(temp, none)
		got = append(got, h.state.Zones[0].Severity)
	}

	assert.Equal(t, []thermal.Severity{thermal.Warm, thermal.Hot, thermal.Hot, thermal.Hot, thermal.Warm}, got)
}

func TestHotHoldsAboveRelease(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})

	h.step(80, none)
	for _, temp := range []float64{74, 72, 70, 68.5} {
		h.step(temp, none)
		assert.Equal(t, thermal.Hot, h.state.Zones[0].Severity, "temp %v", temp)
	}

	h.step(68, none)
	assert.Less(t, h.state.Zones[0].Severity, thermal.Hot)
}

func TestGlobalSeverityIsMaximum(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})

	d := h.step(60, 71)
	assert.Equal(t, thermal.Hot, d.Severity)
	assert.Equal(t, thermal.Hot, h.state.Severity)

	// The GPU stays hot while it reports nothing.
	d = h.step(60, none)
	assert.Equal(t, thermal.Hot, d.Severity)
	assert.False(t, h.state.Zones[1].Active)
	assert.True(t, h.state.Zones[1].Known)
}

func TestNeverMatchedZoneIsIgnored(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})

	for range 5 {
		d := h.step(50, none)
		assert.Equal(t, thermal.Cool, d.Severity)
		assert.Equal(t, profile.Balanced, d.Target)
		assert.False(t, d.Reason == ReasonEmergency)
	}

	assert.False(t, h.state.Zones[1].Known)
}

func TestUnconfirmedHoldsPerformance(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})
	assert.Equal(t, profile.Performance, h.state.Profile)

	d := h.step(none, none)
	assert.Equal(t, profile.Performance, d.Target)
	assert.Equal(t, ReasonUnconfirmed, d.Reason)
	assert.False(t, h.state.Confirmed)

	d = h.step(50, none)
	assert.Equal(t, profile.Balanced, d.Target)
	assert.True(t, h.state.Confirmed)
}

func TestSensorLossHoldsPreviousState(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})

	d := h.step(50, 50)
	require.Equal(t, profile.Balanced, d.Target)
	require.Equal(t, thermal.Cool, d.Severity)
	phase := h.state.Phase

	for range 3 {
		d = h.step(none, none)
		assert.Equal(t, ReasonHold, d.Reason)
		assert.Equal(t, profile.Balanced, d.Target)
		assert.Equal(t, thermal.Cool, d.Severity)
	}

	assert.Equal(t, thermal.Cool, h.state.Severity)
	assert.Equal(t, profile.Balanced, h.state.Profile)
	assert.Equal(t, phase, h.state.Phase)
}

func TestSensorLossFailsafe(t *testing.T) {
	policy := quietPolicy()
	policy.SensorLossGrace = 3 * time.Second
	h := newHarness(t, policy, Fixed{Table: testTable()})

	h.step(50, 50)

	var reasons []Reason
	for range 5 {
		reasons = append(reasons, h.step(none, none).Reason)
	}
	assert.Equal(t, []Reason{ReasonHold, ReasonHold, ReasonHold, ReasonSensorLoss, ReasonSensorLoss}, reasons)
	assert.Equal(t, profile.Performance, h.state.Profile)

	d := h.step(50, 50)
	assert.Equal(t, ReasonCadence, d.Reason)
	assert.Equal(t, profile.Balanced, d.Target)
	assert.True(t, h.state.LostSince.IsZero())
}

func TestEmergencyDebounce(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})

	h.step(96, 50)
	h.step(96, 50)
	assert.False(t, h.state.EmergencyLocked)

	d := h.step(96, 50)
	assert.True(t, h.state.EmergencyLocked)
	assert.Equal(t, ReasonEmergency, d.Reason)
	assert.Equal(t, profile.Performance, d.Target)
}

func TestEmergencyDipResetsWithoutGrace(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})

	for _, temp := range []float64{96, 96, 90, 96, 96} {
		h.step(temp, 50)
	}
	assert.False(t, h.state.EmergencyLocked)
	assert.Equal(t, 2, h.state.Zones[0].CriticalTicks)
}

func TestEmergencyGraceForgivesDip(t *testing.T) {
	policy := quietPolicy()
	policy.EmergencyGrace = 1
	h := newHarness(t, policy, Fixed{Table: testTable()})

	for _, temp := range []float64{96, 96, 90} {
		h.step(temp, 50)
	}
	assert.False(t, h.state.EmergencyLocked)
	assert.Equal(t, 2, h.state.Zones[0].CriticalTicks)

	h.step(96, 50)
	assert.True(t, h.state.EmergencyLocked)
}

func TestEmergencyClearsAfterDebounceBelowRelease(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})

	for range 3 {
		h.step(97, 50)
	}
	require.True(t, h.state.EmergencyLocked)

	// Below critical but above the CPU release point.
	for range 5 {
		d := h.step(70, 50)
		assert.Equal(t, ReasonEmergency, d.Reason)
	}

	h.step(60, 50)
	h.step(60, 50)
	assert.True(t, h.state.EmergencyLocked)

	// A reading gap restarts the window.
	h.step(none, none)
	h.step(60, 50)
	h.step(60, 50)
	assert.True(t, h.state.EmergencyLocked)

	d := h.step(60, 50)
	assert.False(t, h.state.EmergencyLocked)
	assert.NotEqual(t, ReasonEmergency, d.Reason)
	assert.Zero(t, h.state.Zones[0].CriticalTicks)
}

func TestEmergencyClearNeedsEveryKnownZone(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})

	for range 3 {
		h.step(97, 50)
	}
	for range 5 {
		h.step(60, none)
	}
	assert.True(t, h.state.EmergencyLocked)

	for range 3 {
		h.step(60, 50)
	}
	assert.False(t, h.state.EmergencyLocked)
}

func TestEmergencyPreemptsLockAndBoost(t *testing.T) {
	h := newHarness(t, DefaultPolicy(), Fixed{Table: testTable()})

	var err error
	h.state, err = h.e.Lock(h.state, profile.Balanced, 0, h.now)
	require.NoError(t, err)

	for range 3 {
		h.step(99, 50)
	}
	assert.Equal(t, profile.Performance, h.state.Profile)
}

func TestStartupBoost(t *testing.T) {
	policy := quietPolicy()
	policy.InitialBoost = 3 * time.Second
	h := newHarness(t, policy, Fixed{Table: testTable()})

	var targets []profile.Profile
	for range 4 {
		targets = append(targets, h.step(50, 50).Target)
	}

	assert.Equal(t, []profile.Profile{
		profile.Performance, profile.Performance, profile.Balanced, profile.Balanced,
	}, targets)
}

func TestHotStartHoldsPerformance(t *testing.T) {
	for _, boost := range []time.Duration{0, 3 * time.Second} {
		policy := DefaultPolicy()
		policy.InitialBoost = boost
		h := newHarness(t, policy, Fixed{Table: DefaultTable()})

		for i := range 8 {
			d := h.step(90, none)
			assert.Equal(t, profile.Performance, d.Target, "boost %v tick %d", boost, i+1)
			assert.Equal(t, thermal.Hot, d.Severity)
		}
		assert.False(t, h.state.Settled)
		assert.Equal(t, initialPhase(), h.state.Phase)

		// Leaving Hot passes through Warm, which settles and starts a rest.
		d := h.step(60, none)
		assert.Equal(t, thermal.Warm, d.Severity)
		assert.Equal(t, ReasonCadence, d.Reason)
		assert.Equal(t, profile.Balanced, d.Target)
		assert.True(t, h.state.Settled)
	}
}

func TestHotReturnAfterSensorLossHoldsPerformance(t *testing.T) {
	policy := quietPolicy()
	policy.SensorLossGrace = 2 * time.Second
	h := newHarness(t, policy, Fixed{Table: testTable()})

	h.step(50, none)
	require.True(t, h.state.Settled)

	for range 3 {
		h.step(none, none)
	}
	require.Equal(t, profile.Performance, h.state.Profile)
	assert.False(t, h.state.Settled)

	for range 3 {
		d := h.step(90, none)
		assert.Equal(t, ReasonUnconfirmed, d.Reason)
		assert.Equal(t, profile.Performance, d.Target)
	}
}

func TestProfileLock(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})

	var err error
	h.state, err = h.e.Lock(h.state, profile.Performance, 3*time.Second, h.now)
	require.NoError(t, err)

	assert.Equal(t, ReasonLock, h.step(50, 50).Reason)
	assert.Equal(t, ReasonLock, h.step(50, 50).Reason)

	d := h.step(50, 50)
	assert.Equal(t, ReasonCadence, d.Reason)
	assert.Equal(t, profile.Balanced, d.Target)
	assert.Nil(t, h.state.Lock)

	_, err = h.e.Lock(h.state, profile.Profile("quiet"), 0, h.now)
	assert.Error(t, err)
	_, err = h.e.Lock(h.state, profile.Balanced, -time.Second, h.now)
	assert.Error(t, err)

	h.state, err = h.e.Lock(h.state, profile.Performance, 0, h.now)
	require.NoError(t, err)
	h.state = h.e.Unlock(h.state)
	assert.Nil(t, h.state.Lock)
}

func TestCadenceRidesOutPulse(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})

	var targets []profile.Profile
	for _, temp := range []float64{50, 80, 80, 80, 60, 60} {
		targets = append(targets, h.step(temp, none).Target)
	}

	assert.Equal(t, []profile.Profile{
		profile.Balanced, profile.Balanced,
		profile.Performance, profile.Performance, profile.Performance,
		profile.Balanced,
	}, targets)
}

func TestCadenceRecomputedEveryTick(t *testing.T) {
	policy := quietPolicy()
	policy.RideOut = false
	h := newHarness(t, policy, Fixed{Table: testTable()})

	var targets []profile.Profile
	for _, temp := range []float64{50, 80, 80, 60} {
		targets = append(targets, h.step(temp, none).Target)
	}

	assert.Equal(t, []profile.Profile{
		profile.Balanced, profile.Balanced, profile.Performance, profile.Balanced,
	}, targets)
}

func TestEscalationShortensRest(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})

	assert.Equal(t, profile.Balanced, h.step(50, none).Target)
	assert.Equal(t, profile.Balanced, h.step(50, none).Target)
	assert.Equal(t, 100*time.Second, h.state.Phase.Length)

	d := h.step(80, none)
	assert.Equal(t, profile.Performance, d.Target)
	assert.Equal(t, Pulse, h.state.Phase.Mode)
	assert.Equal(t, 3*time.Second, h.state.Phase.Length)
}

func TestBinaryCadence(t *testing.T) {
	h := newHarness(t, quietPolicy(), Binary(time.Second))

	var targets []profile.Profile
	for _, temp := range []float64{50, 72, 80, 79, 70, 66, 60} {
		targets = append(targets, h.step(temp, none).Target)
	}

	assert.Equal(t, []profile.Profile{
		profile.Balanced, profile.Balanced,
		profile.Performance, profile.Performance, profile.Performance,
		profile.Balanced, profile.Balanced,
	}, targets)
}

func TestFanStallEscalates(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})

	d := h.stepSamples([]thermal.Sample{
		{MaxTemperature: 70, Temperatures: 1, MinFanSpeed: 120, Fans: 1},
	})

	assert.Equal(t, thermal.Warm, h.state.Zones[0].Severity)
	assert.Equal(t, thermal.Hot, h.state.Zones[0].Effective)
	assert.True(t, h.state.Zones[0].FanStall)
	assert.Equal(t, thermal.Hot, d.Severity)

	h.stepSamples([]thermal.Sample{
		{MaxTemperature: 70, Temperatures: 1, MinFanSpeed: 2000, Fans: 1},
	})
	assert.Equal(t, thermal.Warm, h.state.Zones[0].Effective)
	assert.False(t, h.state.Zones[0].FanStall)
}

func TestTrendFollowsRisingZone(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})

	var d Decision
	for _, temp := range []float64{69, 70, 71, 72} {
		d = h.step(temp, 40)
	}

	assert.InDelta(t, 1.0, h.state.Zones[0].Slope, 1e-9)
	assert.InDelta(t, 1.0/7, d.Trend, 1e-9)
	assert.InDelta(t, 4.0/7, d.Hotness, 1e-9)
}

func TestStepDoesNotMutatePrevious(t *testing.T) {
	h := newHarness(t, quietPolicy(), Fixed{Table: testTable()})
	h.step(70, 60)

	prev := h.state.Clone()
	next, _ := h.e.Step(h.state, Input{
		Now:     h.now.Add(time.Second),
		Samples: []thermal.Sample{{MaxTemperature: 80, Temperatures: 1}},
	})

	assert.Equal(t, prev, h.state)
	assert.Equal(t, thermal.Hot, next.Zones[0].Severity)
	assert.Len(t, h.state.Zones[0].History.Points, 1)
}

func TestWindowedAverageSmoothsSpike(t *testing.T) {
	policy := quietPolicy()
	policy.Aggregate = thermal.StrategyWindowedAverage
	h := newHarness(t, policy, Fixed{Table: testTable()})

	h.step(60, none)
	h.step(60, none)
	h.step(96, none)

	assert.InDelta(t, 72.0, h.state.Zones[0].Temperature, 1e-9)
	assert.Equal(t, thermal.Warm, h.state.Zones[0].Severity)
	assert.Equal(t, 1, h.state.Zones[0].CriticalTicks, "emergency counts the raw maximum")
}

func TestNewValidates(t *testing.T) {
	catalog := testCatalog(t)

	_, err := New(catalog, DefaultPolicy(), nil)
	assert.Error(t, err)

	bad := DefaultPolicy()
	bad.EmergencyDebounce = 0
	_, err = New(catalog, bad, Fixed{Table: testTable()})
	assert.Error(t, err)

	bad = DefaultPolicy()
	bad.Aggregate = "median"
	_, err = New(catalog, bad, Fixed{Table: testTable()})
	assert.Error(t, err)

	_, err = New(nil, DefaultPolicy(), Fixed{Table: testTable()})
	assert.Error(t, err)
}
