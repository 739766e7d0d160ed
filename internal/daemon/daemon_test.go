package daemon

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/profilectl/internal/engine"
	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/logger"
	"codeberg.org/mutker/profilectl/internal/profile"
	"codeberg.org/mutker/profilectl/internal/sensor"
	"codeberg.org/mutker/profilectl/internal/telemetry"
	"codeberg.org/mutker/profilectl/internal/thermal"
	"codeberg.org/mutker/profilectl/internal/zone"
)

// scriptSource returns one scripted batch per read, then empty reads.
type scriptSource struct {
	script [][]sensor.Reading
	reads  int
}

func (s *scriptSource) Name() string { return "script" }

func (s *scriptSource) Read(context.Context) ([]sensor.Reading, []error) {
	s.reads++
	if s.reads > len(s.script) {
		return nil, []error{os.ErrNotExist}
	}
	return s.script[s.reads-1], nil
}

type writeLog struct {
	writes      []profile.Profile
	readsAtSink []int
	source      *scriptSource
	err         error
}

func (w *writeLog) Write(p profile.Profile) error {
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, p)
	w.readsAtSink = append(w.readsAtSink, w.source.reads)
	return nil
}

func cpu(temp float64) []sensor.Reading {
	return []sensor.Reading{
		{Source: "coretemp:Package id 0", Kind: sensor.Temperature, Value: temp},
		{Source: "coretemp:Core 3", Kind: sensor.Temperature, Value: temp - 4},
		{Source: "dell_smm:fan1", Kind: sensor.FanSpeed, Value: 2200},
	}
}

type fixture struct {
	daemon *Daemon
	source *scriptSource
	sink   *writeLog
	clock  time.Time
	sinks  *statusLog
}

type statusLog struct {
	got []telemetry.Status
}

func (l *statusLog) Publish(_ context.Context, s telemetry.Status) error {
	l.got = append(l.got, s)
	return nil
}

func newFixture(t *testing.T, policy engine.Policy, script ...[]sensor.Reading) *fixture {
	t.Helper()

	catalog, err := zone.NewCatalog(zone.DefaultConfigs())
	require.NoError(t, err)

	e, err := engine.New(catalog, policy, engine.Fixed{Table: engine.DefaultTable()})
	require.NoError(t, err)

	reporter, err := telemetry.NewReporter(10, logger.Nop())
	require.NoError(t, err)
	statuses := &statusLog{}
	reporter.AddObserver(statuses)

	f := &fixture{
		source: &scriptSource{script: script},
		clock:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		sinks:  statuses,
	}
	f.sink = &writeLog{source: f.source}

	f.daemon, err = New(Options{
		Catalog:  catalog,
		Source:   f.source,
		Engine:   e,
		Actuator: profile.NewActuator(f.sink, logger.Nop()),
		Reporter: reporter,
		Log:      logger.Nop(),
		Now: func() time.Time {
			f.clock = f.clock.Add(time.Second)
			return f.clock
		},
	})
	require.NoError(t, err)

	return f
}

func quiet() engine.Policy {
	p := engine.DefaultPolicy()
	p.InitialBoost = 0
	return p
}

func TestFailsafeBeforeFirstRead(t *testing.T) {
	f := newFixture(t, engine.DefaultPolicy(), cpu(50))

	require.NoError(t, f.daemon.Start())
	require.Equal(t, []profile.Profile{profile.Performance}, f.sink.writes)
	assert.Equal(t, 0, f.sink.readsAtSink[0])

	// The boost keeps performance without another write.
	require.NoError(t, f.daemon.Tick(context.Background()))
	assert.Len(t, f.sink.writes, 1)
}

func TestRelaxesAfterConfirmedCoolTick(t *testing.T) {
	f := newFixture(t, quiet(), cpu(50), cpu(50))
	require.NoError(t, f.daemon.Start())

	ctx := context.Background()
	require.NoError(t, f.daemon.Tick(ctx))
	require.NoError(t, f.daemon.Tick(ctx))

	assert.Equal(t, []profile.Profile{profile.Performance, profile.Balanced}, f.sink.writes)
	assert.Equal(t, profile.Balanced, f.daemon.State().Profile)
	assert.True(t, f.daemon.State().Confirmed)
}

func TestSensorLossDoesNotWrite(t *testing.T) {
	f := newFixture(t, quiet(), cpu(50))
	require.NoError(t, f.daemon.Start())

	ctx := context.Background()
	require.NoError(t, f.daemon.Tick(ctx))
	writes := len(f.sink.writes)

	for range 3 {
		require.NoError(t, f.daemon.Tick(ctx))
	}

	assert.Len(t, f.sink.writes, writes)
	assert.Equal(t, thermal.Cool, f.daemon.State().Severity)
	assert.Equal(t, profile.Balanced, f.daemon.State().Profile)

	last := f.sinks.got[len(f.sinks.got)-1]
	assert.True(t, last.Degraded)
	assert.Equal(t, 1, last.Errors)
	assert.Equal(t, engine.ReasonHold, last.Reason)
}

func TestEmergencyLocksPerformance(t *testing.T) {
	f := newFixture(t, quiet(), cpu(50), cpu(97), cpu(97), cpu(97), cpu(60))
	require.NoError(t, f.daemon.Start())

	ctx := context.Background()
	for range 5 {
		require.NoError(t, f.daemon.Tick(ctx))
	}

	assert.True(t, f.daemon.State().EmergencyLocked)
	assert.Equal(t, profile.Performance, f.daemon.State().Profile)
	assert.Equal(t, engine.ReasonEmergency, f.sinks.got[len(f.sinks.got)-1].Reason)
}

func TestActuationFailure(t *testing.T) {
	f := newFixture(t, quiet(), cpu(50))
	require.NoError(t, f.daemon.Start())

	f.sink.err = os.ErrPermission
	err := f.daemon.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrActuation, errors.CodeOf(err))
	assert.Equal(t, profile.Performance, f.daemon.State().Profile)
}

func TestStartWithLock(t *testing.T) {
	catalog, err := zone.NewCatalog(zone.DefaultConfigs())
	require.NoError(t, err)
	e, err := engine.New(catalog, quiet(), engine.Binary(time.Second))
	require.NoError(t, err)
	reporter, err := telemetry.NewReporter(1, logger.Nop())
	require.NoError(t, err)

	source := &scriptSource{script: [][]sensor.Reading{cpu(80), cpu(80)}}
	sink := &writeLog{source: source}

	d, err := New(Options{
		Catalog:     catalog,
		Source:      source,
		Engine:      e,
		Actuator:    profile.NewActuator(sink, logger.Nop()),
		Reporter:    reporter,
		LockProfile: profile.Balanced,
	})
	require.NoError(t, err)
	require.NoError(t, d.Start())
	require.NoError(t, d.Tick(context.Background()))

	assert.Equal(t, []profile.Profile{profile.Performance, profile.Balanced}, sink.writes)
	require.NotNil(t, d.State().Lock)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, quiet(), cpu(50), cpu(50), cpu(50))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.daemon.Run(ctx, 5*time.Millisecond) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestTickBeforeStart(t *testing.T) {
	f := newFixture(t, quiet())
	assert.Error(t, f.daemon.Tick(context.Background()))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
