package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/logger"
)

type fakeSink struct {
	writes []Profile
	err    error
}

func (f *fakeSink) Write(p Profile) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, p)
	return nil
}

func TestActuatorIdempotent(t *testing.T) {
	sink := &fakeSink{}
	a := NewActuator(sink, logger.Nop())

	wrote, err := a.Apply(Balanced)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = a.Apply(Balanced)
	require.NoError(t, err)
	assert.False(t, wrote)

	_, err = a.Apply(Performance)
	require.NoError(t, err)

	assert.Equal(t, []Profile{Balanced, Performance}, sink.writes)
	assert.Equal(t, uint64(2), a.Writes())
	assert.Equal(t, Performance, a.Current())
}

func TestActuatorFailsafeFirst(t *testing.T) {
	sink := &fakeSink{}
	a := NewActuator(sink, logger.Nop())
	assert.Empty(t, a.Current())

	require.NoError(t, a.Failsafe())
	require.NoError(t, a.Failsafe())
	wrote, err := a.Apply(Performance)
	require.NoError(t, err)
	assert.False(t, wrote)

	assert.Equal(t, []Profile{Performance, Performance}, sink.writes)
}

func TestActuatorWriteFailure(t *testing.T) {
	sink := &fakeSink{}
	a := NewActuator(sink, logger.Nop())
	require.NoError(t, a.Failsafe())

	sink.err = os.ErrPermission
	wrote, err := a.Apply(Balanced)
	require.Error(t, err)
	assert.False(t, wrote)
	assert.Equal(t, ErrActuation, errors.CodeOf(err))
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Contains(t, err.Error(), "balanced")
	assert.Equal(t, Performance, a.Current())
}

func TestActuatorRejectsUnknown(t *testing.T) {
	sink := &fakeSink{}
	a := NewActuator(sink, logger.Nop())

	_, err := a.Apply(Profile("turbo"))
	assert.Equal(t, ErrUnknownProfile, errors.CodeOf(err))
	assert.Empty(t, sink.writes)
}

func TestMonitorSink(t *testing.T) {
	a := NewActuator(Monitor{Log: logger.Nop()}, logger.Nop())

	wrote, err := a.Apply(Balanced)
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, Balanced, a.Current())
}

func newSysfs(t *testing.T, current, choices string) *Sysfs {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "platform_profile")
	require.NoError(t, os.WriteFile(path, []byte(current+"\n"), 0o644))
	if choices != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, choicesFile), []byte(choices+"\n"), 0o644))
	}

	return NewSysfs(path)
}

func TestSysfsReadWrite(t *testing.T) {
	s := newSysfs(t, "balanced-performance", "")

	p, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, Profile("balanced-performance"), p)

	require.NoError(t, s.Write(Performance))
	p, err = s.Read()
	require.NoError(t, err)
	assert.Equal(t, Performance, p)

	require.NoError(t, s.Write(Balanced))
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "balanced", string(data))
}

func TestSysfsWriteMissingNode(t *testing.T) {
	s := NewSysfs(filepath.Join(t.TempDir(), "missing", "platform_profile"))

	err := s.Write(Balanced)
	assert.Equal(t, ErrActuation, errors.CodeOf(err))
}

func TestSysfsSupports(t *testing.T) {
	s := newSysfs(t, "balanced", "quiet balanced balanced-performance performance")

	choices, err := s.Choices()
	require.NoError(t, err)
	assert.Len(t, choices, 4)

	assert.NoError(t, s.Supports(Balanced, Performance))

	s = newSysfs(t, "balanced", "quiet balanced")
	err = s.Supports(Balanced, Performance)
	assert.Equal(t, ErrUnsupportedProfile, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "performance")

	s = newSysfs(t, "balanced", "")
	assert.Equal(t, ErrReadChoices, errors.CodeOf(s.Supports(Balanced)))
}

func TestSysfsCheckWritable(t *testing.T) {
	s := newSysfs(t, "balanced", "")
	assert.NoError(t, s.CheckWritable())

	missing := NewSysfs(filepath.Join(t.TempDir(), "platform_profile"))
	assert.Equal(t, ErrPermission, errors.CodeOf(missing.CheckWritable()))
}

func TestNewSysfsDefault(t *testing.T) {
	assert.Equal(t, DefaultPath, NewSysfs("").Path())
}
