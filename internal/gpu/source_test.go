package gpu

import (
	"context"
	"fmt"
	"testing"

	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/logger"
	"codeberg.org/mutker/profilectl/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	name string
	temp uint32
	err  error
}

func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) Temperature() (uint32, error) { return d.temp, d.err }

type fakeLibrary struct {
	initErr  error
	devices  []device
	shutdown int
}

func (l *fakeLibrary) Initialize() error { return l.initErr }

func (l *fakeLibrary) Shutdown() error {
	l.shutdown++
	return nil
}

func (l *fakeLibrary) Devices() ([]device, error) { return l.devices, nil }

var _ sensor.Source = (*Source)(nil)

func TestSourceRead(t *testing.T) {
	lib := &fakeLibrary{devices: []device{
		&fakeDevice{name: "NVIDIA GeForce RTX 4090 Laptop GPU", temp: 67},
		&fakeDevice{name: "broken", err: fmt.Errorf("GPU is lost")},
	}}

	src, err := newSource(lib, logger.Nop())
	require.NoError(t, err)

	readings, failures := src.Read(context.Background())
	require.Len(t, readings, 1)
	assert.Equal(t, "nvidia:NVIDIA GeForce RTX 4090 Laptop GPU:gpu", readings[0].Source)
	assert.Equal(t, sensor.Temperature, readings[0].Kind)
	assert.InDelta(t, 67.0, readings[0].Value, 1e-9)

	require.Len(t, failures, 1)
	assert.True(t, errors.HasCode(failures[0], ErrTemperatureReadFailed))

	require.NoError(t, src.Close())
	assert.Equal(t, 1, lib.shutdown)
}

func TestSourceInitFailure(t *testing.T) {
	lib := &fakeLibrary{initErr: errors.New().New(ErrInitFailed)}

	_, err := newSource(lib, logger.Nop())
	require.Error(t, err)
	assert.Equal(t, ErrInitFailed, errors.CodeOf(err))
}

func TestSourceNoDevices(t *testing.T) {
	lib := &fakeLibrary{}

	_, err := newSource(lib, logger.Nop())
	require.Error(t, err)
	assert.Equal(t, ErrNoDevices, errors.CodeOf(err))
	assert.Equal(t, 1, lib.shutdown)
}
