package gpu

import (
	"codeberg.org/mutker/profilectl/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// library abstracts NVML operations for testing
type library interface {
	Initialize() error
	Shutdown() error
	Devices() ([]device, error)
}

// device is the slice of an NVML device handle the source needs.
type device interface {
	Name() string
	Temperature() (uint32, error)
}

type nvmlWrapper struct {
	initialized bool
}

func (w *nvmlWrapper) Initialize() error {
	errFactory := errors.New()
	if w.initialized {
		return nil
	}

	ret := nvml.Init()
	if !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrInitFailed, newNVMLError(ret))
	}

	w.initialized = true

	return nil
}

func (w *nvmlWrapper) Shutdown() error {
	errFactory := errors.New()
	if !w.initialized {
		return nil
	}

	ret := nvml.Shutdown()
	if !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrShutdownFailed, newNVMLError(ret))
	}

	w.initialized = false

	return nil
}

func (w *nvmlWrapper) Devices() ([]device, error) {
	errFactory := errors.New()
	if !w.initialized {
		return nil, errFactory.New(ErrNotInitialized)
	}

	count, ret := nvml.DeviceGetCount()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrDeviceCountFailed, newNVMLError(ret))
	}

	devices := make([]device, 0, count)
	for i := 0; i < count; i++ {
		handle, ret := nvml.DeviceGetHandleByIndex(i)
		if !IsNVMLSuccess(ret) {
			return nil, errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret)).WithData(i)
		}

		name, ret := handle.GetName()
		if !IsNVMLSuccess(ret) {
			name = "gpu"
		}

		devices = append(devices, &nvmlDevice{handle: handle, name: name})
	}

	return devices, nil
}

type nvmlDevice struct {
	handle nvml.Device
	name   string
}

func (d *nvmlDevice) Name() string {
	return d.name
}

func (d *nvmlDevice) Temperature() (uint32, error) {
	temp, ret := d.handle.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return temp, nil
}
