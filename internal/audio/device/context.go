// Package device drives PCM sessions through a real audio device. The device's
// data callback plays the role of the hardware FIFO: each callback drains or
// fills the head descriptors of the channel queue.
package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Context is the part of a miniaudio context the engine needs.
type Context interface {
	Devices(deviceType malgo.DeviceType) ([]malgo.DeviceInfo, error)
	InitDevice(config *malgo.DeviceConfig, callbacks malgo.DeviceCallbacks) (*malgo.Device, error)
	Uninit() error
}

// Device is a started or stopped audio device.
type Device interface {
	Start() error
	Stop() error
	Uninit() error
}

// MalgoContextAdapter adapts malgo.AllocatedContext to Context.
type MalgoContextAdapter struct {
	context *malgo.AllocatedContext
	mu      sync.Mutex
}

// NewMalgoContextAdapter initializes a miniaudio context over the given backends.
func NewMalgoContextAdapter(backends []malgo.Backend, config *malgo.ContextConfig, logger func(string)) (*MalgoContextAdapter, error) {
	ctx, err := malgo.InitContext(backends, *config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	return &MalgoContextAdapter{context: ctx}, nil
}

// Devices lists the devices of the given type.
func (a *MalgoContextAdapter) Devices(deviceType malgo.DeviceType) ([]malgo.DeviceInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.context.Devices(deviceType)
}

// InitDevice creates a device bound to this context.
func (a *MalgoContextAdapter) InitDevice(config *malgo.DeviceConfig, callbacks malgo.DeviceCallbacks) (*malgo.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return malgo.InitDevice(a.context.Context, *config, callbacks)
}

// Uninit releases the context.
func (a *MalgoContextAdapter) Uninit() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.context.Uninit()
	a.context.Free()
	return err
}

// MalgoDeviceAdapter adapts malgo.Device to Device.
type MalgoDeviceAdapter struct {
	device *malgo.Device
	mu     sync.Mutex
}

// NewMalgoDeviceAdapter wraps device.
func NewMalgoDeviceAdapter(device *malgo.Device) *MalgoDeviceAdapter {
	return &MalgoDeviceAdapter{device: device}
}

// Start starts the device callbacks.
func (a *MalgoDeviceAdapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.device.Start()
}

// Stop stops the device. It returns once no data callback is running.
func (a *MalgoDeviceAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.device.Stop()
}

// Uninit releases the device.
func (a *MalgoDeviceAdapter) Uninit() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.device.Uninit()
	return nil
}

// ContextFactory creates miniaudio contexts for the configured backend.
type ContextFactory struct {
	backend malgo.Backend
}

// NewContextFactory creates a factory for the named backend, see BackendByName.
func NewContextFactory(backend string) (*ContextFactory, error) {
	b, ok := BackendByName(backend)
	if !ok {
		return nil, fmt.Errorf("unknown audio backend %q", backend)
	}
	return &ContextFactory{backend: b}, nil
}

// CreateContext initializes a context, passing miniaudio log lines to logger.
func (f *ContextFactory) CreateContext(logger func(string)) (*MalgoContextAdapter, error) {
	return NewMalgoContextAdapter([]malgo.Backend{f.backend}, &malgo.ContextConfig{}, logger)
}
