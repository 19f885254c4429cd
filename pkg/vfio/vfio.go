// Copyright (c) 2019 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vfio rebinds PCI devices to the vfio-pci passthrough driver
// and restores them back to a kernel driver.
package vfio

import (
	"fmt"
	"io"
	"os"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"

	"github.com/vfiotools/vfioctl/pkg/kmod"
	"github.com/vfiotools/vfioctl/pkg/pci"
)

// DefaultDriver is the passthrough driver devices get rebound to.
const DefaultDriver = "vfio-pci"

// DefaultModules are the kernel modules required for VFIO passthrough.
var DefaultModules = []string{"vfio", "vfio-pci", "vfio_iommu_type1"}

// ErrNoDriver is returned when a rebind is requested for a device
// that is not bound to any driver.
var ErrNoDriver = errors.New("device is not bound to any driver")

// DeviceOps is the device-model control surface used by the manager.
// The interface allows to inject a fake PCI bus in the unit tests.
type DeviceOps interface {
	// Exists returns true in case a device entry exists for the given PCI address.
	Exists(pciAddr string) bool
	// ReadAttribute reads a single device attribute file, e.g. "vendor".
	ReadAttribute(pciAddr string, attr string) (string, error)
	// Driver returns the bound driver name, or an empty string if unbound.
	Driver(pciAddr string) (string, error)
	// IOMMUGroup returns the IOMMU group number of the device.
	IOMMUGroup(pciAddr string) (string, error)
	// DriverOverride returns the current driver_override value.
	DriverOverride(pciAddr string) (string, error)
	// Unbind unbinds the device from its current driver.
	Unbind(pciAddr string) error
	// SetDriverOverride sets (or clears, for an empty name) the driver override.
	SetDriverOverride(pciAddr string, driver string) error
	// TriggerProbe asks the kernel to re-run driver matching for the device.
	TriggerProbe(pciAddr string) error
}

// ModuleLoader loads kernel modules.
type ModuleLoader interface {
	Load(modules ...string) error
}

// DeviceStatus is a read-only view of the device binding state.
type DeviceStatus struct {
	Address        string
	Vendor         string
	Device         string
	Driver         string
	IOMMUGroup     string
	DriverOverride string
}

// Manager rebinds PCI devices to the passthrough driver.
type Manager struct {
	devices DeviceOps
	modules ModuleLoader
	driver  string
	modList []string
	out     io.Writer
	log     logging.Logger
}

// Option configures the manager.
type Option func(*Manager)

// UseDriver overrides the passthrough driver name.
func UseDriver(driver string) Option {
	return func(m *Manager) {
		if driver != "" {
			m.driver = driver
		}
	}
}

// UseModules overrides the list of kernel modules to load before rebinding.
func UseModules(modules []string) Option {
	return func(m *Manager) {
		if len(modules) > 0 {
			m.modList = modules
		}
	}
}

// UseOutput redirects the progress messages (standard output by default).
func UseOutput(out io.Writer) Option {
	return func(m *Manager) {
		m.out = out
	}
}

// NewManager returns a manager operating on the given device control surface.
func NewManager(devices DeviceOps, modules ModuleLoader, log logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		devices: devices,
		modules: modules,
		driver:  DefaultDriver,
		modList: DefaultModules,
		out:     os.Stdout,
		log:     log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewDefaultManager returns a manager operating on the host sysfs and modprobe.
func NewDefaultManager(log logging.Logger, opts ...Option) *Manager {
	return NewManager(pci.NewHandler(pci.DefaultSysBusPath, log), kmod.NewLoader(log), log, opts...)
}

// Rebind unbinds the device from its current driver and binds it to the
// passthrough driver via the driver override. Rebinding a device already
// bound to the passthrough driver is a no-op.
func (m *Manager) Rebind(pciAddr string) error {

	// make sure the passthrough modules are loaded
	err := m.modules.Load(m.modList...)
	if err != nil {
		return err
	}

	if !m.devices.Exists(pciAddr) {
		return errors.Wrap(pci.ErrDeviceNotFound, pciAddr)
	}

	// vendor & device codes, for diagnostics only
	vendor, err := m.devices.ReadAttribute(pciAddr, "vendor")
	if err != nil {
		return err
	}
	devID, err := m.devices.ReadAttribute(pciAddr, "device")
	if err != nil {
		return err
	}
	m.log.Debugf("Device %s: vendor=%s device=%s", pciAddr, vendor, devID)

	driver, err := m.devices.Driver(pciAddr)
	if err != nil {
		return err
	}
	if driver == m.driver {
		m.log.Debugf("%s already bound to driver %s", pciAddr, m.driver)
		return nil
	}
	if driver == "" {
		return errors.Wrap(ErrNoDriver, pciAddr)
	}

	fmt.Fprintf(m.out, "Unbinding %s from driver %s\n", pciAddr, driver)
	err = m.devices.Unbind(pciAddr)
	if err != nil {
		return err
	}

	fmt.Fprintf(m.out, "Binding %s to %s driver\n", pciAddr, m.driver)
	err = m.devices.SetDriverOverride(pciAddr, m.driver)
	if err != nil {
		return err
	}

	err = m.devices.TriggerProbe(pciAddr)
	if err != nil {
		return err
	}

	// verify the device was actually claimed by the passthrough driver
	bound, err := m.devices.Driver(pciAddr)
	if err != nil {
		return err
	}
	if bound != m.driver {
		return errors.Errorf("device %s was not claimed by driver %s after probe (bound: %q)",
			pciAddr, m.driver, bound)
	}

	return nil
}

// Release clears the driver override, unbinds the device from the passthrough
// driver and re-probes it, so that the default kernel driver claims it back.
func (m *Manager) Release(pciAddr string) error {

	if !m.devices.Exists(pciAddr) {
		return errors.Wrap(pci.ErrDeviceNotFound, pciAddr)
	}

	driver, err := m.devices.Driver(pciAddr)
	if err != nil {
		return err
	}
	if driver != "" && driver != m.driver {
		m.log.Debugf("%s is bound to driver %s, nothing to release", pciAddr, driver)
		return nil
	}

	err = m.devices.SetDriverOverride(pciAddr, "")
	if err != nil {
		return err
	}

	if driver == m.driver {
		fmt.Fprintf(m.out, "Unbinding %s from driver %s\n", pciAddr, m.driver)
		err = m.devices.Unbind(pciAddr)
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(m.out, "Rebinding %s to its kernel driver\n", pciAddr)
	return m.devices.TriggerProbe(pciAddr)
}

// Status returns the binding state of the device.
func (m *Manager) Status(pciAddr string) (*DeviceStatus, error) {

	if !m.devices.Exists(pciAddr) {
		return nil, errors.Wrap(pci.ErrDeviceNotFound, pciAddr)
	}

	status := &DeviceStatus{Address: pciAddr}

	var err error
	if status.Vendor, err = m.devices.ReadAttribute(pciAddr, "vendor"); err != nil {
		return nil, err
	}
	if status.Device, err = m.devices.ReadAttribute(pciAddr, "device"); err != nil {
		return nil, err
	}
	if status.Driver, err = m.devices.Driver(pciAddr); err != nil {
		return nil, err
	}
	if status.IOMMUGroup, err = m.devices.IOMMUGroup(pciAddr); err != nil {
		return nil, err
	}
	if status.DriverOverride, err = m.devices.DriverOverride(pciAddr); err != nil {
		return nil, err
	}

	return status, nil
}
