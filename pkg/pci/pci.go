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

package pci

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
)

const (
	// DefaultSysBusPath is the location of the PCI bus in sysfs on a regular system.
	DefaultSysBusPath = "/sys/bus/pci"

	deviceDir      = "%s/devices/%s"
	attributeFile  = "%s/devices/%s/%s"
	driverLink     = "%s/devices/%s/driver"
	iommuGroupLink = "%s/devices/%s/iommu_group"
	unbindFile     = "%s/devices/%s/driver/unbind"
	overrideFile   = "%s/devices/%s/driver_override"
	bindFile       = "%s/drivers/%s/bind"
	probeFile      = "%s/drivers_probe"
	presenceFile   = "%s/drivers/%s/%s"
)

// ErrDeviceNotFound is returned when no device entry exists for the given PCI address.
var ErrDeviceNotFound = errors.New("PCI device not found")

// addressRe matches a long-form PCI address (domain:bus:device.function).
var addressRe = regexp.MustCompile(`^[0-9a-fA-F]{4}:[0-9a-fA-F]{2}:[0-9a-fA-F]{2}\.[0-7]$`)

// ParseAddress validates the long form of a PCI address and returns it lowercased.
func ParseAddress(addr string) (string, error) {
	if !addressRe.MatchString(addr) {
		return "", fmt.Errorf("invalid PCI address %q, expecting the long form, e.g. 0000:0b:00.0", addr)
	}
	return strings.ToLower(addr), nil
}

// Handler performs reads & writes on the PCI device model control files.
type Handler struct {
	busPath string
	log     logging.Logger
}

// NewHandler returns a handler operating on the given sysfs PCI bus directory.
func NewHandler(busPath string, log logging.Logger) *Handler {
	if busPath == "" {
		busPath = DefaultSysBusPath
	}
	return &Handler{
		busPath: busPath,
		log:     log,
	}
}

// Exists returns true in case a device entry exists for the given PCI address.
func (h *Handler) Exists(pciAddr string) bool {
	if _, err := os.Stat(fmt.Sprintf(deviceDir, h.busPath, pciAddr)); err == nil {
		return true
	}
	return false
}

// ReadAttribute reads a single device attribute file, e.g. "vendor" or "device".
func (h *Handler) ReadAttribute(pciAddr string, attr string) (string, error) {
	if !h.Exists(pciAddr) {
		return "", errors.Wrap(ErrDeviceNotFound, pciAddr)
	}
	return h.readFromFile(fmt.Sprintf(attributeFile, h.busPath, pciAddr, attr))
}

// Driver returns the name of the driver the device is currently bound to,
// or an empty string in case the device is not bound to any driver.
func (h *Handler) Driver(pciAddr string) (string, error) {
	if !h.Exists(pciAddr) {
		return "", errors.Wrap(ErrDeviceNotFound, pciAddr)
	}
	link, err := os.Readlink(fmt.Sprintf(driverLink, h.busPath, pciAddr))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return filepath.Base(link), nil
}

// IOMMUGroup returns the IOMMU group number of the device, or an empty string
// in case the device is not part of any IOMMU group.
func (h *Handler) IOMMUGroup(pciAddr string) (string, error) {
	if !h.Exists(pciAddr) {
		return "", errors.Wrap(ErrDeviceNotFound, pciAddr)
	}
	link, err := os.Readlink(fmt.Sprintf(iommuGroupLink, h.busPath, pciAddr))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return filepath.Base(link), nil
}

// DriverOverride returns the current value of the driver_override attribute.
func (h *Handler) DriverOverride(pciAddr string) (string, error) {
	override, err := h.ReadAttribute(pciAddr, "driver_override")
	if err != nil {
		return "", err
	}
	if override == "(null)" {
		// the kernel renders an unset override as "(null)"
		return "", nil
	}
	return override, nil
}

// Unbind unbinds the PCI device from its current driver.
func (h *Handler) Unbind(pciAddr string) error {
	err := h.writeToFile(fmt.Sprintf(unbindFile, h.busPath, pciAddr), pciAddr)
	if err != nil {
		return errors.Wrapf(err, "unable to unbind device %s from its driver", pciAddr)
	}
	return nil
}

// SetDriverOverride writes the given driver name into the driver_override
// attribute of the device. An empty driver name clears the override.
func (h *Handler) SetDriverOverride(pciAddr string, driver string) error {
	content := driver
	if content == "" {
		content = "\n"
	}
	err := h.writeToFile(fmt.Sprintf(overrideFile, h.busPath, pciAddr), content)
	if err != nil {
		return errors.Wrapf(err, "unable to set driver override for device %s", pciAddr)
	}
	return nil
}

// TriggerProbe asks the kernel to re-run the driver matching for the device,
// so that an unclaimed device gets claimed by the overridden / default driver.
func (h *Handler) TriggerProbe(pciAddr string) error {
	err := h.writeToFile(fmt.Sprintf(probeFile, h.busPath), pciAddr)
	if err != nil {
		return errors.Wrapf(err, "unable to trigger driver probe for device %s", pciAddr)
	}
	return nil
}

// Bind binds the PCI device to the specified driver.
func (h *Handler) Bind(pciAddr string, driver string) error {
	err := h.writeToFile(fmt.Sprintf(bindFile, h.busPath, driver), pciAddr)
	if err != nil {
		return errors.Wrapf(err, "unable to bind device %s to driver %s", pciAddr, driver)
	}
	return nil
}

// BoundToDriver returns true in case the PCI device is bound to the specified driver, false otherwise.
func (h *Handler) BoundToDriver(pciAddr string, driver string) bool {
	// check presence of the device entry in the driver directory
	if _, err := os.Stat(fmt.Sprintf(presenceFile, h.busPath, driver, pciAddr)); err == nil {
		return true
	}
	return false
}

// readFromFile reads string from the specified file.
func (h *Handler) readFromFile(fileName string) (string, error) {

	// try opening the file
	f, err := os.OpenFile(fileName, os.O_RDONLY, os.ModePerm)
	if err != nil {
		h.log.Debugf("Error by opening %s: %v", fileName, err)
		return "", err
	}
	defer f.Close()

	// read from file
	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	if err != nil {
		h.log.Debugf("Error by reading from %s: %v", fileName, err)
		return "", err
	}

	return strings.TrimSpace(string(buf[:n])), nil
}

// writeToFile writes string into the specified file.
func (h *Handler) writeToFile(fileName string, content string) error {

	h.log.Debugf("Writing '%s' into file %s", strings.TrimSpace(content), fileName)

	// try opening the file
	f, err := os.OpenFile(fileName, os.O_WRONLY, os.ModePerm)
	if err != nil {
		h.log.Debugf("Error by opening %s: %v", fileName, err)
		return err
	}
	defer f.Close()

	// write to file
	_, err = f.Write([]byte(content))
	if err != nil {
		h.log.Debugf("Error by writing to %s: %v", fileName, err)
		return err
	}

	return nil
}
