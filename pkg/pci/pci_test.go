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
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/ligato/cn-infra/logging/logrus"
	"github.com/onsi/gomega"
	"github.com/pkg/errors"
)

const (
	testAddr   = "0000:00:03.0"
	testDriver = "e1000e"
)

// fakeSysBus builds a sysfs-like PCI bus directory in a temp dir:
// one device bound to testDriver, with vendor/device attributes and
// the usual control files. The caller is responsible for removing it.
func fakeSysBus(t *testing.T) string {
	busPath, err := ioutil.TempDir("", "sys-bus-pci")
	if err != nil {
		t.Fatal(err)
	}

	devDir := filepath.Join(busPath, "devices", testAddr)
	drvDir := filepath.Join(busPath, "drivers", testDriver)
	for _, dir := range []string{devDir, drvDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}

	files := map[string]string{
		filepath.Join(devDir, "vendor"):          "0x8086\n",
		filepath.Join(devDir, "device"):          "0x10d3\n",
		filepath.Join(devDir, "driver_override"): "(null)\n",
		filepath.Join(drvDir, "unbind"):          "",
		filepath.Join(drvDir, "bind"):            "",
		filepath.Join(busPath, "drivers_probe"):  "",
	}
	for name, content := range files {
		if err := ioutil.WriteFile(name, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	// driver symlink + device entry in the driver dir, as the kernel maintains them
	if err := os.Symlink(drvDir, filepath.Join(devDir, "driver")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(devDir, filepath.Join(drvDir, testAddr)); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(busPath, "iommu_groups", "7"),
		filepath.Join(devDir, "iommu_group")); err != nil {
		t.Fatal(err)
	}

	return busPath
}

func testHandler(t *testing.T) (*Handler, string) {
	busPath := fakeSysBus(t)
	return NewHandler(busPath, logrus.DefaultLogger()), busPath
}

func TestParseAddress(t *testing.T) {
	gomega.RegisterTestingT(t)

	addr, err := ParseAddress("0000:00:03.0")
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(addr).To(gomega.BeEquivalentTo("0000:00:03.0"))

	addr, err = ParseAddress("0000:0B:00.0")
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(addr).To(gomega.BeEquivalentTo("0000:0b:00.0"))

	for _, invalid := range []string{"", "00:03.0", "0000:00:03", "0000:00:03.9", "garbage"} {
		_, err = ParseAddress(invalid)
		gomega.Expect(err).NotTo(gomega.BeNil())
	}
}

func TestReadAttributes(t *testing.T) {
	gomega.RegisterTestingT(t)
	h, busPath := testHandler(t)
	defer os.RemoveAll(busPath)

	vendor, err := h.ReadAttribute(testAddr, "vendor")
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(vendor).To(gomega.BeEquivalentTo("0x8086"))

	devID, err := h.ReadAttribute(testAddr, "device")
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(devID).To(gomega.BeEquivalentTo("0x10d3"))
}

func TestDeviceNotFound(t *testing.T) {
	gomega.RegisterTestingT(t)
	h, busPath := testHandler(t)
	defer os.RemoveAll(busPath)

	gomega.Expect(h.Exists("0000:00:99.0")).To(gomega.BeFalse())

	_, err := h.ReadAttribute("0000:00:99.0", "vendor")
	gomega.Expect(errors.Cause(err)).To(gomega.BeEquivalentTo(ErrDeviceNotFound))

	_, err = h.Driver("0000:00:99.0")
	gomega.Expect(errors.Cause(err)).To(gomega.BeEquivalentTo(ErrDeviceNotFound))
}

func TestDriverResolution(t *testing.T) {
	gomega.RegisterTestingT(t)
	h, busPath := testHandler(t)
	defer os.RemoveAll(busPath)

	driver, err := h.Driver(testAddr)
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(driver).To(gomega.BeEquivalentTo(testDriver))

	group, err := h.IOMMUGroup(testAddr)
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(group).To(gomega.BeEquivalentTo("7"))

	gomega.Expect(h.BoundToDriver(testAddr, testDriver)).To(gomega.BeTrue())
	gomega.Expect(h.BoundToDriver(testAddr, "vfio-pci")).To(gomega.BeFalse())
}

func TestUnboundDevice(t *testing.T) {
	gomega.RegisterTestingT(t)
	busPath := fakeSysBus(t)
	defer os.RemoveAll(busPath)
	h := NewHandler(busPath, logrus.DefaultLogger())

	// drop the driver symlink to simulate an unbound device
	err := os.Remove(filepath.Join(busPath, "devices", testAddr, "driver"))
	gomega.Expect(err).To(gomega.BeNil())

	driver, err := h.Driver(testAddr)
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(driver).To(gomega.BeEquivalentTo(""))

	// unbind without a bound driver must fail
	err = h.Unbind(testAddr)
	gomega.Expect(err).NotTo(gomega.BeNil())
}

func TestUnbind(t *testing.T) {
	gomega.RegisterTestingT(t)
	busPath := fakeSysBus(t)
	defer os.RemoveAll(busPath)
	h := NewHandler(busPath, logrus.DefaultLogger())

	err := h.Unbind(testAddr)
	gomega.Expect(err).To(gomega.BeNil())

	written, err := ioutil.ReadFile(filepath.Join(busPath, "drivers", testDriver, "unbind"))
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(string(written)).To(gomega.BeEquivalentTo(testAddr))
}

func TestDriverOverride(t *testing.T) {
	gomega.RegisterTestingT(t)
	busPath := fakeSysBus(t)
	defer os.RemoveAll(busPath)
	h := NewHandler(busPath, logrus.DefaultLogger())

	// unset override is rendered by the kernel as "(null)"
	override, err := h.DriverOverride(testAddr)
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(override).To(gomega.BeEquivalentTo(""))

	err = h.SetDriverOverride(testAddr, "vfio-pci")
	gomega.Expect(err).To(gomega.BeNil())

	override, err = h.DriverOverride(testAddr)
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(override).To(gomega.BeEquivalentTo("vfio-pci"))
}

func TestBind(t *testing.T) {
	gomega.RegisterTestingT(t)
	busPath := fakeSysBus(t)
	defer os.RemoveAll(busPath)
	h := NewHandler(busPath, logrus.DefaultLogger())

	err := h.Bind(testAddr, testDriver)
	gomega.Expect(err).To(gomega.BeNil())

	written, err := ioutil.ReadFile(filepath.Join(busPath, "drivers", testDriver, "bind"))
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(string(written)).To(gomega.BeEquivalentTo(testAddr))

	// binding to an unknown driver fails
	err = h.Bind(testAddr, "no-such-driver")
	gomega.Expect(err).NotTo(gomega.BeNil())
}

func TestTriggerProbe(t *testing.T) {
	gomega.RegisterTestingT(t)
	busPath := fakeSysBus(t)
	defer os.RemoveAll(busPath)
	h := NewHandler(busPath, logrus.DefaultLogger())

	err := h.TriggerProbe(testAddr)
	gomega.Expect(err).To(gomega.BeNil())

	written, err := ioutil.ReadFile(filepath.Join(busPath, "drivers_probe"))
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(string(written)).To(gomega.BeEquivalentTo(testAddr))
}
