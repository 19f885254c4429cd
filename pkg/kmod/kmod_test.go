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

package kmod

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ligato/cn-infra/logging/logrus"
	"github.com/onsi/gomega"
)

func TestLoad(t *testing.T) {
	gomega.RegisterTestingT(t)

	var executed []string
	loader := NewLoaderWithRunner(func(name string, args ...string) ([]byte, error) {
		executed = append(executed, name+" "+strings.Join(args, " "))
		return nil, nil
	}, logrus.DefaultLogger())

	err := loader.Load("vfio", "vfio-pci", "vfio_iommu_type1")
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(executed).To(gomega.BeEquivalentTo([]string{
		"modprobe vfio",
		"modprobe vfio-pci",
		"modprobe vfio_iommu_type1",
	}))
}

func TestLoadFailure(t *testing.T) {
	gomega.RegisterTestingT(t)

	var executed []string
	loader := NewLoaderWithRunner(func(name string, args ...string) ([]byte, error) {
		executed = append(executed, strings.Join(args, " "))
		if args[0] == "vfio-pci" {
			return []byte("modprobe: FATAL: Module vfio-pci not found"), fmt.Errorf("exit status 1")
		}
		return nil, nil
	}, logrus.DefaultLogger())

	err := loader.Load("vfio", "vfio-pci", "vfio_iommu_type1")
	gomega.Expect(err).NotTo(gomega.BeNil())
	gomega.Expect(err.Error()).To(gomega.ContainSubstring("vfio-pci"))

	// loading aborts on the first failure
	gomega.Expect(executed).To(gomega.BeEquivalentTo([]string{"vfio", "vfio-pci"}))
}
