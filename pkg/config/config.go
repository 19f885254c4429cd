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

// Package config defines the optional YAML configuration of vfioctl.
package config

import (
	"io/ioutil"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	"github.com/vfiotools/vfioctl/pkg/devenv"
	"github.com/vfiotools/vfioctl/pkg/pci"
	"github.com/vfiotools/vfioctl/pkg/vfio"
)

// Config groups all tunables of vfioctl. Every field has a sensible default,
// the config file only overrides them.
type Config struct {
	// SysBusPath is the location of the PCI bus in sysfs.
	SysBusPath string `json:"sysBusPath"`
	// PassthroughDriver is the driver devices get rebound to.
	PassthroughDriver string `json:"passthroughDriver"`
	// Modules are the kernel modules loaded before rebinding.
	Modules []string `json:"modules"`
	// DevEnv configures the development environment container.
	DevEnv DevEnvConfig `json:"devEnv"`
}

// DevEnvConfig configures the development environment container.
type DevEnvConfig struct {
	Image      string `json:"image"`
	Dockerfile string `json:"dockerfile"`
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	return &Config{
		SysBusPath:        pci.DefaultSysBusPath,
		PassthroughDriver: vfio.DefaultDriver,
		Modules:           vfio.DefaultModules,
		DevEnv: DevEnvConfig{
			Image:      devenv.DefaultImage,
			Dockerfile: devenv.DefaultDockerfile,
		},
	}
}

// Load reads the config file and overlays it over the defaults.
func Load(fileName string) (*Config, error) {

	// read config YAML
	yamlFile, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "error by reading config file %s", fileName)
	}

	// unmarshall the YAML over the defaults
	config := Default()
	err = yaml.Unmarshal(yamlFile, config)
	if err != nil {
		return nil, errors.Wrapf(err, "error by unmarshaling config file %s", fileName)
	}

	return config, nil
}
