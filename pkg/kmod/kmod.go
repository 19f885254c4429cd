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

// Package kmod loads kernel modules using the modprobe tool.
package kmod

import (
	"os/exec"
	"strings"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
)

// RunFunc executes an external command and returns its combined output.
// It exists so that unit tests can record invocations instead of executing them.
type RunFunc func(name string, args ...string) ([]byte, error)

// Loader loads kernel modules.
type Loader struct {
	run RunFunc
	log logging.Logger
}

// NewLoader returns a loader executing modprobe on the host.
func NewLoader(log logging.Logger) *Loader {
	return &Loader{
		run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).CombinedOutput()
		},
		log: log,
	}
}

// NewLoaderWithRunner returns a loader using the provided command runner.
func NewLoaderWithRunner(run RunFunc, log logging.Logger) *Loader {
	return &Loader{run: run, log: log}
}

// Load loads the given kernel modules. Loading an already loaded module
// is a no-op for modprobe, so the call is idempotent.
func (l *Loader) Load(modules ...string) error {
	for _, module := range modules {
		l.log.Debugf("Loading kernel module %s", module)

		output, err := l.run("modprobe", module)
		if err != nil {
			return errors.Wrapf(err, "unable to load kernel module %s: %s",
				module, strings.TrimSpace(string(output)))
		}
	}
	return nil
}
