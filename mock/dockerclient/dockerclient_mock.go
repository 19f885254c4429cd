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

package dockerclient

import (
	"errors"
	"fmt"

	"github.com/fsouza/go-dockerclient"
)

// MockDockerClient is a mock for Docker client. It records the performed
// operations so that the unit tests can assert on them.
type MockDockerClient struct {
	connected bool

	// BuiltImages records the options of every BuildImage call.
	BuiltImages []docker.BuildImageOptions
	// Created records the options of every CreateContainer call.
	Created []docker.CreateContainerOptions
	// Started lists the IDs of started containers.
	Started []string
	// Attached lists the IDs of containers whose streams were attached.
	Attached []string
	// Removed lists the IDs of removed containers.
	Removed []string

	// FailWith, when set, is returned by every mutating operation.
	FailWith error

	nextID int
}

// NewMockDockerClient is a constructor for MockDockerClient.
func NewMockDockerClient() *MockDockerClient {
	return &MockDockerClient{}
}

// Connect puts the mock Docker client into the connected state.
func (m *MockDockerClient) Connect() {
	m.connected = true
}

// Disconnect puts the mock Docker client into the disconnected state.
func (m *MockDockerClient) Disconnect() {
	m.connected = false
}

// Ping pings the docker server.
func (m *MockDockerClient) Ping() error {
	if !m.connected {
		return errors.New("docker client is not connected")
	}
	return nil
}

// BuildImage simulates building of an image.
func (m *MockDockerClient) BuildImage(opts docker.BuildImageOptions) error {
	if err := m.Ping(); err != nil {
		return err
	}
	if m.FailWith != nil {
		return m.FailWith
	}
	m.BuiltImages = append(m.BuiltImages, opts)
	return nil
}

// CreateContainer simulates creation of a container.
func (m *MockDockerClient) CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error) {
	if err := m.Ping(); err != nil {
		return nil, err
	}
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	m.Created = append(m.Created, opts)
	m.nextID++
	return &docker.Container{ID: fmt.Sprintf("container-%d", m.nextID)}, nil
}

// StartContainer simulates starting of a container.
func (m *MockDockerClient) StartContainer(id string, hostConfig *docker.HostConfig) error {
	if err := m.Ping(); err != nil {
		return err
	}
	m.Started = append(m.Started, id)
	return nil
}

// AttachToContainer simulates attaching to a running container.
func (m *MockDockerClient) AttachToContainer(opts docker.AttachToContainerOptions) error {
	if err := m.Ping(); err != nil {
		return err
	}
	m.Attached = append(m.Attached, opts.Container)
	return nil
}

// WaitContainer simulates waiting until a container stops.
func (m *MockDockerClient) WaitContainer(id string) (int, error) {
	if err := m.Ping(); err != nil {
		return 0, err
	}
	return 0, nil
}

// RemoveContainer simulates removal of a container.
func (m *MockDockerClient) RemoveContainer(opts docker.RemoveContainerOptions) error {
	if err := m.Ping(); err != nil {
		return err
	}
	m.Removed = append(m.Removed, opts.ID)
	return nil
}
