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

// Package devenv builds and enters the Docker-based development environment.
package devenv

import (
	"fmt"
	"os"

	"github.com/fsouza/go-dockerclient"
	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
)

const (
	// DefaultImage is the name of the development environment image.
	DefaultImage = "vfioctl-devenv"
	// DefaultDockerfile is the Dockerfile the image is built from.
	DefaultDockerfile = "Dockerfile.devenv"

	containerSrcDir = "/src"
	vfioDevDir      = "/dev/vfio"
)

// DockerClient defines API of a Docker client needed by the dev environment.
// The interface allows to inject mock Docker client in the unit tests.
type DockerClient interface {
	// Ping pings the docker server.
	Ping() error
	// BuildImage builds an image from a Dockerfile.
	BuildImage(opts docker.BuildImageOptions) error
	// CreateContainer creates a new container.
	CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error)
	// StartContainer starts a previously created container.
	StartContainer(id string, hostConfig *docker.HostConfig) error
	// AttachToContainer attaches the given streams to a running container.
	AttachToContainer(opts docker.AttachToContainerOptions) error
	// WaitContainer blocks until the container stops and returns its exit code.
	WaitContainer(id string) (int, error)
	// RemoveContainer removes a container.
	RemoveContainer(opts docker.RemoveContainerOptions) error
}

// Env represents the development environment of the source tree in SrcDir.
type Env struct {
	Image      string
	Dockerfile string
	SrcDir     string

	client DockerClient
	log    logging.Logger
}

// NewEnv connects to the Docker daemon configured by the environment
// and returns the development environment rooted at srcDir.
func NewEnv(srcDir string, log logging.Logger) (*Env, error) {
	client, err := docker.NewClientFromEnv()
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to Docker")
	}
	if err := client.Ping(); err != nil {
		return nil, errors.Wrap(err, "Docker daemon is not responding")
	}
	return NewEnvWithClient(client, srcDir, log), nil
}

// NewEnvWithClient returns the development environment using the given Docker client.
func NewEnvWithClient(client DockerClient, srcDir string, log logging.Logger) *Env {
	return &Env{
		Image:      DefaultImage,
		Dockerfile: DefaultDockerfile,
		SrcDir:     srcDir,
		client:     client,
		log:        log,
	}
}

// Build builds the development environment image from the source tree.
func (e *Env) Build() error {
	e.log.Debugf("Building image %s from %s/%s", e.Image, e.SrcDir, e.Dockerfile)

	err := e.client.BuildImage(docker.BuildImageOptions{
		Name:         e.Image,
		ContextDir:   e.SrcDir,
		Dockerfile:   e.Dockerfile,
		OutputStream: os.Stdout,
	})
	if err != nil {
		return errors.Wrapf(err, "unable to build image %s", e.Image)
	}
	return nil
}

// Shell starts an interactive shell in the development environment container,
// with the source tree bind-mounted and the VFIO device nodes passed through
// when present on the host. It blocks until the shell exits.
func (e *Env) Shell() error {
	hostConfig := &docker.HostConfig{
		Binds: []string{fmt.Sprintf("%s:%s", e.SrcDir, containerSrcDir)},
	}
	if _, err := os.Stat(vfioDevDir); err == nil {
		hostConfig.Devices = []docker.Device{
			{PathOnHost: vfioDevDir, PathInContainer: vfioDevDir, CgroupPermissions: "rwm"},
		}
	}

	container, err := e.client.CreateContainer(docker.CreateContainerOptions{
		Config: &docker.Config{
			Image:        e.Image,
			Cmd:          []string{"bash"},
			WorkingDir:   containerSrcDir,
			Tty:          true,
			OpenStdin:    true,
			StdinOnce:    true,
			AttachStdin:  true,
			AttachStdout: true,
			AttachStderr: true,
		},
		HostConfig: hostConfig,
	})
	if err != nil {
		return errors.Wrap(err, "unable to create the devenv container")
	}
	defer func() {
		err := e.client.RemoveContainer(docker.RemoveContainerOptions{
			ID:    container.ID,
			Force: true,
		})
		if err != nil {
			e.log.Warnf("Error by removing container %s: %v", container.ID, err)
		}
	}()

	err = e.client.StartContainer(container.ID, nil)
	if err != nil {
		return errors.Wrap(err, "unable to start the devenv container")
	}

	err = e.client.AttachToContainer(docker.AttachToContainerOptions{
		Container:    container.ID,
		InputStream:  os.Stdin,
		OutputStream: os.Stdout,
		ErrorStream:  os.Stderr,
		Stdin:        true,
		Stdout:       true,
		Stderr:       true,
		Stream:       true,
		RawTerminal:  true,
	})
	if err != nil {
		return errors.Wrap(err, "unable to attach to the devenv container")
	}

	exitCode, err := e.client.WaitContainer(container.ID)
	if err != nil {
		return errors.Wrap(err, "error by waiting for the devenv container")
	}
	if exitCode != 0 {
		e.log.Debugf("Devenv shell exited with code %d", exitCode)
	}
	return nil
}
