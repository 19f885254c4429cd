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

package main

import (
	"fmt"
	"os"

	"github.com/ligato/cn-infra/logging"
	"github.com/spf13/cobra"

	"github.com/vfiotools/vfioctl/pkg/config"
	"github.com/vfiotools/vfioctl/pkg/devenv"
	"github.com/vfiotools/vfioctl/pkg/kmod"
	"github.com/vfiotools/vfioctl/pkg/nic"
	"github.com/vfiotools/vfioctl/pkg/pci"
	"github.com/vfiotools/vfioctl/pkg/vfio"
)

var (
	configFile string
	ifaceName  string
	debug      bool
)

var cmdRebind = &cobra.Command{
	Use:   "rebind <PCI address>",
	Short: "Rebind a PCI device to the vfio-pci passthrough driver",
	Args:  deviceArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pciAddr, err := resolveAddress(args)
		if err != nil {
			return err
		}
		if ifaceName != "" {
			// rebinding a NIC, shut the link down first
			if err := nic.LinkDown(ifaceName); err != nil {
				return err
			}
		}
		return newManager(cfg).Rebind(pciAddr)
	},
}

var cmdRelease = &cobra.Command{
	Use:   "release <PCI address>",
	Short: "Release a PCI device from the passthrough driver back to its kernel driver",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pciAddr, err := pci.ParseAddress(args[0])
		if err != nil {
			return err
		}
		return newManager(cfg).Release(pciAddr)
	},
}

var cmdStatus = &cobra.Command{
	Use:   "status <PCI address>",
	Short: "Show the binding state of a PCI device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pciAddr, err := pci.ParseAddress(args[0])
		if err != nil {
			return err
		}
		status, err := newManager(cfg).Status(pciAddr)
		if err != nil {
			return err
		}
		driver := status.Driver
		if driver == "" {
			driver = "(none)"
		}
		override := status.DriverOverride
		if override == "" {
			override = "(none)"
		}
		fmt.Printf("device:          %s [%s:%s]\n", status.Address, status.Vendor, status.Device)
		fmt.Printf("driver:          %s\n", driver)
		fmt.Printf("driver_override: %s\n", override)
		fmt.Printf("iommu group:     %s\n", status.IOMMUGroup)
		return nil
	},
}

var cmdDevenv = &cobra.Command{
	Use:   "devenv",
	Short: "Manage the Docker-based development environment",
}

var cmdDevenvBuild = &cobra.Command{
	Use:   "build",
	Short: "Build the development environment image",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newDevEnv()
		if err != nil {
			return err
		}
		return env.Build()
	},
}

var cmdDevenvShell = &cobra.Command{
	Use:   "shell",
	Short: "Open an interactive shell in the development environment container",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newDevEnv()
		if err != nil {
			return err
		}
		return env.Shell()
	},
}

// deviceArgs accepts either exactly one PCI address, or no positional
// arguments when the device is selected by interface name.
func deviceArgs(cmd *cobra.Command, args []string) error {
	if ifaceName != "" {
		if len(args) != 0 {
			return fmt.Errorf("either a PCI address or an interface name can be given, not both")
		}
		return nil
	}
	return cobra.ExactArgs(1)(cmd, args)
}

// resolveAddress returns the PCI address of the device to operate on.
func resolveAddress(args []string) (string, error) {
	if ifaceName != "" {
		info, err := nic.Resolve(ifaceName)
		if err != nil {
			return "", err
		}
		logger.Debugf("Interface %s: PCI address %s, driver %s", ifaceName, info.PCIAddress, info.Driver)
		return pci.ParseAddress(info.PCIAddress)
	}
	return pci.ParseAddress(args[0])
}

func loadConfig() (*config.Config, error) {
	if debug {
		logger.SetLevel(logging.DebugLevel)
	}
	if configFile == "" {
		return config.Default(), nil
	}
	return config.Load(configFile)
}

func newManager(cfg *config.Config) *vfio.Manager {
	return vfio.NewManager(
		pci.NewHandler(cfg.SysBusPath, logger),
		kmod.NewLoader(logger),
		logger,
		vfio.UseDriver(cfg.PassthroughDriver),
		vfio.UseModules(cfg.Modules),
	)
}

func newDevEnv() (*devenv.Env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	srcDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	env, err := devenv.NewEnv(srcDir, logger)
	if err != nil {
		return nil, err
	}
	env.Image = cfg.DevEnv.Image
	env.Dockerfile = cfg.DevEnv.Dockerfile
	return env, nil
}

// Execute runs the vfioctl command tree.
func Execute() {
	var rootCmd = &cobra.Command{
		Use:           "vfioctl",
		Short:         "vfioctl prepares host PCI devices for passthrough to a userspace VMM",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "location of the vfioctl config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logs")
	cmdRebind.Flags().StringVarP(&ifaceName, "interface", "i", "", "select the device by network interface name")

	cmdDevenv.AddCommand(cmdDevenvBuild)
	cmdDevenv.AddCommand(cmdDevenvShell)

	rootCmd.AddCommand(cmdRebind)
	rootCmd.AddCommand(cmdRelease)
	rootCmd.AddCommand(cmdStatus)
	rootCmd.AddCommand(cmdDevenv)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
