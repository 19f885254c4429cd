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

// Package nic resolves network interfaces to their PCI devices.
package nic

import (
	"github.com/pkg/errors"
	"github.com/safchain/ethtool"
	"github.com/vishvananda/netlink"
)

// Info describes the PCI device behind a network interface.
type Info struct {
	Name       string
	PCIAddress string
	Driver     string
}

// Resolve returns the PCI address and driver of the given network interface.
func Resolve(ifName string) (*Info, error) {
	ethTool, err := ethtool.NewEthtool()
	if err != nil {
		return nil, errors.Wrap(err, "unable to init ethtool")
	}
	defer ethTool.Close()

	info := &Info{Name: ifName}

	// retrieve PCI address and current driver name
	info.PCIAddress, err = ethTool.BusInfo(ifName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to retrieve interface %s bus info", ifName)
	}
	info.Driver, err = ethTool.DriverName(ifName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to retrieve interface %s driver name", ifName)
	}

	return info, nil
}

// LinkDown shuts the interface down. An interface rebound to the passthrough
// driver disappears from the network stack, so it must not be left up with
// addresses and routes still attached to it.
func LinkDown(ifName string) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return errors.Wrapf(err, "unable to look up interface %s", ifName)
	}
	err = netlink.LinkSetDown(link)
	if err != nil {
		return errors.Wrapf(err, "unable to shut down interface %s", ifName)
	}
	return nil
}
