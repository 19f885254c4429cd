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

// Vfioctl prepares host PCI devices for passthrough to a userspace VMM.
//
// It loads the VFIO kernel modules, unbinds a device from its current kernel
// driver and binds it to the vfio-pci driver using the driver override
// mechanism of the kernel. It can also restore a device back to its kernel
// driver, report the binding state of a device, and build & enter the
// Docker-based development environment of the project.
package main
