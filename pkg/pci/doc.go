// Package pci provides API for reading PCI device attributes and for binding
// & unbinding of PCI devices to a specific driver via the sysfs device model.
// PCI addresses in the API need to be specified in the long form, e.g.: 0000:0b:00.0
package pci
