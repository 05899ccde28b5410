// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// PCI device discovery and binding for userspace drivers.
package pci

import (
	"fmt"
	"sync"

	"github.com/platinasystems/elib/iomux"
)

// Device/vendor ID from PCI config space.
type VendorID uint16
type VendorDeviceID uint16

func (v VendorID) String() string       { return fmt.Sprintf("0x%04x", uint16(v)) }
func (d VendorDeviceID) String() string { return fmt.Sprintf("0x%04x", uint16(d)) }

// Vendor/Device pair
type DeviceID struct {
	Vendor VendorID
	Device VendorDeviceID
}

func (i DeviceID) String() string { return fmt.Sprintf("%04x:%04x", uint16(i.Vendor), uint16(i.Device)) }

// Config space command register bits.
type Command uint16

const (
	IOEnable Command = 1 << iota
	MemoryEnable
	BusMasterEnable
	SpecialCycles
	WriteInvalidate
	VgaPaletteSnoop
	Parity
	AddressDataStepping
	SERR
	BackToBackWrite
	INTxEmulationDisable
)

// Standard config space offsets.
const (
	cfgCommand  = 0x04
	cfgRevision = 0x08
)

type BusAddress struct {
	Domain        uint16
	Bus, Slot, Fn uint8
}

func (a BusAddress) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%01x", a.Domain, a.Bus, a.Slot, a.Fn)
}

type Resource struct {
	Index      uint32 // index of BAR
	Base, Size uint64
	Flags      uint64
	Mem        []byte
}

func (r Resource) String() string {
	return fmt.Sprintf("{%d: 0x%x-0x%x}", r.Index, r.Base, r.Base+r.Size-1)
}

type Device struct {
	Addr      BusAddress
	ID        DeviceID
	Resources []Resource

	Driver
	DriverDevice

	irq uioIrq
}

func (d *Device) String() string { return d.Addr.String() }

// Things a driver must do.
type Driver interface {
	// Device matches registered devices for this driver.
	DeviceMatch(d *Device) (i DriverDevice, err error)
}

type DriverDevice interface {
	Init() error
	// One call per device interrupt event.
	Interrupt()
	Exit() error
}

var (
	driversMutex sync.Mutex
	drivers      = make(map[DeviceID]Driver)
)

func setDriver(v Driver, id DeviceID) (err error) {
	driversMutex.Lock()
	defer driversMutex.Unlock()
	if _, exists := drivers[id]; exists {
		err = fmt.Errorf("duplicate registration for device: %v", id)
	} else {
		drivers[id] = v
	}
	return
}

// SetDriver gives a driver for a given list of devices (vendor, device pairs).
func SetDriver(v Driver, args ...interface{}) (err error) {
	var id DeviceID
	for _, a := range args {
		switch b := a.(type) {
		case VendorID:
			id.Vendor = b
		case VendorDeviceID:
			id.Device = b
			err = setDriver(v, id)
		case DeviceID:
			err = setDriver(v, b)
		case []DeviceID:
			for i := range b {
				if err = setDriver(v, b[i]); err != nil {
					return
				}
			}
		case []VendorDeviceID:
			for i := range b {
				if err = setDriver(v, DeviceID{Vendor: id.Vendor, Device: b[i]}); err != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
	return
}

func GetDriver(i DeviceID) Driver {
	driversMutex.Lock()
	defer driversMutex.Unlock()
	return drivers[i]
}

// UIO interrupt event source for a bound device.
type uioIrq struct {
	iomux.File

	dev *Device

	minor uint32

	// Cumulative event count as of the last read; /dev/uioN reads
	// return a running total, not a delta.
	lastCount uint32
}
