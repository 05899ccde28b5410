// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pci

// Linux sysfs PCI code

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"syscall"
	"unsafe"
)

var sysBusPciPath = "/sys/bus/pci/devices"

func (d *Device) SysfsPath(format string, args ...interface{}) (path string) {
	path = filepath.Join(sysBusPciPath, d.Addr.String(), fmt.Sprintf(format, args...))
	return
}

func (d *Device) SysfsOpenFile(format string, mode int, args ...interface{}) (f *os.File, err error) {
	fn := d.SysfsPath(format, args...)
	f, err = os.OpenFile(fn, mode, 0)
	return
}

func (d *Device) SysfsReadHexFile(format string, args ...interface{}) (v uint, err error) {
	var f *os.File
	f, err = d.SysfsOpenFile(format, os.O_RDONLY, args...)
	if err != nil {
		return
	}
	defer f.Close()
	var n int
	if n, err = fmt.Fscanf(f, "0x%x", &v); n != 1 || err != nil {
		if err == nil {
			err = fmt.Errorf("%s: short scan", d.SysfsPath(format, args...))
		}
		return
	}
	return
}

func (d *Device) configRw(offset, vʹ, nBytes uint, isWrite bool) (v uint, err error) {
	var f *os.File
	f, err = d.SysfsOpenFile("config", os.O_RDWR)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err = f.Seek(int64(offset), os.SEEK_SET); err != nil {
		return
	}
	var b [4]byte
	if isWrite {
		for i := range b {
			b[i] = byte((vʹ >> uint(8*i)) & 0xff)
		}
		_, err = f.Write(b[:nBytes])
		v = vʹ
	} else {
		_, err = f.Read(b[:nBytes])
		if err == nil {
			for i := uint(0); i < nBytes; i++ {
				v |= uint(b[i]) << (8 * i)
			}
		}
	}
	return
}

func (d *Device) ReadConfigUint16(o uint) (v uint16, err error) {
	x, err := d.configRw(o, 0, 2, false)
	v = uint16(x)
	return
}

func (d *Device) WriteConfigUint16(o uint, value uint16) (err error) {
	_, err = d.configRw(o, uint(value), 2, true)
	return
}

func (d *Device) ReadConfigUint8(o uint) (v uint8, err error) {
	x, err := d.configRw(o, 0, 1, false)
	v = uint8(x)
	return
}

// Revision reads the board revision ID from config space.
func (d *Device) Revision() (uint8, error) { return d.ReadConfigUint8(cfgRevision) }

// EnableMaster sets (or clears) memory decode and bus mastering so the
// device may DMA into host memory.
func (d *Device) EnableMaster(enable bool) (err error) {
	var c uint16
	if c, err = d.ReadConfigUint16(cfgCommand); err != nil {
		return
	}
	x := uint16(MemoryEnable | BusMasterEnable)
	if enable {
		c |= x
	} else {
		c &^= x
	}
	return d.WriteConfigUint16(cfgCommand, c)
}

func (d *Device) MapResource(bar uint) (res uintptr, err error) {
	r := &d.Resources[bar]
	var f *os.File
	f, err = d.SysfsOpenFile("resource%d", os.O_RDWR, r.Index)
	if err != nil {
		return
	}
	defer f.Close()
	r.Mem, err = syscall.Mmap(int(f.Fd()), 0, int(r.Size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		err = fmt.Errorf("mmap resource%d: %s", r.Index, err)
		return
	}
	res = uintptr(unsafe.Pointer(&r.Mem[0]))
	return
}

func (d *Device) UnmapResource(bar uint) (err error) {
	r := &d.Resources[bar]
	if r.Mem != nil {
		if err = syscall.Munmap(r.Mem); err != nil {
			return fmt.Errorf("munmap resource%d: %s", bar, err)
		}
		r.Mem = nil
	}
	return
}

// Loop through BARs to find resources.
func (d *Device) findResources() (err error) {
	var f *os.File
	if f, err = d.SysfsOpenFile("resource", os.O_RDONLY); err != nil {
		return
	}
	defer f.Close()

	var b []byte
	if b, err = ioutil.ReadAll(f); err != nil {
		return
	}
	r := bytes.NewReader(b)
	i := 0
	for r.Len() > 0 {
		var (
			v [3]uint64
			n int
		)
		if n, err = fmt.Fscanf(r, "0x%x 0x%x 0x%x\n", &v[0], &v[1], &v[2]); n != 3 || err != nil {
			if n != 3 {
				err = fmt.Errorf("short read")
			}
			return
		}
		size := v[0]
		if v[0] != 0 {
			size = 1 + v[1] - v[0]
		}
		d.Resources = append(d.Resources, Resource{
			Index: uint32(i),
			Base:  v[0],
			Size:  size,
			Flags: v[2],
		})
		i++
	}
	return
}

// DiscoverDevices walks the PCI bus and, for every device a driver has
// been registered for, matches it, binds it to the UIO shim and calls
// the driver's Init.  Matched devices are returned so the caller can
// later CloseDevices them in reverse order.
func DiscoverDevices() (devs []*Device, err error) {
	fis, err := ioutil.ReadDir(sysBusPciPath)
	if perr, ok := err.(*os.PathError); ok && perr.Err == syscall.ENOENT {
		err = nil
		return
	}
	if err != nil {
		return
	}
	for _, fi := range fis {
		d := &Device{}

		n := fi.Name()
		if _, err = fmt.Sscanf(n, "%x:%x:%x.%x", &d.Addr.Domain, &d.Addr.Bus, &d.Addr.Slot, &d.Addr.Fn); err != nil {
			return
		}

		// See if we have a registered driver for this device.
		{
			var v [2]uint
			if v[0], err = d.SysfsReadHexFile("vendor"); err != nil {
				return
			}
			if v[1], err = d.SysfsReadHexFile("device"); err != nil {
				return
			}
			d.ID = DeviceID{Vendor: VendorID(v[0]), Device: VendorDeviceID(v[1])}
			if d.Driver = GetDriver(d.ID); d.Driver == nil {
				continue
			}
		}

		if err = d.findResources(); err != nil {
			return
		}

		if d.DriverDevice, err = d.Driver.DeviceMatch(d); err != nil {
			return
		}
		devs = append(devs, d)
	}

	// Bind matched devices to the UIO shim for interrupt delivery.
	for _, d := range devs {
		if err = d.openIrq(); err != nil {
			return
		}
	}

	// Initialize matched devices.
	for _, d := range devs {
		if err = d.DriverDevice.Init(); err != nil {
			return
		}
	}
	return
}

// CloseDevices tears devices down in reverse discovery order.  Per
// device the interrupt fd goes first so no events arrive while the
// driver's Exit releases its resources.
func CloseDevices(devs []*Device) (err error) {
	for i := len(devs) - 1; i >= 0; i-- {
		d := devs[i]
		if e := d.closeIrq(); e != nil && err == nil {
			err = e
		}
		if d.DriverDevice != nil {
			if e := d.DriverDevice.Exit(); e != nil && err == nil {
				err = e
			}
		}
	}
	return
}
