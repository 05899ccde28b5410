// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pci

// Interrupt delivery via the uio_pci_dma kernel shim.  Binding a device
// creates /dev/uioN; each 4-byte read of that file returns the
// cumulative interrupt event count.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"syscall"

	"github.com/platinasystems/elib/iomux"
)

var uioDriverPath = "/sys/bus/pci/drivers/uio_pci_dma"

func sysfsWrite(path, format string, args ...interface{}) error {
	fn := uioDriverPath + "/" + path
	f, err := os.OpenFile(fn, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, format, args...)
	return err
}

func (d *Device) bind() (err error) {
	err = sysfsWrite("new_id", "%04x %04x", int(d.ID.Vendor), int(d.ID.Device))
	if err != nil {
		return
	}

	err = sysfsWrite("bind", "%s", &d.Addr)
	if err != nil {
		return
	}

	var fis []os.FileInfo
	fis, err = ioutil.ReadDir(d.SysfsPath("uio"))
	if err != nil {
		return
	}

	ok := false
	for _, fi := range fis {
		if _, err = fmt.Sscanf(fi.Name(), "uio%d", &d.irq.minor); err == nil {
			ok = true
			break
		}
	}
	if !ok {
		err = fmt.Errorf("%s: failed to get minor number for uio device", &d.Addr)
	}
	return
}

func (d *Device) unbind() (err error) {
	if err = sysfsWrite("unbind", "%s", &d.Addr); err != nil {
		return
	}
	return sysfsWrite("remove_id", "%04x %04x", int(d.ID.Vendor), int(d.ID.Device))
}

func (d *Device) openIrq() (err error) {
	if err = d.bind(); err != nil {
		return
	}

	uioPath := fmt.Sprintf("/dev/uio%d", d.irq.minor)
	d.irq.File.Fd, err = syscall.Open(uioPath, syscall.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %s", uioPath, err)
	}
	d.irq.dev = d
	d.irq.lastCount = 0

	// Listen for interrupts.
	iomux.Add(&d.irq)
	return
}

func (d *Device) closeIrq() (err error) {
	if d.irq.dev == nil {
		return
	}
	iomux.Del(&d.irq)
	err = syscall.Close(d.irq.File.Fd)
	d.irq.dev = nil
	if e := d.unbind(); e != nil && err == nil {
		err = e
	}
	return
}

var errShouldNeverHappen = errors.New("should never happen")

func (q *uioIrq) ErrorReady() error    { return errShouldNeverHappen }
func (q *uioIrq) WriteReady() error    { return errShouldNeverHappen }
func (q *uioIrq) WriteAvailable() bool { return false }
func (q *uioIrq) String() string       { return "pci " + q.dev.Addr.String() }

// UIO file is ready when one or more interrupts have occurred.  The
// read returns a running event total; deliver one Interrupt per new
// event so coalesced wakeups still credit every completion.
func (q *uioIrq) ReadReady() (err error) {
	var b [4]byte
	if _, err = syscall.Read(q.File.Fd, b[:]); err != nil {
		return
	}
	count := binary.LittleEndian.Uint32(b[:])
	for n := count - q.lastCount; n > 0; n-- {
		q.dev.DriverDevice.Interrupt()
	}
	q.lastCount = count
	return
}
