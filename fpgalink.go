// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fpgalink drives a PCIe streaming FPGA.  The device DMAs
// fixed size frames into a ring of host buffers and raises one
// message signalled interrupt per completed frame; userspace consumes
// whole frames in completion order.
package fpgalink

import (
	"fmt"
	"sync"
	"syscall"

	"github.com/platinasystems/elib/hw"
	"github.com/platinasystems/fpgalink/pci"
	"github.com/platinasystems/log"
)

const (
	// Ring geometry.  NumBufs must be a power of two and BufSize a
	// whole number of TLPs.
	NumBufs     = 1 << log2NumBufs
	BufSize     = 1 << log2BufSize
	log2NumBufs = 5
	log2BufSize = 12

	tlpBytes  = 128
	frameTLPs = BufSize / tlpBytes

	// One hugepage backs the frame pool.
	log2DmaHeapBytes = 21
)

// BAR0 must expose at least the DMA register pair plus a useful
// number of application registers.
const barMinLen = 256

type Dev struct {
	m      *Main
	pciDev *pci.Device

	regs        *regs
	mmaped_regs []byte

	name     string
	revision uint8

	mu   sync.Mutex
	cond *sync.Cond

	ring ring

	is_open bool
	dead    bool

	// Bumped by Signal; blocked readers snapshot it to detect
	// interruption.
	wake_gen uint64

	stats stats
}

type Main struct {
	devs    []*Dev
	pciDevs []*pci.Device
}

var dev_id_names = map[pci.DeviceID]string{
	{Vendor: 0x1172, Device: 0xe001}: "Altera dev board",
	{Vendor: 0x2071, Device: 0x2071}: "tester board",
}

func (d *Dev) bar0() []byte    { return d.pciDev.Resources[0].Mem }
func (d *Dev) String() string  { return d.name + " " + d.pciDev.Addr.String() }
func (d *Dev) Name() string    { return d.name }
func (d *Dev) Revision() uint8 { return d.revision }

// Register wires the driver into the PCI registry.  Call once per
// process, before pci.DiscoverDevices.
func Register() *Main {
	m := &Main{}
	ids := make([]pci.DeviceID, 0, len(dev_id_names))
	for id := range dev_id_names {
		ids = append(ids, id)
	}
	if err := pci.SetDriver(m, ids); err != nil {
		panic(err)
	}
	return m
}

// Attach discovers and takes every supported board on the bus.
func (m *Main) Attach() (err error) {
	m.pciDevs, err = pci.DiscoverDevices()
	if err != nil {
		m.release()
		return
	}
	if len(m.devs) == 0 {
		err = fmt.Errorf("fpgalink: no supported device found")
	}
	return
}

// Detach releases every attached board in reverse order.  Blocked
// readers wake with ENODEV.
func (m *Main) Detach() error { return m.release() }

// release closes every device and forgets them all.  A failed Attach
// unwinds through the same path, so Devs never shows a dead device.
func (m *Main) release() error {
	err := pci.CloseDevices(m.pciDevs)
	m.pciDevs = nil
	m.devs = nil
	return err
}

// Devs returns the attached devices in discovery order.
func (m *Main) Devs() []*Dev { return m.devs }

func (m *Main) DeviceMatch(pdev *pci.Device) (dd pci.DriverDevice, err error) {
	if BufSize%tlpBytes != 0 {
		err = fmt.Errorf("frame size %d is not a whole number of %d byte TLPs", BufSize, tlpBytes)
		return
	}

	d := &Dev{m: m, pciDev: pdev}
	d.cond = sync.NewCond(&d.mu)
	d.name = dev_id_names[pdev.ID]
	if d.name == "" {
		d.name = pdev.ID.String()
	}

	for _, r := range pdev.Resources {
		if r.Size != 0 {
			log.Printf("debug: %s: BAR%d 0x%08x-0x%08x flags 0x%08x",
				pdev.Addr.String(), r.Index, r.Base, r.Base+r.Size-1, r.Flags)
		}
	}
	if len(pdev.Resources) == 0 || pdev.Resources[0].Size < barMinLen {
		err = fmt.Errorf("%s: BAR0 absent or shorter than %d bytes", pdev.Addr.String(), barMinLen)
		return
	}
	if _, err = pdev.MapResource(0); err != nil {
		return
	}
	// Can't directly use the mmapped window because of the
	// compiler's read probes/nil checks.
	d.regs = (*regs)(hw.BasePointer)
	d.mmaped_regs = d.bar0()

	m.devs = append(m.devs, d)
	return d, nil
}

// Init acquires the device's runtime resources.  Any failure unwinds
// the earlier steps in reverse order.
func (d *Dev) Init() (err error) {
	if err = pci.DmaHeapInit(log2DmaHeapBytes); err != nil {
		return
	}
	if err = d.ring.alloc_pool(); err != nil {
		return
	}
	log.Printf("debug: %s: DMA frame pool virt %p bus 0x%x, heap %s",
		d, &d.ring.pool[0], d.ring.bus_base, pci.DmaHeapUsage())

	if err = d.pciDev.EnableMaster(true); err != nil {
		d.ring.free_pool()
		return
	}
	if d.revision, err = d.pciDev.Revision(); err != nil {
		d.pciDev.EnableMaster(false)
		d.ring.free_pool()
		return
	}

	d.mu.Lock()
	d.ring.reset()
	d.mu.Unlock()

	log.Print("notice: ", d.String(), " rev ", d.revision, " attached")
	return
}

// Exit releases the device.  The interrupt fd is already gone by the
// time this runs, so no new credits can race the teardown.
func (d *Dev) Exit() (err error) {
	d.mu.Lock()
	d.dead = true
	d.mu.Unlock()
	d.cond.Broadcast()

	err = d.pciDev.EnableMaster(false)

	d.mu.Lock()
	d.ring.free_pool()
	d.mu.Unlock()

	if e := d.pciDev.UnmapResource(0); e != nil && err == nil {
		err = e
	}
	log.Print("notice: ", d.String(), " detached")
	return
}

// Open claims the single reader session and zeroes the ring counters.
// A second Open before Close fails with EBUSY.
func (d *Dev) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dead {
		return syscall.ENODEV
	}
	if d.is_open {
		return syscall.EBUSY
	}
	d.is_open = true
	d.ring.reset()
	return nil
}

// Close releases the reader session.
func (d *Dev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.is_open = false
	return nil
}

// Signal interrupts a blocked ReadFrame, which returns EINTR without
// touching the ring.
func (d *Dev) Signal() {
	d.mu.Lock()
	d.wake_gen++
	d.mu.Unlock()
	d.cond.Broadcast()
}
