// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpgalink

import (
	"unsafe"

	"github.com/platinasystems/elib/hw"
)

type reg hw.U32

func (d *Dev) addr_for_offset(offset uint) uintptr {
	return uintptr(unsafe.Pointer(&d.mmaped_regs[offset]))
}

func (r *reg) offset() uint        { return uint(uintptr(unsafe.Pointer(r)) - hw.BaseAddress) }
func (r *reg) addr(d *Dev) uintptr { return d.addr_for_offset(r.offset()) }
func (r *reg) get(d *Dev) reg      { return reg(hw.LoadUint32(r.addr(d))) }
func (r *reg) set(d *Dev, v reg)   { hw.StoreUint32(r.addr(d), uint32(v)) }

// BAR0 exposes 32 bit registers on a stride of two words: register i
// lives at word offset 1+2i.  Registers 0 and 1 are the DMA pair; the
// application's registers follow at the same stride.
type regs struct {
	_ reg

	// Bus address of the frame the engine fills next.
	dma_base reg

	_ reg

	// Number of 128 byte TLPs to stream into dma_base.  Writing
	// this register triggers the transfer.
	dma_control reg
}

// Validate memory map.
func init() {
	r := (*regs)(hw.BasePointer)
	hw.CheckRegAddr("dma_base", r.dma_base.offset(), 0x4)
	hw.CheckRegAddr("dma_control", r.dma_control.offset(), 0xc)
}

func reg_byte_offset(i uint32) uint { return 4 * (1 + 2*uint(i)) }

func (d *Dev) valid_reg(i uint32) bool {
	return reg_byte_offset(i)+4 <= uint(len(d.mmaped_regs))
}

func (d *Dev) get_reg(i uint32) uint32    { return hw.LoadUint32(d.addr_for_offset(reg_byte_offset(i))) }
func (d *Dev) set_reg(i uint32, v uint32) { hw.StoreUint32(d.addr_for_offset(reg_byte_offset(i)), v) }

// submit hands one frame to the engine: the frame's bus address, then
// the TLP count write that triggers the transfer.  Fire and forget;
// the ring counters belong to the callers.
func (d *Dev) submit(busAddr uintptr) {
	d.regs.dma_base.set(d, reg(busAddr))
	hw.MemoryBarrier()
	d.regs.dma_control.set(d, frameTLPs)
}
