// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpgalink

import (
	"fmt"
	"unsafe"

	"github.com/platinasystems/elib"
	"github.com/platinasystems/fpgalink/pci"
)

// The three counters partition the pool: frames
// [out_index, out_index+n_available) hold completed data waiting for
// a reader, the n_submitted frames after those belong to the device,
// and the rest are free.
type ring struct {
	pool    []byte
	pool_id elib.Index

	// Bus address of pool[0]; frame i is at bus_base + i*BufSize.
	bus_base uintptr

	n_available uint32
	n_submitted uint32
	out_index   uint32
}

func (r *ring) frame(i uint32) []byte {
	o := int(i) * BufSize
	return r.pool[o : o+BufSize]
}

func (r *ring) bus_addr(i uint32) uintptr { return r.bus_base + uintptr(i)*BufSize }

func (r *ring) reset() {
	r.n_available = 0
	r.n_submitted = 0
	r.out_index = 0
}

func (r *ring) alloc_pool() (err error) {
	b, id, err := pci.DmaAlloc(NumBufs*BufSize, log2BufSize)
	if err != nil {
		return
	}
	r.pool, r.pool_id = b, id
	r.bus_base = pci.DmaPhysAddress(uintptr(unsafe.Pointer(&b[0])))
	if r.bus_base%tlpBytes != 0 {
		panic(fmt.Errorf("fpgalink: frame pool bus address 0x%x not %d byte aligned", r.bus_base, tlpBytes))
	}
	return
}

func (r *ring) free_pool() {
	if r.pool != nil {
		pci.DmaFree(r.pool_id)
		r.pool = nil
		r.bus_base = 0
	}
}

// start primes the pipeline: counters reset, slot 0 submitted.  The
// first completion's refill fans the remaining slots out.  Callers
// hold d.mu so a concurrent completion cannot interleave.
func (d *Dev) start() {
	r := &d.ring
	r.n_available = 0
	r.out_index = 0
	r.n_submitted = 1
	d.submit(r.bus_addr(0))
	d.stats.starts++
}
