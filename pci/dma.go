// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pci

// DMA-coherent memory for userspace drivers: a hugepage-backed, locked
// mapping carved up by a heap allocator, with physical addresses
// resolved through /proc/self/pagemap.  Hugepages keep each allocation
// physically contiguous as long as it does not cross a page boundary.

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"github.com/platinasystems/elib"
)

const (
	log2PageSize     = 12
	log2HugePageSize = log2PageSize + 9
	hugePageSize     = 1 << log2HugePageSize
)

type dmaHeap struct {
	once sync.Once
	err  error

	heap elib.MemHeap

	// Base virtual address of the mapping and per-hugepage physical
	// addresses, parallel arrays for virtual-to-bus translation.
	data  uintptr
	pages []uintptr

	free []elib.Index
}

var defaultDmaHeap = &dmaHeap{}

func (h *dmaHeap) init(log2Bytes uint) (err error) {
	n := uintptr(1) << log2Bytes
	var data []byte
	data, err = syscall.Mmap(-1, 0, int(n),
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_SHARED|syscall.MAP_ANONYMOUS|syscall.MAP_HUGETLB|syscall.MAP_LOCKED)
	if err != nil {
		return fmt.Errorf("dma heap mmap: %s", err)
	}
	defer func() {
		if err != nil {
			syscall.Munmap(data)
		}
	}()
	h.data = uintptr(unsafe.Pointer(&data[0]))
	h.heap.InitData(data)

	var f *os.File
	f, err = os.OpenFile("/proc/self/pagemap", os.O_RDONLY, 0)
	if err != nil {
		return
	}
	defer f.Close()

	h.pages = make([]uintptr, n/hugePageSize)
	for i := range h.pages {
		var b [8]byte
		a := h.data + uintptr(i)*hugePageSize
		pfn := int64(a) >> log2PageSize
		if _, err = f.Seek(pfn*8, os.SEEK_SET); err != nil {
			return
		}
		if _, err = f.Read(b[:]); err != nil {
			return
		}
		v := binary.LittleEndian.Uint64(b[:])

		// Bits 0-54 are the physical page number.
		h.pages[i] = uintptr(v&(1<<54-1)) << log2PageSize
	}
	return
}

func (h *dmaHeap) samePage(o, n uint) bool {
	return o>>log2HugePageSize == (o+n-1)>>log2HugePageSize
}

func (h *dmaHeap) alloc(n, log2Align uint) (b []byte, id elib.Index, offset uint) {
	h.free = h.free[:0]
	for {
		b, id, offset, _ = h.heap.GetAligned(n, log2Align)
		// Reject allocations that span hugepage boundaries.
		if h.samePage(offset, n) {
			break
		}
		h.free = append(h.free, id)
	}
	for _, x := range h.free {
		h.heap.Put(x)
	}
	return
}

func (h *dmaHeap) physAddress(a uintptr) uintptr {
	o := a - h.data
	return h.pages[o>>log2HugePageSize] + o&(hugePageSize-1)
}

// DmaHeapInit maps the DMA heap.  The first caller sizes it; later
// calls return the first result.
func DmaHeapInit(log2Bytes uint) error {
	h := defaultDmaHeap
	h.once.Do(func() { h.err = h.init(log2Bytes) })
	return h.err
}

// DmaAlloc returns a physically contiguous, 2^log2Align aligned buffer
// from the DMA heap.
func DmaAlloc(n, log2Align uint) (b []byte, id elib.Index, err error) {
	h := defaultDmaHeap
	if h.data == 0 {
		err = fmt.Errorf("dma heap not initialized")
		return
	}
	b, id, _ = h.alloc(n, log2Align)
	return
}

func DmaFree(id elib.Index) { defaultDmaHeap.heap.Put(id) }

// DmaPhysAddress translates a virtual address inside the DMA heap to
// the bus address a device descriptor needs.
func DmaPhysAddress(a uintptr) uintptr { return defaultDmaHeap.physAddress(a) }

// DmaHeapUsage describes allocator state for diagnostics.
func DmaHeapUsage() string { return defaultDmaHeap.heap.String() }
