// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpgalink

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/platinasystems/elib/hw"
)

// testDev builds a device over a fake register window and frame pool.
// Completions are injected with complete below.
func testDev() *Dev {
	d := &Dev{name: "test"}
	d.cond = sync.NewCond(&d.mu)
	d.regs = (*regs)(hw.BasePointer)
	d.mmaped_regs = make([]byte, barMinLen)
	d.ring.pool = make([]byte, NumBufs*BufSize)
	d.ring.bus_base = 0x10000000
	return d
}

// complete plays the device: stamp the oldest in flight frame, then
// raise the completion event.
func complete(d *Dev, stamp uint32) {
	d.mu.Lock()
	r := &d.ring
	slot := (r.out_index + r.n_available) & (NumBufs - 1)
	f := r.frame(slot)
	d.mu.Unlock()
	binary.LittleEndian.PutUint32(f[0:4], stamp)
	d.Interrupt()
}

func (d *Dev) last_base() uintptr { return uintptr(d.regs.dma_base.get(d)) }
func (d *Dev) last_count() uint32 { return uint32(d.regs.dma_control.get(d)) }

func checkRing(t *testing.T, d *Dev, available, submitted, out uint32) {
	t.Helper()
	c := d.Counters()
	if c.NumAvailable != available || c.NumSubmitted != submitted || c.OutIndex != out {
		t.Fatalf("ring (%d, %d, %d) != (%d, %d, %d)",
			c.NumAvailable, c.NumSubmitted, c.OutIndex, available, submitted, out)
	}
}

func TestStart(t *testing.T) {
	d := testDev()
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	err := d.ExecCmds([]Cmd{
		{Op: OpWrite, Reg: 2, Val: 0xdeadbeef},
		{Op: OpStart},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v := d.get_reg(2); v != 0xdeadbeef {
		t.Errorf("register 2 0x%x != 0xdeadbeef", v)
	}
	if got := d.last_base(); got != d.ring.bus_addr(0) {
		t.Errorf("base 0x%x != slot 0 bus 0x%x", got, d.ring.bus_addr(0))
	}
	if got := d.last_count(); got != frameTLPs {
		t.Errorf("control %d != %d TLPs", got, frameTLPs)
	}
	checkRing(t, d, 0, 1, 0)

	// First completion credits slot 0 and fans out the other 31.
	complete(d, 0)
	checkRing(t, d, 1, 31, 0)
	if got := d.last_base(); got != d.ring.bus_addr(31) {
		t.Errorf("refill ended at 0x%x, want slot 31 bus 0x%x", got, d.ring.bus_addr(31))
	}
}

func TestReadFrame(t *testing.T) {
	d := testDev()
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	if err := d.ExecCmds([]Cmd{{Op: OpStart}}); err != nil {
		t.Fatal(err)
	}
	complete(d, 7)

	p := make([]byte, BufSize)
	n, err := d.ReadFrame(p)
	if err != nil {
		t.Fatal(err)
	}
	if n != BufSize {
		t.Errorf("read %d != %d", n, BufSize)
	}
	if got := binary.LittleEndian.Uint32(p[0:4]); got != 7 {
		t.Errorf("frame stamp %d != 7", got)
	}
	c := d.Counters()
	if c.OutIndex != 1 {
		t.Errorf("out index %d != 1", c.OutIndex)
	}
	if c.NumAvailable+c.NumSubmitted != NumBufs {
		t.Errorf("available %d + submitted %d != %d", c.NumAvailable, c.NumSubmitted, NumBufs)
	}
	// The read re-armed the slot it consumed.
	if got := d.last_base(); got != d.ring.bus_addr(0) {
		t.Errorf("re-arm base 0x%x != slot 0 bus 0x%x", got, d.ring.bus_addr(0))
	}
	if c.Frames != 1 {
		t.Errorf("frames %d != 1", c.Frames)
	}
}

func TestReadShortBuffer(t *testing.T) {
	d := testDev()
	d.ExecCmds([]Cmd{{Op: OpStart}})
	complete(d, 0)
	before := d.Counters()

	for _, n := range []int{0, 100, BufSize - 1} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			if _, err := d.ReadFrame(make([]byte, n)); err != syscall.EINVAL {
				t.Fatalf("err %v != EINVAL", err)
			}
		})
	}
	after := d.Counters()
	if before != after {
		t.Errorf("ring touched by failed read: %+v != %+v", after, before)
	}
}

func TestSignal(t *testing.T) {
	d := testDev()
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}

	p := make([]byte, BufSize)
	errc := make(chan error, 1)
	go func() {
		_, err := d.ReadFrame(p)
		errc <- err
	}()

	// The reader may not have blocked yet; keep signalling until it
	// reports.
wait:
	for {
		d.Signal()
		select {
		case err := <-errc:
			if err != syscall.EINTR {
				t.Fatalf("err %v != EINTR", err)
			}
			checkRing(t, d, 0, 0, 0)
			break wait
		case <-time.After(time.Millisecond):
		}
	}
	if err := d.ExecCmds([]Cmd{{Op: OpStart}}); err != nil {
		t.Fatal(err)
	}
	complete(d, 0xaa)
	if _, err := d.ReadFrame(p); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(p[0:4]); got != 0xaa {
		t.Errorf("frame stamp 0x%x != 0xaa", got)
	}
}

func TestDetachWakesReader(t *testing.T) {
	d := testDev()
	errc := make(chan error, 1)
	go func() {
		_, err := d.ReadFrame(make([]byte, BufSize))
		errc <- err
	}()

	for {
		d.mu.Lock()
		d.dead = true
		d.mu.Unlock()
		d.cond.Broadcast()
		select {
		case err := <-errc:
			if err != syscall.ENODEV {
				t.Fatalf("err %v != ENODEV", err)
			}
			return
		case <-time.After(time.Millisecond):
		}
	}
}

func TestCmdsAfterDetach(t *testing.T) {
	d := testDev()
	d.mu.Lock()
	d.dead = true
	d.mu.Unlock()
	if err := d.ExecCmds([]Cmd{{Op: OpRead, Reg: 2}}); err != syscall.ENODEV {
		t.Fatalf("err %v != ENODEV", err)
	}
}

func TestDetachForgetsDevs(t *testing.T) {
	m := &Main{devs: []*Dev{testDev()}}
	if err := m.Detach(); err != nil {
		t.Fatal(err)
	}
	if n := len(m.Devs()); n != 0 {
		t.Fatalf("%d devs still visible after detach", n)
	}
}

func TestOpenBusy(t *testing.T) {
	d := testDev()
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	if err := d.Open(); err != syscall.EBUSY {
		t.Fatalf("second open: err %v != EBUSY", err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestOpenResetsRing(t *testing.T) {
	d := testDev()
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	d.ExecCmds([]Cmd{{Op: OpStart}})
	complete(d, 0)
	complete(d, 1)
	if c := d.Counters(); c.NumAvailable == 0 {
		t.Fatal("no frames available after completions")
	}
	d.Close()
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	checkRing(t, d, 0, 0, 0)
}

func TestStartWhileFramesAvailable(t *testing.T) {
	d := testDev()
	d.ExecCmds([]Cmd{{Op: OpStart}})
	complete(d, 0)
	complete(d, 1)
	complete(d, 2)
	p := make([]byte, BufSize)
	if _, err := d.ReadFrame(p); err != nil {
		t.Fatal(err)
	}
	if c := d.Counters(); c.OutIndex != 1 {
		t.Fatalf("out index %d != 1", c.OutIndex)
	}

	// Restart zeroes the ring and submits slot 0 again.
	if err := d.ExecCmds([]Cmd{{Op: OpStart}}); err != nil {
		t.Fatal(err)
	}
	checkRing(t, d, 0, 1, 0)
	if got := d.last_base(); got != d.ring.bus_addr(0) {
		t.Errorf("restart base 0x%x != slot 0 bus 0x%x", got, d.ring.bus_addr(0))
	}
}

// Frames flow to the reader exactly once and in completion order, and
// the counters never leave their bounds.
func TestConcurrentReadAndComplete(t *testing.T) {
	d := testDev()
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	if err := d.ExecCmds([]Cmd{{Op: OpStart}}); err != nil {
		t.Fatal(err)
	}

	const frames = 500
	go func() {
		for i := uint32(0); i < frames; i++ {
			for d.Counters().NumSubmitted == 0 {
				runtime.Gosched()
			}
			complete(d, i)
		}
	}()

	p := make([]byte, BufSize)
	for i := uint32(0); i < frames; i++ {
		if _, err := d.ReadFrame(p); err != nil {
			t.Fatal(err)
		}
		if got := binary.LittleEndian.Uint32(p[0:4]); got != i {
			t.Fatalf("frame %d: stamp %d", i, got)
		}
		c := d.Counters()
		if c.NumAvailable+c.NumSubmitted > NumBufs {
			t.Fatalf("overcommitted ring: %d + %d > %d", c.NumAvailable, c.NumSubmitted, NumBufs)
		}
		if c.OutIndex >= NumBufs {
			t.Fatalf("out index %d out of range", c.OutIndex)
		}
	}
	if c := d.Counters(); c.Frames != frames {
		t.Errorf("frames %d != %d", c.Frames, frames)
	}
}
