// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpgalink

import (
	"syscall"

	"github.com/platinasystems/elib/elog"
)

// ReadFrame blocks until a completed frame is available, copies it
// into p and re-arms the slot.  p must hold a whole frame; a shorter
// p fails with EINVAL.  The wait ends early with EINTR after Signal
// and with ENODEV once the device detaches; neither touches the ring.
func (d *Dev) ReadFrame(p []byte) (int, error) {
	if len(p) < BufSize {
		return 0, syscall.EINVAL
	}

	d.mu.Lock()
	gen := d.wake_gen
	for {
		if d.dead {
			d.mu.Unlock()
			return 0, syscall.ENODEV
		}
		if d.ring.n_available > 0 {
			break
		}
		if d.wake_gen != gen {
			d.stats.eintrs++
			d.mu.Unlock()
			return 0, syscall.EINTR
		}
		d.cond.Wait()
	}
	out := d.ring.out_index
	f := d.ring.frame(out)
	d.mu.Unlock()

	// Copy before re-arming; a submit first would race the device
	// into p.
	copy(p, f)

	d.mu.Lock()
	if d.dead {
		d.mu.Unlock()
		return 0, syscall.ENODEV
	}
	r := &d.ring
	d.submit(r.bus_addr(r.out_index))
	r.n_submitted++
	r.out_index = (r.out_index + 1) & (NumBufs - 1)
	r.n_available--
	d.stats.frames++
	avail := r.n_available
	d.mu.Unlock()

	if elog.Enabled() {
		elog.F2u("fpgalink read frame %d avail %d", uint64(out), uint64(avail))
	}
	return BufSize, nil
}
