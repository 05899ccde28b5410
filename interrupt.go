// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpgalink

import (
	"io"
	"sort"

	"github.com/platinasystems/elib"
	"github.com/platinasystems/elib/elog"
)

type stats struct {
	interrupts  uint64
	completions uint64
	spurious    uint64
	frames      uint64
	eintrs      uint64
	starts      uint64
}

// Interrupt credits one completed frame and refills every free slot.
// One call per message signalled event; never blocks.
func (d *Dev) Interrupt() {
	d.mu.Lock()
	d.stats.interrupts++
	r := &d.ring
	if r.n_submitted == 0 {
		// Nothing in flight: not ours.
		d.stats.spurious++
		d.mu.Unlock()
		if elog.Enabled() {
			elog.F("fpgalink spurious interrupt")
		}
		return
	}
	r.n_available++
	r.n_submitted--
	n := NumBufs - r.n_available - r.n_submitted
	i := (r.out_index + r.n_available) & (NumBufs - 1)
	for ; n > 0; n-- {
		d.submit(r.bus_addr(i))
		r.n_submitted++
		i = (i + 1) & (NumBufs - 1)
	}
	d.stats.completions++
	avail := r.n_available
	d.mu.Unlock()

	d.cond.Broadcast()
	if elog.Enabled() {
		elog.F1u("fpgalink completion avail %d", uint64(avail))
	}
}

// Counters is a point in time snapshot of the ring counters and event
// counts.
type Counters struct {
	NumAvailable uint32
	NumSubmitted uint32
	OutIndex     uint32

	Interrupts  uint64
	Completions uint64
	Spurious    uint64
	Frames      uint64
	Eintrs      uint64
	Starts      uint64
}

func (d *Dev) Counters() (c Counters) {
	d.mu.Lock()
	c = Counters{
		NumAvailable: d.ring.n_available,
		NumSubmitted: d.ring.n_submitted,
		OutIndex:     d.ring.out_index,
		Interrupts:   d.stats.interrupts,
		Completions:  d.stats.completions,
		Spurious:     d.stats.spurious,
		Frames:       d.stats.frames,
		Eintrs:       d.stats.eintrs,
		Starts:       d.stats.starts,
	}
	d.mu.Unlock()
	return
}

type eventSummary struct {
	Event string `format:"%-30s"`
	Count uint64 `format:"%16d"`
}
type byEvent []eventSummary

func (a byEvent) Len() int           { return len(a) }
func (a byEvent) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byEvent) Less(i, j int) bool { return a[i].Event < a[j].Event }

// WriteEventSummary tabulates the non zero event counts.
func (d *Dev) WriteEventSummary(w io.Writer) {
	c := d.Counters()
	data := byEvent{}
	add := func(name string, count uint64) {
		if count != 0 {
			data = append(data, eventSummary{Event: name, Count: count})
		}
	}
	add("completions", c.Completions)
	add("frames read", c.Frames)
	add("signal wakes", c.Eintrs)
	add("spurious", c.Spurious)
	add("starts", c.Starts)
	sort.Sort(data)
	data = append(data, eventSummary{Event: "interrupts", Count: c.Interrupts})
	elib.TabulateWrite(w, data)
}
