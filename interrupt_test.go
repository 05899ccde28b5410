// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpgalink

import (
	"strings"
	"testing"
)

// A completion with nothing in flight is not ours: count it and leave
// the ring alone.
func TestSpuriousInterrupt(t *testing.T) {
	d := testDev()
	d.Interrupt()
	c := d.Counters()
	if c.Spurious != 1 {
		t.Errorf("spurious %d != 1", c.Spurious)
	}
	if c.Interrupts != 1 {
		t.Errorf("interrupts %d != 1", c.Interrupts)
	}
	if c.Completions != 0 {
		t.Errorf("completions %d != 0", c.Completions)
	}
	checkRing(t, d, 0, 0, 0)
	if got := d.last_count(); got != 0 {
		t.Errorf("control register written (%d) by spurious event", got)
	}
}

// Every interrupt after the first refill leaves the device saturated.
func TestSaturationInvariant(t *testing.T) {
	d := testDev()
	d.ExecCmds([]Cmd{{Op: OpStart}})
	for i := 0; i < 8; i++ {
		complete(d, uint32(i))
		c := d.Counters()
		if c.NumAvailable+c.NumSubmitted != NumBufs {
			t.Fatalf("after completion %d: available %d + submitted %d != %d",
				i, c.NumAvailable, c.NumSubmitted, NumBufs)
		}
	}
	if c := d.Counters(); c.NumAvailable != 8 {
		t.Errorf("available %d != 8", c.NumAvailable)
	}
}

func TestEventSummary(t *testing.T) {
	d := testDev()
	d.ExecCmds([]Cmd{{Op: OpStart}})
	complete(d, 0)
	p := make([]byte, BufSize)
	if _, err := d.ReadFrame(p); err != nil {
		t.Fatal(err)
	}

	w := new(strings.Builder)
	d.WriteEventSummary(w)
	out := w.String()
	for _, want := range []string{"interrupts", "completions", "frames read", "starts"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
