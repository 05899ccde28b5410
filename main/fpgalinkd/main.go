// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Fpgalinkd attaches the FPGA link driver and publishes device state
// to redis until SIGINT or SIGTERM.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinasystems/elib/iomux"
	"github.com/platinasystems/fpgalink"
	"github.com/platinasystems/fpgalink/cmd/fpgalinkd"
)

func main() {
	m := fpgalink.Register()
	if err := m.Attach(); err != nil {
		fmt.Fprintln(os.Stderr, "fpgalinkd:", err)
		os.Exit(1)
	}
	go iomux.Wait(false)

	d := &fpgalinkd.Daemon{}

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigch
		for _, dev := range m.Devs() {
			dev.Signal()
		}
		d.Close()
	}()

	err := d.Main(m)
	if derr := m.Detach(); err == nil {
		err = derr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fpgalinkd:", err)
		os.Exit(1)
	}
}
