// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Fpgactl drives an FPGA link device from the command line.
//
//	fpgactl                      show device and event counters
//	fpgactl poke REG VAL         write VAL to application register REG
//	fpgactl peek REG             read application register REG
//	fpgactl -start               reset the ring and arm the stream
//	fpgactl -read N [-out FILE]  arm the stream and copy N frames to
//	                             FILE (default stdout)
//
// Verbs combine into one batch: pokes and peeks run first, then the
// start, then the frame copy.  REG and VAL accept 0x prefixes.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/platinasystems/elib/iomux"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/fpgalink"
	"github.com/platinasystems/parms"
)

func main() {
	if err := fpgactl(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "fpgactl:", err)
		os.Exit(1)
	}
}

func fpgactl(args []string) error {
	flag, args := flags.New(args, "-start")
	parm, args := parms.New(args, "-read", "-out")

	cmds, err := parseVerbs(args)
	if err != nil {
		return err
	}

	m := fpgalink.Register()
	if err = m.Attach(); err != nil {
		return err
	}
	defer m.Detach()
	go iomux.Wait(false)

	d := m.Devs()[0]
	if err = d.Open(); err != nil {
		return err
	}
	defer d.Close()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigch
		d.Signal()
	}()

	if len(cmds) == 0 && !flag.ByName["-start"] && parm.ByName["-read"] == "" {
		fmt.Printf("%s rev 0x%02x\n", d, d.Revision())
		d.WriteEventSummary(os.Stdout)
		return nil
	}

	if flag.ByName["-start"] || parm.ByName["-read"] != "" {
		cmds = append(cmds, fpgalink.Cmd{Op: fpgalink.OpStart})
	}
	if err = d.ExecCmds(cmds); err != nil {
		return err
	}
	for _, c := range cmds {
		if c.Op == fpgalink.OpRead {
			fmt.Printf("reg %d: 0x%08x\n", c.Reg, c.Val)
		}
	}

	if s := parm.ByName["-read"]; s != "" {
		var n uint64
		if n, err = strconv.ParseUint(s, 0, 32); err != nil {
			return fmt.Errorf("-read: %v", err)
		}
		w := io.Writer(os.Stdout)
		if name := parm.ByName["-out"]; name != "" {
			var f *os.File
			if f, err = os.Create(name); err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		buf := make([]byte, fpgalink.BufSize)
		for i := uint64(0); i < n; i++ {
			if _, err = d.ReadFrame(buf); err != nil {
				return err
			}
			if _, err = w.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseVerbs(args []string) (cmds []fpgalink.Cmd, err error) {
	for i := 0; i < len(args); {
		switch args[i] {
		case "peek":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("peek: REG: missing")
			}
			var reg uint32
			if reg, err = parseUint32(args[i+1]); err != nil {
				return nil, fmt.Errorf("peek: %v", err)
			}
			cmds = append(cmds, fpgalink.Cmd{
				Op:  fpgalink.OpRead,
				Reg: reg,
			})
			i += 2
		case "poke":
			if i+2 >= len(args) {
				return nil, fmt.Errorf("poke: REG VAL: missing")
			}
			var reg, val uint32
			if reg, err = parseUint32(args[i+1]); err != nil {
				return nil, fmt.Errorf("poke: %v", err)
			}
			if val, err = parseUint32(args[i+2]); err != nil {
				return nil, fmt.Errorf("poke: %v", err)
			}
			cmds = append(cmds, fpgalink.Cmd{
				Op:  fpgalink.OpWrite,
				Reg: reg,
				Val: val,
			})
			i += 3
		default:
			return nil, fmt.Errorf("%s: unexpected", args[i])
		}
	}
	return
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}
