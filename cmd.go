// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpgalink

import (
	"syscall"

	"github.com/platinasystems/elib/elog"
)

// Control path op codes, shared with userspace tooling.
const (
	OpRead  = 0
	OpWrite = 1
	OpStart = 2
)

// Cmd is one control operation: Op selects read/write/start, Reg
// names a BAR0 register, Val carries the write value or receives the
// read result.
type Cmd struct {
	Op  uint32
	Reg uint32
	Val uint32
}

// CmdList is the single control entry's argument.
type CmdList struct {
	Cmds []Cmd
}

// ioctl command fields, linux asm-generic layout.
const (
	iocNrShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocWrite = 1
	iocRead  = 2
)

// Control entry identity: the magic type byte, the highest command
// number, and the one command.
const (
	IocMagic = 0x46
	IocMaxNr = 0

	CmdListIoc = (iocRead|iocWrite)<<iocDirShift | IocMagic<<iocTypeShift |
		0<<iocNrShift | 16<<iocSizeShift
)

// Ioctl validates the control command identity, then runs the list.
// A foreign magic byte or a command number above the max is ENOTTY
// before the argument is touched; a nil argument is EFAULT.
func (d *Dev) Ioctl(cmd uint32, arg *CmdList) error {
	if (cmd>>iocTypeShift)&0xff != IocMagic {
		return syscall.ENOTTY
	}
	if (cmd>>iocNrShift)&0xff > IocMaxNr {
		return syscall.ENOTTY
	}
	if arg == nil {
		return syscall.EFAULT
	}
	return d.ExecCmds(arg.Cmds)
}

// ExecCmds runs a command batch in order.  Reads store the register
// value back into the corresponding element.  The batch stops at the
// first failure; a register index beyond the mapped window and an
// unrecognised op both fail with EFAULT.  A detached device fails
// with ENODEV before any register is touched.
func (d *Dev) ExecCmds(cmds []Cmd) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dead {
		// The window is unmapped once the device detaches.
		return syscall.ENODEV
	}
	for i := range cmds {
		c := &cmds[i]
		switch c.Op {
		case OpRead:
			if !d.valid_reg(c.Reg) {
				return syscall.EFAULT
			}
			c.Val = d.get_reg(c.Reg)
		case OpWrite:
			if !d.valid_reg(c.Reg) {
				return syscall.EFAULT
			}
			d.set_reg(c.Reg, c.Val)
		case OpStart:
			d.start()
			if elog.Enabled() {
				elog.F("fpgalink start")
			}
		default:
			// Unrecognised operation.
			return syscall.EFAULT
		}
	}
	return nil
}
