package fpgalink

import (
	"syscall"
	"testing"
)

func TestRegisterReadback(t *testing.T) {
	d := testDev()
	cmds := []Cmd{
		{Op: OpWrite, Reg: 5, Val: 0x1234},
		{Op: OpRead, Reg: 5},
	}
	if err := d.ExecCmds(cmds); err != nil {
		t.Fatal(err)
	}
	if cmds[1].Val != 0x1234 {
		t.Errorf("readback 0x%x != 0x1234", cmds[1].Val)
	}
}

func TestUnknownOp(t *testing.T) {
	d := testDev()
	d.set_reg(2, 0x5a5a5a5a)
	before := d.Counters()

	err := d.ExecCmds([]Cmd{{Op: 99}})
	if err != syscall.EFAULT {
		t.Fatalf("err %v != EFAULT", err)
	}
	if after := d.Counters(); after != before {
		t.Errorf("ring touched: %+v != %+v", after, before)
	}
	if v := d.get_reg(2); v != 0x5a5a5a5a {
		t.Errorf("register 2 touched: 0x%x", v)
	}
}

// The batch stops at the first failure; later commands must not run.
func TestBatchStopsOnFailure(t *testing.T) {
	d := testDev()
	err := d.ExecCmds([]Cmd{
		{Op: OpWrite, Reg: 2, Val: 1},
		{Op: 99},
		{Op: OpWrite, Reg: 2, Val: 2},
	})
	if err != syscall.EFAULT {
		t.Fatalf("err %v != EFAULT", err)
	}
	if v := d.get_reg(2); v != 1 {
		t.Errorf("register 2 is 0x%x, want the pre-failure value 1", v)
	}
}

// The window is barMinLen bytes: registers 0..31 are reachable,
// register 32 would read past the mapping.
func TestRegisterWindowBounds(t *testing.T) {
	d := testDev()
	last := uint32(len(d.mmaped_regs)/8 - 1)
	if err := d.ExecCmds([]Cmd{{Op: OpWrite, Reg: last, Val: 7}}); err != nil {
		t.Fatalf("register %d: %v", last, err)
	}
	cmds := []Cmd{{Op: OpRead, Reg: last}}
	if err := d.ExecCmds(cmds); err != nil {
		t.Fatal(err)
	}
	if cmds[0].Val != 7 {
		t.Errorf("readback %d != 7", cmds[0].Val)
	}
	if err := d.ExecCmds([]Cmd{{Op: OpRead, Reg: last + 1}}); err != syscall.EFAULT {
		t.Fatalf("read beyond window: err %v != EFAULT", err)
	}
	if err := d.ExecCmds([]Cmd{{Op: OpWrite, Reg: last + 1}}); err != syscall.EFAULT {
		t.Fatalf("write beyond window: err %v != EFAULT", err)
	}
}

func TestIoctl(t *testing.T) {
	d := testDev()
	list := &CmdList{Cmds: []Cmd{{Op: OpWrite, Reg: 3, Val: 9}, {Op: OpRead, Reg: 3}}}

	foreign := uint32(0x47) << iocTypeShift
	if err := d.Ioctl(foreign, list); err != syscall.ENOTTY {
		t.Fatalf("foreign magic: err %v != ENOTTY", err)
	}
	tooHigh := uint32(IocMagic)<<iocTypeShift | (IocMaxNr + 1)
	if err := d.Ioctl(tooHigh, list); err != syscall.ENOTTY {
		t.Fatalf("number above max: err %v != ENOTTY", err)
	}
	if err := d.Ioctl(CmdListIoc, nil); err != syscall.EFAULT {
		t.Fatalf("nil argument: err %v != EFAULT", err)
	}
	if err := d.Ioctl(CmdListIoc, list); err != nil {
		t.Fatal(err)
	}
	if list.Cmds[1].Val != 9 {
		t.Errorf("readback %d != 9", list.Cmds[1].Val)
	}
}

// The DMA pair is reachable through the window: register 0 is the
// base register, register 1 the control register.
func TestWindowOverlaysDmaRegs(t *testing.T) {
	d := testDev()
	if err := d.ExecCmds([]Cmd{{Op: OpWrite, Reg: 0, Val: 0x1000}}); err != nil {
		t.Fatal(err)
	}
	if got := d.last_base(); got != 0x1000 {
		t.Errorf("base 0x%x != 0x1000", got)
	}
	if err := d.ExecCmds([]Cmd{{Op: OpWrite, Reg: 1, Val: 5}}); err != nil {
		t.Fatal(err)
	}
	if got := d.last_count(); got != 5 {
		t.Errorf("control %d != 5", got)
	}
}
