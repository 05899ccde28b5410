// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fpgalinkd publishes FPGA link device state to redis and
// accepts control writes through hset.
//
// Published fields, all under the "fpga." prefix: device, revision,
// the event counters (frames, interrupts, completions, spurious,
// starts) and the ring counters (ring.available, ring.submitted,
// ring.out_index).  Writable fields: "fpga.control.start" arms the
// stream, "fpga.reg.N" writes application register N.
package fpgalinkd

import (
	"fmt"
	"net/rpc"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/platinasystems/atsock"
	"github.com/platinasystems/fpgalink"
	"github.com/platinasystems/log"
	"github.com/platinasystems/redis"
	"github.com/platinasystems/redis/publisher"
	"github.com/platinasystems/redis/rpc/args"
	"github.com/platinasystems/redis/rpc/reply"
)

const Name = "fpgalinkd"

const prefix = "fpga."

type Daemon struct {
	Info
	Interval time.Duration
}

type Info struct {
	mutex sync.Mutex
	m     *fpgalink.Main
	rpc   *atsock.RpcServer
	pub   *publisher.Publisher
	stop  chan struct{}
	lasts map[string]string
	lastu map[string]uint64
}

func (*Daemon) String() string { return Name }

// Main publishes device state every Interval until Close.  It blocks
// waiting for redisd first; the daemon is typically started in
// parallel with it.
func (d *Daemon) Main(m *fpgalink.Main) error {
	d.m = m
	stop := d.stopCh()
	d.lasts = make(map[string]string)
	d.lastu = make(map[string]uint64)

	b := &backoff.Backoff{
		Min:    1 * time.Second,
		Max:    10 * time.Second,
		Factor: 2,
	}
	for redis.IsReady() != nil {
		t := time.NewTicker(b.Duration())
		select {
		case <-stop:
			t.Stop()
			return nil
		case <-t.C:
		}
		t.Stop()
	}

	var err error
	if d.pub, err = publisher.New(); err != nil {
		return err
	}
	defer d.pub.Close()

	if d.rpc, err = atsock.NewRpcServer(Name); err != nil {
		return err
	}
	defer d.rpc.Close()

	rpc.Register(&d.Info)
	if err = redis.Assign(redis.DefaultHash+":"+prefix, Name, "Info"); err != nil {
		return err
	}

	if d.Interval == 0 {
		d.Interval = 5 * time.Second
	}
	t := time.NewTicker(d.Interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return nil
		case <-t.C:
			d.update()
		}
	}
}

// stopCh returns the stop channel, creating it on first use.  Close
// can run off a signal before Main gets going.
func (i *Info) stopCh() chan struct{} {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	if i.stop == nil {
		i.stop = make(chan struct{})
	}
	return i.stop
}

func (d *Daemon) Close() error {
	close(d.stopCh())
	return nil
}

func (i *Info) update() {
	devs := i.m.Devs()
	if len(devs) == 0 {
		return
	}
	d := devs[0]

	i.mutex.Lock()
	defer i.mutex.Unlock()

	i.pubs(prefix+"device", d.String())
	i.pubs(prefix+"revision", fmt.Sprintf("0x%02x", d.Revision()))

	c := d.Counters()
	i.pubu(prefix+"frames", c.Frames)
	i.pubu(prefix+"interrupts", c.Interrupts)
	i.pubu(prefix+"completions", c.Completions)
	i.pubu(prefix+"spurious", c.Spurious)
	i.pubu(prefix+"starts", c.Starts)
	i.pubu(prefix+"ring.available", uint64(c.NumAvailable))
	i.pubu(prefix+"ring.submitted", uint64(c.NumSubmitted))
	i.pubu(prefix+"ring.out_index", uint64(c.OutIndex))
}

// Only changed values go out so an idle device stays quiet on the wire.
func (i *Info) pubs(key, value string) {
	if i.lasts[key] != value {
		i.pub.Print(key, ": ", value)
		i.lasts[key] = value
	}
}

func (i *Info) pubu(key string, value uint64) {
	if v, ok := i.lastu[key]; !ok || v != value {
		i.pub.Print(key, ": ", value)
		i.lastu[key] = value
	}
}

func (i *Info) Hset(a args.Hset, r *reply.Hset) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	devs := i.m.Devs()
	if len(devs) == 0 {
		return fmt.Errorf("cannot hset: %s: no device", a.Field)
	}
	d := devs[0]

	field := strings.TrimPrefix(a.Field, prefix)
	switch {
	case field == "control.start":
		v := string(a.Value)
		if v != "true" && v != "1" {
			return fmt.Errorf("cannot hset: %s: valid values are: true, 1",
				a.Field)
		}
		if err := d.ExecCmds([]fpgalink.Cmd{{Op: fpgalink.OpStart}}); err != nil {
			return err
		}
		log.Print("notice: ", d.String(), " streaming started")
	case strings.HasPrefix(field, "reg."):
		n, err := strconv.ParseUint(strings.TrimPrefix(field, "reg."), 10, 32)
		if err != nil {
			return fmt.Errorf("cannot hset: %s", a.Field)
		}
		v, err := strconv.ParseUint(string(a.Value), 0, 32)
		if err != nil {
			return err
		}
		err = d.ExecCmds([]fpgalink.Cmd{{
			Op:  fpgalink.OpWrite,
			Reg: uint32(n),
			Val: uint32(v),
		}})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("cannot hset: %s", a.Field)
	}
	*r = 1
	return nil
}
