// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pm_test

import (
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/pmclient/pkg/gic"
	"gvisor.dev/pmclient/pkg/mmio"
	"gvisor.dev/pmclient/pkg/pm"
)

func TestSuspendWakeupAcrossCores(t *testing.T) {
	env := newTestEnv(t, pm.SubsystemArgs{}, nil)
	pwrctl := env.sys.PwrCtl()

	for cpu, c := range env.clients {
		c.Suspend(env.proc(t, uint32(cpu)))
		if got, want := env.regs.Read32(pwrctl), uint32(1)<<(cpu+1)-1; got != want {
			t.Errorf("after CPU %d suspend, power control got %#x, want %#x", cpu, got, want)
		}
		if env.gics[cpu].Enabled() {
			t.Errorf("CPU %d interrupts still enabled after Suspend", cpu)
		}
	}

	// The primary wakes the others.
	for cpu := uint32(1); cpu < 4; cpu++ {
		env.clients[0].Wakeup(env.proc(t, cpu))
		if got := env.regs.Read32(pwrctl) & (1 << cpu); got != 0 {
			t.Errorf("bit %d still set after Wakeup", cpu)
		}
	}
	if got := env.regs.Read32(pwrctl); got != 0x1 {
		t.Errorf("power control got %#x, want %#x", got, 0x1)
	}

	env.clients[0].AbortSuspend()
	if got := env.regs.Read32(pwrctl); got != 0 {
		t.Errorf("power control got %#x after AbortSuspend, want 0", got)
	}
	if !env.gics[0].Enabled() {
		t.Errorf("CPU 0 interrupts not enabled after AbortSuspend")
	}
	for cpu := 1; cpu < 4; cpu++ {
		if env.gics[cpu].Enabled() {
			t.Errorf("CPU %d interrupts enabled by another core's AbortSuspend", cpu)
		}
	}
}

func TestSuspendOnlyTouchesOwnBit(t *testing.T) {
	env := newTestEnv(t, pm.SubsystemArgs{}, nil)
	pwrctl := env.sys.PwrCtl()
	env.regs.Write32(pwrctl, 0xf0)

	env.clients[2].Suspend(env.proc(t, 2))
	if got := env.regs.Read32(pwrctl); got != 0xf4 {
		t.Errorf("power control got %#x, want %#x", got, 0xf4)
	}
	if got := env.sys.State(env.proc(t, 2)); got != pm.SuspendRequested {
		t.Errorf("State got %v, want %v", got, pm.SuspendRequested)
	}
	if got := env.sys.State(env.proc(t, 1)); got != pm.Running {
		t.Errorf("State got %v, want %v", got, pm.Running)
	}
}

func TestAbortSuspendIdempotent(t *testing.T) {
	env := newTestEnv(t, pm.SubsystemArgs{}, nil)
	pwrctl := env.sys.PwrCtl()
	env.clients[0].Suspend(env.proc(t, 0))

	env.clients[0].AbortSuspend()
	first := env.regs.Read32(pwrctl)
	env.clients[0].AbortSuspend()
	if got := env.regs.Read32(pwrctl); got != first || got != 0 {
		t.Errorf("power control got %#x after second AbortSuspend, want %#x", got, first)
	}
	deactivate, setup := env.gics[0].Calls()
	if deactivate != 1 || setup != 2 {
		t.Errorf("GIC calls got (%d, %d), want (1, 2)", deactivate, setup)
	}
	if !env.gics[0].Enabled() {
		t.Errorf("interrupts not enabled after AbortSuspend")
	}
}

func TestAbortSuspendClearsPrimary(t *testing.T) {
	env := newTestEnv(t, pm.SubsystemArgs{}, nil)
	pwrctl := env.sys.PwrCtl()
	env.regs.Write32(pwrctl, 0x3)

	// Whatever core calls it, the primary's bit is cleared.
	env.clients[3].AbortSuspend()
	if got := env.regs.Read32(pwrctl); got != 0x2 {
		t.Errorf("power control got %#x, want %#x", got, 0x2)
	}
}

func TestWakeupUnregistered(t *testing.T) {
	env := newTestEnv(t, pm.SubsystemArgs{}, nil)
	pwrctl := env.sys.PwrCtl()
	env.regs.Write32(pwrctl, 0xf)
	writes := env.regs.Writes(pwrctl)

	rpu := pm.Proc{Node: pm.NodeRPU0, PwrdnMask: 1 << 1, IPI: pm.ZynqMPAPUIPI()}
	env.clients[0].Wakeup(rpu)

	if got := env.regs.Read32(pwrctl); got != 0xf {
		t.Errorf("power control got %#x, want %#x", got, 0xf)
	}
	if got := env.regs.Writes(pwrctl); got != writes {
		t.Errorf("power control written %d times by ignored Wakeup", got-writes)
	}
}

func TestPowerActionsWithoutBitModifier(t *testing.T) {
	env := newTestEnv(t, pm.SubsystemArgs{}, nil)
	sys, err := pm.NewSubsystem(pm.SubsystemArgs{
		Registry: pm.ZynqMPRegistry(),
		Regs:     mmio.RawDevice{Device: env.regs},
	})
	if err != nil {
		t.Fatalf("NewSubsystem: %v", err)
	}
	c, err := sys.NewClient(1, gic.NewSim(1))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	pwrctl := sys.PwrCtl()
	env.regs.Write32(pwrctl, 0x8)

	c.Suspend(env.proc(t, 1))
	if got := env.regs.Read32(pwrctl); got != 0xa {
		t.Errorf("power control got %#x after Suspend, want %#x", got, 0xa)
	}
	c.Wakeup(env.proc(t, 3))
	if got := env.regs.Read32(pwrctl); got != 0x2 {
		t.Errorf("power control got %#x after Wakeup, want %#x", got, 0x2)
	}
}

func TestConcurrentSuspend(t *testing.T) {
	env := newTestEnv(t, pm.SubsystemArgs{}, nil)
	var g errgroup.Group
	for cpu, c := range env.clients {
		c, p := c, env.proc(t, uint32(cpu))
		g.Go(func() error {
			for i := 0; i < 1000; i++ {
				c.Suspend(p)
				c.Wakeup(p)
			}
			c.Suspend(p)
			return nil
		})
	}
	g.Wait()
	if got := env.regs.Read32(env.sys.PwrCtl()); got != 0xf {
		t.Errorf("power control got %#x, want %#x", got, 0xf)
	}
}

func TestNewClientErrors(t *testing.T) {
	sys, err := pm.NewSubsystem(pm.SubsystemArgs{Registry: pm.ZynqMPRegistry(), Regs: mmio.NewMemory()})
	if err != nil {
		t.Fatalf("NewSubsystem: %v", err)
	}
	if _, err := sys.NewClient(4, gic.NewSim(4)); err == nil {
		t.Errorf("NewClient for CPU 4 succeeded")
	}
	if _, err := sys.NewClient(0, nil); err == nil {
		t.Errorf("NewClient without an interrupt controller succeeded")
	}
	if sys.Node() != pm.NodeAPU {
		t.Errorf("Node got %v, want %v", sys.Node(), pm.NodeAPU)
	}
	if sys.PwrCtl() != pm.APUPwrCtl {
		t.Errorf("PwrCtl got %v, want %v", sys.PwrCtl(), pm.APUPwrCtl)
	}
}

func TestNewSubsystemErrors(t *testing.T) {
	badLayout := pm.BufferLayout{ArgSize: 4, RespOffset: 4}
	for _, tc := range []struct {
		name string
		args pm.SubsystemArgs
		want string
	}{
		{name: "no registry", args: pm.SubsystemArgs{Regs: mmio.NewMemory()}, want: "registry"},
		{name: "no registers", args: pm.SubsystemArgs{Registry: pm.ZynqMPRegistry()}, want: "register device"},
		{
			name: "overlapping layout",
			args: pm.SubsystemArgs{Registry: pm.ZynqMPRegistry(), Regs: mmio.NewMemory(), Layout: &badLayout},
			want: "overlap",
		},
		{
			name: "unaligned power control",
			args: pm.SubsystemArgs{Registry: pm.ZynqMPRegistry(), Regs: mmio.NewMemory(), PwrCtl: pm.APUPwrCtl + 2},
			want: "aligned",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := pm.NewSubsystem(tc.args)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("NewSubsystem got err %v, want one containing %q", err, tc.want)
			}
		})
	}
}
