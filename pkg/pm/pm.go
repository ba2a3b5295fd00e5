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

// Package pm implements the client side of the power-management protocol
// between the cores of an application processor cluster (APU) and a
// power-management unit (PMU).
//
// A Subsystem holds the state shared by every core: the processor Registry,
// the register space, the cross-core mailbox lock and the wait strategy. Each
// core talks to the PMU through its own Client, which binds the Subsystem to
// the core's CPU id and its interrupt controller CPU interface.
//
// Mailbox requests are serialized across cores by one lock that guards every
// channel. Power transition actions do not take the lock; see Client.Suspend.
package pm

import (
	"fmt"
	"time"

	"gvisor.dev/pmclient/pkg/gic"
	"gvisor.dev/pmclient/pkg/log"
	"gvisor.dev/pmclient/pkg/metric"
	"gvisor.dev/pmclient/pkg/mmio"
	"gvisor.dev/pmclient/pkg/sync"
)

// Lock is the cross-core lock guarding the mailbox. Acquire and Release are
// called with the local CPU id of the caller.
//
// *sync.SpinLock and *sync.Bakery implement Lock.
type Lock interface {
	Acquire(cpu int)
	Release(cpu int)
}

var (
	ipiSends    = metric.MustCreateNewUint64Metric("/pm/ipi/sends", "Number of requests written to a PMU mailbox.")
	ipiReceives = metric.MustCreateNewUint64Metric("/pm/ipi/receives", "Number of PMU responses read from a mailbox.")
	ipiTimeouts = metric.MustCreateNewUint64Metric("/pm/ipi/timeouts", "Number of mailbox waits that gave up before the PMU handled the previous request.")
	ipiPolls    = metric.MustCreateNewUint64Metric("/pm/ipi/polls", "Number of observation register polls while waiting for the PMU.")

	powerActions = metric.MustCreateNewUint64Metric("/pm/power/actions", "Number of local power transition actions.",
		metric.NewField("action", "suspend", "abort_suspend", "wakeup", "wakeup_ignored"))
)

// SubsystemArgs are the arguments to NewSubsystem.
type SubsystemArgs struct {
	// Node is the node id of the subsystem as a whole. Defaults to NodeAPU.
	Node NodeID

	// Registry describes the processors. Required.
	Registry *Registry

	// Regs gives access to the mailbox and power-control registers.
	// Required.
	Regs mmio.Device

	// Lock serializes mailbox access. Defaults to a SpinLock.
	Lock Lock

	// Waiter polls for the PMU. Defaults to a SpinWaiter.
	Waiter Waiter

	// Layout is the message buffer layout. Defaults to ZynqMPLayout.
	Layout *BufferLayout

	// PwrCtl is the power-control register. Defaults to APUPwrCtl.
	PwrCtl mmio.Addr
}

// Subsystem is the state shared by all cores of the APU.
type Subsystem struct {
	node     NodeID
	registry *Registry
	regs     mmio.Device
	lock     Lock
	waiter   Waiter
	layout   BufferLayout
	pwrCtl   mmio.Addr
}

// NewSubsystem returns a new Subsystem.
func NewSubsystem(args SubsystemArgs) (*Subsystem, error) {
	if args.Registry == nil {
		return nil, fmt.Errorf("subsystem requires a processor registry")
	}
	if args.Regs == nil {
		return nil, fmt.Errorf("subsystem requires a register device")
	}
	s := &Subsystem{
		node:     args.Node,
		registry: args.Registry,
		regs:     args.Regs,
		lock:     args.Lock,
		waiter:   args.Waiter,
		layout:   ZynqMPLayout,
		pwrCtl:   args.PwrCtl,
	}
	if s.node == NodeUnknown {
		s.node = NodeAPU
	}
	if s.lock == nil {
		s.lock = &sync.SpinLock{}
	}
	if s.waiter == nil {
		s.waiter = SpinWaiter{WarnAfter: time.Second}
	}
	if args.Layout != nil {
		s.layout = *args.Layout
	}
	if err := s.layout.validate(); err != nil {
		return nil, err
	}
	if s.pwrCtl == 0 {
		s.pwrCtl = APUPwrCtl
	}
	if !s.pwrCtl.Aligned() {
		return nil, fmt.Errorf("power-control register %v is not 32-bit aligned", s.pwrCtl)
	}
	return s, nil
}

// Node returns the subsystem's node id.
func (s *Subsystem) Node() NodeID {
	return s.node
}

// Registry returns the processor registry.
func (s *Subsystem) Registry() *Registry {
	return s.registry
}

// Layout returns the message buffer layout.
func (s *Subsystem) Layout() BufferLayout {
	return s.layout
}

// PwrCtl returns the address of the power-control register.
func (s *Subsystem) PwrCtl() mmio.Addr {
	return s.pwrCtl
}

// Client is the view of the Subsystem from one core.
//
// A Client must only be used by the goroutine standing in for its core.
type Client struct {
	*Subsystem

	cpu uint32
	gic gic.CPUInterface
}

// NewClient returns the Client for local CPU cpu, whose interrupt controller
// CPU interface is cpuif.
func (s *Subsystem) NewClient(cpu uint32, cpuif gic.CPUInterface) (*Client, error) {
	if _, ok := s.registry.Proc(cpu); !ok {
		return nil, fmt.Errorf("CPU %d is not in the registry (%d processors)", cpu, s.registry.Len())
	}
	if cpuif == nil {
		return nil, fmt.Errorf("CPU %d has no interrupt controller interface", cpu)
	}
	log.Debugf("CPU %d: client for %v created", cpu, s.node)
	return &Client{Subsystem: s, cpu: cpu, gic: cpuif}, nil
}

// CPU returns the local CPU id of the client's core.
func (c *Client) CPU() uint32 {
	return c.cpu
}
