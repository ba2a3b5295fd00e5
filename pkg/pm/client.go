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

package pm

import (
	"fmt"

	"gvisor.dev/pmclient/pkg/bits"
	"gvisor.dev/pmclient/pkg/log"
	"gvisor.dev/pmclient/pkg/mmio"
)

// PowerState is the locally observable power state of a core.
type PowerState int

const (
	// Running means no power-down is requested for the core.
	Running PowerState = iota

	// SuspendRequested means the core's power-down bit is set and the PMU
	// may remove power once notified.
	SuspendRequested

	// PoweredDown is entered by the PMU. It cannot be distinguished from
	// SuspendRequested through the power-control register.
	PoweredDown
)

func (s PowerState) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case SuspendRequested:
		return "SUSPEND_REQUESTED"
	case PoweredDown:
		return "POWERED_DOWN"
	default:
		return fmt.Sprintf("PowerState(%d)", int(s))
	}
}

// State returns the power state of p as seen in the power-control register.
func (s *Subsystem) State(p Proc) PowerState {
	if bits.IsAnyOn(s.regs.Read32(s.pwrCtl), p.PwrdnMask) {
		return SuspendRequested
	}
	return Running
}

// Suspend prepares the current core for a suspend request: interrupts stop
// being delivered to it and p's power-down bit is set. The PMU is notified
// separately through the mailbox.
//
// Suspend, AbortSuspend and Wakeup do not take the mailbox lock. Their
// updates of the shared power-control register are atomic only if the
// register device implements mmio.BitModifier.
func (c *Client) Suspend(p Proc) {
	c.gic.Deactivate()
	mmio.SetBits(c.regs, c.pwrCtl, p.PwrdnMask)
	powerActions.Increment("suspend")
	log.Debugf("CPU %d: power-down requested for %v", c.cpu, p)
}

// AbortSuspend undoes Suspend for the primary processor: interrupts are
// delivered to the current core again and the primary's power-down bit is
// cleared. It is a no-op if no suspend is pending.
func (c *Client) AbortSuspend() {
	primary := c.registry.Primary()
	c.gic.Setup()
	mmio.ClearBits(c.regs, c.pwrCtl, primary.PwrdnMask)
	powerActions.Increment("abort_suspend")
	log.Debugf("CPU %d: suspend aborted for %v", c.cpu, primary)
}

// Wakeup clears the power-down bit of another core. Processors that are not
// in the registry are silently ignored and the register is left untouched.
func (c *Client) Wakeup(p Proc) {
	if c.registry.CPUID(p.Node) == UndefinedCPUID {
		powerActions.Increment("wakeup_ignored")
		log.Debugf("CPU %d: ignoring wakeup of unregistered %v", c.cpu, p.Node)
		return
	}
	mmio.ClearBits(c.regs, c.pwrCtl, p.PwrdnMask)
	powerActions.Increment("wakeup")
	log.Debugf("CPU %d: power-down request cleared for %v", c.cpu, p)
}
