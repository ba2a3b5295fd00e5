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

// Package gic drives the per-core CPU interface of an ARM Generic Interrupt
// Controller.
//
// Only the two operations needed around power transitions are provided:
// Deactivate stops interrupt delivery to the calling core and Setup restores
// it.
package gic

import (
	"gvisor.dev/pmclient/pkg/atomicbitops"
	"gvisor.dev/pmclient/pkg/bits"
	"gvisor.dev/pmclient/pkg/log"
	"gvisor.dev/pmclient/pkg/mmio"
)

// CPUInterface is the interrupt controller interface of the current core.
type CPUInterface interface {
	// Deactivate disables interrupt delivery to this core.
	Deactivate()

	// Setup enables interrupt delivery to this core.
	Setup()
}

// GICv2 CPU interface register offsets: GICC_CTLR and GICC_PMR.
const (
	CTLROffset = 0x0
	PMROffset  = 0x4
)

// Bits of the GICC_CTLR register.
const (
	CTLREnableGrp0    = 1 << 0
	CTLREnableGrp1    = 1 << 1
	CTLRFIQEn         = 1 << 3
	CTLRFIQBypDisGrp0 = 1 << 5
	CTLRIRQBypDisGrp0 = 1 << 6
	CTLRFIQBypDisGrp1 = 1 << 7
	CTLRIRQBypDisGrp1 = 1 << 8

	bypassDisable = CTLRFIQBypDisGrp0 | CTLRIRQBypDisGrp0 | CTLRFIQBypDisGrp1 | CTLRIRQBypDisGrp1
)

// PriorityMaskAll lets interrupts of every priority through.
const PriorityMaskAll = 0xff

// V2 is a GICv2 CPU interface at Base. On systems with a banked CPU
// interface every core uses the same Base and sees its own registers.
type V2 struct {
	Regs mmio.Device
	Base mmio.Addr
}

// Deactivate implements CPUInterface.Deactivate. Group 0 and 1 delivery is
// disabled and the legacy bypass paths are closed so that wakeup signals
// still reach the power controller.
func (g V2) Deactivate() {
	ctlr := g.Base.Add(CTLROffset)
	val := g.Regs.Read32(ctlr)
	val = bits.Clear[uint32](val, CTLREnableGrp0|CTLREnableGrp1)
	val = bits.Set[uint32](val, bypassDisable)
	g.Regs.Write32(ctlr, val)
}

// Setup implements CPUInterface.Setup. It sets the priority mask to admit
// all interrupts and enables secure group 0 as FIQ.
func (g V2) Setup() {
	g.Regs.Write32(g.Base.Add(PMROffset), PriorityMaskAll)
	g.Regs.Write32(g.Base.Add(CTLROffset), CTLREnableGrp0|CTLRFIQEn|bypassDisable)
}

// Enabled reports whether group 0 delivery is enabled.
func (g V2) Enabled() bool {
	return bits.IsOn[uint32](g.Regs.Read32(g.Base.Add(CTLROffset)), CTLREnableGrp0)
}

// Sim is a simulated CPU interface for one core. The zero value is
// disabled.
type Sim struct {
	// CPU is used only for logging.
	CPU int

	enabled       atomicbitops.Bool
	deactivations atomicbitops.Uint32
	setups        atomicbitops.Uint32
}

// NewSim returns an enabled simulated CPU interface.
func NewSim(cpu int) *Sim {
	s := &Sim{CPU: cpu}
	s.enabled.Store(true)
	return s
}

// Deactivate implements CPUInterface.Deactivate.
func (s *Sim) Deactivate() {
	s.enabled.Store(false)
	s.deactivations.Add(1)
	log.Debugf("CPU %d: GIC CPU interface deactivated", s.CPU)
}

// Setup implements CPUInterface.Setup.
func (s *Sim) Setup() {
	s.enabled.Store(true)
	s.setups.Add(1)
	log.Debugf("CPU %d: GIC CPU interface set up", s.CPU)
}

// Enabled reports whether interrupts are delivered to the core.
func (s *Sim) Enabled() bool {
	return s.enabled.Load()
}

// Calls returns the number of Deactivate and Setup calls.
func (s *Sim) Calls() (deactivate, setup uint32) {
	return s.deactivations.Load(), s.setups.Load()
}
