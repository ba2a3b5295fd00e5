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

package gic

import (
	"testing"

	"gvisor.dev/pmclient/pkg/mmio"
)

const giccBase = mmio.Addr(0xf9020000)

func TestV2DeactivateSetup(t *testing.T) {
	m := mmio.NewMemory()
	g := V2{Regs: m, Base: giccBase}

	g.Setup()
	if !g.Enabled() {
		t.Fatalf("Enabled after Setup = false")
	}
	if got := m.Read32(giccBase + PMROffset); got != PriorityMaskAll {
		t.Errorf("PMR got %#x, want %#x", got, PriorityMaskAll)
	}

	g.Deactivate()
	ctlr := m.Read32(giccBase + CTLROffset)
	if ctlr&(CTLREnableGrp0|CTLREnableGrp1) != 0 {
		t.Errorf("CTLR %#x still has group enables set", ctlr)
	}
	if ctlr&bypassDisable != bypassDisable {
		t.Errorf("CTLR %#x missing bypass disable bits %#x", ctlr, bypassDisable)
	}
	if g.Enabled() {
		t.Errorf("Enabled after Deactivate = true")
	}

	// Setup is idempotent.
	g.Setup()
	first := m.Read32(giccBase + CTLROffset)
	g.Setup()
	if second := m.Read32(giccBase + CTLROffset); first != second {
		t.Errorf("CTLR changed on repeated Setup: %#x -> %#x", first, second)
	}
}

func TestSim(t *testing.T) {
	s := NewSim(1)
	if !s.Enabled() {
		t.Fatalf("new Sim is disabled")
	}
	s.Deactivate()
	if s.Enabled() {
		t.Errorf("Enabled after Deactivate = true")
	}
	s.Setup()
	s.Setup()
	if !s.Enabled() {
		t.Errorf("Enabled after Setup = false")
	}
	if d, u := s.Calls(); d != 1 || u != 2 {
		t.Errorf("Calls got (%d, %d), want (1, 2)", d, u)
	}
}
