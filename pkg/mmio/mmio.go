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

// Package mmio provides access to 32-bit memory-mapped registers.
//
// Register accesses are assumed uncached, ordered and side-effecting. A
// Device may be physical (DevMem) or simulated (Memory).
package mmio

import (
	"fmt"

	"gvisor.dev/pmclient/pkg/bits"
)

// Addr is a physical register address.
type Addr uint64

// String implements fmt.Stringer.
func (a Addr) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Add returns a + off.
func (a Addr) Add(off uint64) Addr {
	return a + Addr(off)
}

// Aligned returns true if a is aligned for a 32-bit access.
func (a Addr) Aligned() bool {
	return a&3 == 0
}

// Device reads and writes 32-bit registers.
type Device interface {
	// Read32 returns the register at addr.
	Read32(addr Addr) uint32

	// Write32 stores v to the register at addr.
	Write32(addr Addr, v uint32)
}

// BitModifier is implemented by devices that can set and clear register bits
// atomically with respect to other cores.
type BitModifier interface {
	// SetBits32 sets every bit in mask.
	SetBits32(addr Addr, mask uint32)

	// ClearBits32 clears every bit in mask.
	ClearBits32(addr Addr, mask uint32)
}

// SetBits sets mask in the register at addr.
//
// If d is a BitModifier the update is atomic. Otherwise it is a plain
// read-modify-write and concurrent updates to the same register from other
// cores must be serialized by the caller.
func SetBits(d Device, addr Addr, mask uint32) {
	if bm, ok := d.(BitModifier); ok {
		bm.SetBits32(addr, mask)
		return
	}
	d.Write32(addr, bits.Set(d.Read32(addr), mask))
}

// ClearBits clears mask in the register at addr. See SetBits for atomicity.
func ClearBits(d Device, addr Addr, mask uint32) {
	if bm, ok := d.(BitModifier); ok {
		bm.ClearBits32(addr, mask)
		return
	}
	d.Write32(addr, bits.Clear(d.Read32(addr), mask))
}
