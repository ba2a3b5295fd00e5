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

package mmio

import (
	"fmt"

	"gvisor.dev/pmclient/pkg/atomicbitops"
	"gvisor.dev/pmclient/pkg/sync"
)

// WriteHook is called after a register is modified, with the new value and
// the bits written by the access. For plain writes, written is the full
// value; for SetBits32 and ClearBits32 it is the mask.
type WriteHook func(addr Addr, value, written uint32)

type cell struct {
	value  atomicbitops.Uint32
	writes atomicbitops.Uint64
}

// Memory is a simulated register space. Registers spring into existence,
// zeroed, on first access.
//
// Every register is an independent atomic cell, so concurrent accesses from
// goroutines standing in for cores behave like single-copy atomic 32-bit
// hardware accesses. Memory implements BitModifier.
type Memory struct {
	mu sync.RWMutex

	// cells is protected by mu. The cells themselves are atomic.
	cells map[Addr]*cell

	// hooks is protected by mu.
	hooks map[Addr][]WriteHook
}

// NewMemory returns an empty register space.
func NewMemory() *Memory {
	return &Memory{
		cells: make(map[Addr]*cell),
		hooks: make(map[Addr][]WriteHook),
	}
}

func (m *Memory) cell(addr Addr) *cell {
	if !addr.Aligned() {
		panic(fmt.Sprintf("unaligned 32-bit register access at %v", addr))
	}
	m.mu.RLock()
	c, ok := m.cells[addr]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cells[addr]; ok {
		return c
	}
	c = &cell{}
	m.cells[addr] = c
	return c
}

func (m *Memory) runHooks(addr Addr, value, written uint32) {
	m.mu.RLock()
	hooks := m.hooks[addr]
	m.mu.RUnlock()
	for _, h := range hooks {
		h(addr, value, written)
	}
}

// OnWrite registers h to run after every modification of addr. Hooks run on
// the writing goroutine, in registration order.
func (m *Memory) OnWrite(addr Addr, h WriteHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[addr] = append(m.hooks[addr], h)
}

// Read32 implements Device.Read32.
func (m *Memory) Read32(addr Addr) uint32 {
	return m.cell(addr).value.Load()
}

// Write32 implements Device.Write32.
func (m *Memory) Write32(addr Addr, v uint32) {
	c := m.cell(addr)
	c.value.Store(v)
	c.writes.Add(1)
	m.runHooks(addr, v, v)
}

// SetBits32 implements BitModifier.SetBits32.
func (m *Memory) SetBits32(addr Addr, mask uint32) {
	c := m.cell(addr)
	v := c.value.Or(mask) | mask
	c.writes.Add(1)
	m.runHooks(addr, v, mask)
}

// ClearBits32 implements BitModifier.ClearBits32.
func (m *Memory) ClearBits32(addr Addr, mask uint32) {
	c := m.cell(addr)
	v := c.value.And(^mask) &^ mask
	c.writes.Add(1)
	m.runHooks(addr, v, mask)
}

// Poke stores v at addr without counting the write or running hooks. It
// models a register updated by the other side of a device.
func (m *Memory) Poke(addr Addr, v uint32) {
	m.cell(addr).value.Store(v)
}

// PokeBits atomically sets (set == true) or clears mask at addr without
// counting the write or running hooks.
func (m *Memory) PokeBits(addr Addr, mask uint32, set bool) {
	c := m.cell(addr)
	if set {
		c.value.Or(mask)
	} else {
		c.value.And(^mask)
	}
}

// Writes returns the number of writes performed on addr through the Device
// and BitModifier interfaces.
func (m *Memory) Writes(addr Addr) uint64 {
	return m.cell(addr).writes.Load()
}

// RawDevice hides the BitModifier implementation of a Device, forcing callers
// of SetBits and ClearBits onto the read-modify-write path.
type RawDevice struct {
	Device
}
