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
	"testing"

	"golang.org/x/sync/errgroup"
)

const reg = Addr(0xfd5c0090)

func TestMemoryReadWrite(t *testing.T) {
	m := NewMemory()
	if got := m.Read32(reg); got != 0 {
		t.Fatalf("fresh register got %#x, want 0", got)
	}
	m.Write32(reg, 0xdeadbeef)
	if got := m.Read32(reg); got != 0xdeadbeef {
		t.Errorf("Read32 got %#x, want %#x", got, 0xdeadbeef)
	}
	if got := m.Writes(reg); got != 1 {
		t.Errorf("Writes got %d, want 1", got)
	}
}

func TestMemoryUnaligned(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("unaligned access did not panic")
		}
	}()
	NewMemory().Read32(reg + 2)
}

func TestSetClearBits(t *testing.T) {
	for _, tc := range []struct {
		name string
		dev  func(m *Memory) Device
	}{
		{name: "atomic", dev: func(m *Memory) Device { return m }},
		{name: "read-modify-write", dev: func(m *Memory) Device { return RawDevice{m} }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMemory()
			d := tc.dev(m)
			SetBits(d, reg, 0x2)
			SetBits(d, reg, 0x8)
			if got := m.Read32(reg); got != 0xa {
				t.Errorf("after SetBits got %#x, want %#x", got, 0xa)
			}
			ClearBits(d, reg, 0x2)
			ClearBits(d, reg, 0x2)
			if got := m.Read32(reg); got != 0x8 {
				t.Errorf("after ClearBits got %#x, want %#x", got, 0x8)
			}
		})
	}
}

func TestConcurrentSetBits(t *testing.T) {
	m := NewMemory()
	var g errgroup.Group
	for bit := 0; bit < 32; bit++ {
		mask := uint32(1) << bit
		g.Go(func() error {
			for i := 0; i < 100; i++ {
				SetBits(m, reg, mask)
				ClearBits(m, reg, mask)
			}
			SetBits(m, reg, mask)
			return nil
		})
	}
	g.Wait()
	if got := m.Read32(reg); got != 0xffffffff {
		t.Errorf("got %#x, want all bits set", got)
	}
}

func TestWriteHook(t *testing.T) {
	m := NewMemory()
	type call struct {
		value, written uint32
	}
	var calls []call
	m.OnWrite(reg, func(_ Addr, value, written uint32) {
		calls = append(calls, call{value, written})
	})
	m.Write32(reg, 0x1)
	m.SetBits32(reg, 0x4)
	m.ClearBits32(reg, 0x1)
	m.Poke(reg, 0xff)

	want := []call{{0x1, 0x1}, {0x5, 0x4}, {0x4, 0x1}}
	if len(calls) != len(want) {
		t.Fatalf("got %d hook calls %v, want %v", len(calls), calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d got %+v, want %+v", i, calls[i], want[i])
		}
	}
	if got := m.Writes(reg); got != 3 {
		t.Errorf("Writes got %d, want 3", got)
	}
}
