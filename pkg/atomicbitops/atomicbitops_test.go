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

package atomicbitops

import (
	"runtime"
	"testing"

	"golang.org/x/sync/errgroup"
)

const iterations = 100

func detectRaces32(val, target uint32, fn func(*Uint32, uint32)) bool {
	runtime.GOMAXPROCS(100)
	for n := 0; n < iterations; n++ {
		x := FromUint32(val)
		var g errgroup.Group
		for i := 0; i < 32; i++ {
			i := i
			g.Go(func() error {
				fn(&x, uint32(1)<<i)
				return nil
			})
		}
		g.Wait()
		if x.Load() != target {
			return false
		}
	}
	return true
}

func TestOr(t *testing.T) {
	if !detectRaces32(0x0, 0xffffffff, func(p *Uint32, v uint32) { p.Or(v) }) {
		t.Error("Data race detected!")
	}
}

func TestAnd(t *testing.T) {
	if !detectRaces32(0xffffffff, 0x0, func(p *Uint32, v uint32) { p.And(^v) }) {
		t.Error("Data race detected!")
	}
}

func TestOrReturnsPrevious(t *testing.T) {
	x := FromUint32(0x1)
	if prev := x.Or(0x4); prev != 0x1 {
		t.Errorf("Or returned %#x, want %#x", prev, 0x1)
	}
	if got := x.Load(); got != 0x5 {
		t.Errorf("Load = %#x, want %#x", got, 0x5)
	}
}

func TestBool(t *testing.T) {
	b := FromBool(true)
	if !b.Load() {
		t.Fatalf("FromBool(true).Load() = false")
	}
	if old := b.Swap(false); !old {
		t.Errorf("Swap(false) = %v, want true", old)
	}
	if b.Load() {
		t.Errorf("Load after Swap(false) = true")
	}
	b.Store(true)
	if !b.Load() {
		t.Errorf("Load after Store(true) = false")
	}
}

func TestUint64Add(t *testing.T) {
	var u Uint64
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			for j := 0; j < 1000; j++ {
				u.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	if got := u.Load(); got != 10000 {
		t.Errorf("Load = %d, want 10000", got)
	}
}
