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

package bits

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMaskOf(t *testing.T) {
	for i := 0; i < 32; i++ {
		if got, want := MaskOf[uint32](i), uint32(1)<<uint(i); got != want {
			t.Errorf("MaskOf(%d): got %#x, wanted %#x", i, got, want)
		}
	}
}

func TestIsOn(t *testing.T) {
	for _, tc := range []struct {
		mask, bits uint32
		all, any   bool
	}{
		{mask: 0x0, bits: 0x1, all: false, any: false},
		{mask: 0xf, bits: 0x1, all: true, any: true},
		{mask: 0x5, bits: 0x3, all: false, any: true},
		{mask: 0xf, bits: 0x0, all: true, any: false},
	} {
		if got := IsOn(tc.mask, tc.bits); got != tc.all {
			t.Errorf("IsOn(%#x, %#x): got %v, wanted %v", tc.mask, tc.bits, got, tc.all)
		}
		if got := IsAnyOn(tc.mask, tc.bits); got != tc.any {
			t.Errorf("IsAnyOn(%#x, %#x): got %v, wanted %v", tc.mask, tc.bits, got, tc.any)
		}
	}
}

func TestSetClear(t *testing.T) {
	v := Set(uint32(0x1), Mask[uint32](1, 3))
	if v != 0xb {
		t.Fatalf("Set: got %#x, wanted %#x", v, 0xb)
	}
	if v = Clear(v, MaskOf[uint32](0)); v != 0xa {
		t.Errorf("Clear: got %#x, wanted %#x", v, 0xa)
	}
	// Clearing an already clear bit is a no-op.
	if v = Clear(v, MaskOf[uint32](0)); v != 0xa {
		t.Errorf("Clear twice: got %#x, wanted %#x", v, 0xa)
	}
}

func TestForEachSetBit32(t *testing.T) {
	for _, want := range [][]int{
		{},
		{0},
		{1},
		{31},
		{0, 1},
		{1, 3, 5},
		{0, 31},
	} {
		n := Mask[uint32](want...)
		got := []int{}
		ForEachSetBit32(n, func(i int) {
			got = append(got, i)
		})
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("ForEachSetBit32(%#x) mismatch (-want +got):\n%s", n, diff)
		}
		if c := OnesCount32(n); c != len(want) {
			t.Errorf("OnesCount32(%#x): got %d, wanted %d", n, c, len(want))
		}
	}
}
