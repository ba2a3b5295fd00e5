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

// Package bits includes all bit related types and operations.
package bits

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// Word is the set of integer types that hold register values and masks.
type Word interface {
	constraints.Unsigned
}

// IsOn returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn[T Word](mask, bits T) bool {
	return mask&bits == bits
}

// IsAnyOn returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn[T Word](mask, bits T) bool {
	return mask&bits != 0
}

// Mask returns a T with all of the given bits set.
func Mask[T Word](is ...int) T {
	ret := T(0)
	for _, i := range is {
		ret |= MaskOf[T](i)
	}
	return ret
}

// MaskOf is like Mask, but sets only a single bit (more efficiently).
func MaskOf[T Word](i int) T {
	return T(1) << uint(i)
}

// Set returns v with every bit in mask set.
func Set[T Word](v, mask T) T {
	return v | mask
}

// Clear returns v with every bit in mask cleared.
func Clear[T Word](v, mask T) T {
	return v &^ mask
}

// ForEachSetBit32 calls f once for each set bit in x, with argument i equal to
// the set bit's index, in increasing order.
func ForEachSetBit32(x uint32, f func(i int)) {
	for x != 0 {
		i := bits.TrailingZeros32(x)
		f(i)
		x &^= uint32(1) << uint(i)
	}
}

// OnesCount32 returns the number of set bits in x.
func OnesCount32(x uint32) int {
	return bits.OnesCount32(x)
}
