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

package sync

import (
	"runtime"

	"gvisor.dev/pmclient/pkg/atomicbitops"
)

// Goyield gives up the processor while spinning. Spinning goroutines stand in
// for cores, so they must let the goroutine they wait on make progress.
func Goyield() {
	runtime.Gosched()
}

// SpinLock is a test-and-set lock. Waiters never block in the scheduler;
// they spin and yield until the lock is free.
//
// The zero value is an unlocked SpinLock.
type SpinLock struct {
	state atomicbitops.Uint32
}

// Lock acquires the lock.
func (l *SpinLock) Lock() {
	for !l.state.CompareAndSwap(0, 1) {
		for l.state.Load() != 0 {
			Goyield()
		}
	}
}

// TryLock acquires the lock if it is free and reports whether it did.
func (l *SpinLock) TryLock() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Unlock releases the lock. It panics if the lock is not held.
func (l *SpinLock) Unlock() {
	if l.state.Swap(0) != 1 {
		panic("Unlock of unlocked SpinLock")
	}
}

// Acquire implements a per-CPU lock interface. The identity of the caller is
// not needed by a SpinLock.
func (l *SpinLock) Acquire(int) {
	l.Lock()
}

// Release implements a per-CPU lock interface.
func (l *SpinLock) Release(int) {
	l.Unlock()
}
