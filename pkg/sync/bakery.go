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
	"fmt"

	"gvisor.dev/pmclient/pkg/atomicbitops"
)

// Bakery is Lamport's bakery lock for a fixed set of participants.
//
// Each participant is identified by an index in [0, n). Unlike SpinLock, the
// bakery lock grants the lock in ticket order, so no participant starves.
// All state is allocated in NewBakery; Acquire and Release do not allocate.
type Bakery struct {
	choosing []atomicbitops.Bool
	number   []atomicbitops.Uint32
}

// NewBakery returns a bakery lock for n participants.
func NewBakery(n int) *Bakery {
	if n <= 0 {
		panic(fmt.Sprintf("invalid bakery participant count %d", n))
	}
	return &Bakery{
		choosing: make([]atomicbitops.Bool, n),
		number:   make([]atomicbitops.Uint32, n),
	}
}

// Participants returns the number of participants.
func (b *Bakery) Participants() int {
	return len(b.number)
}

// Acquire takes the lock on behalf of participant id.
//
// Preconditions: id is in range and does not already hold the lock.
func (b *Bakery) Acquire(id int) {
	b.check(id)
	if b.number[id].Load() != 0 {
		panic(fmt.Sprintf("bakery participant %d acquired the lock twice", id))
	}

	// Take a ticket one larger than every ticket currently held.
	b.choosing[id].Store(true)
	var max uint32
	for i := range b.number {
		if n := b.number[i].Load(); n > max {
			max = n
		}
	}
	b.number[id].Store(max + 1)
	b.choosing[id].Store(false)

	mine := b.number[id].Load()
	for j := range b.number {
		if j == id {
			continue
		}
		for b.choosing[j].Load() {
			Goyield()
		}
		for {
			n := b.number[j].Load()
			if n == 0 || n > mine || (n == mine && j > id) {
				break
			}
			Goyield()
		}
	}
}

// Release drops the lock held by participant id.
func (b *Bakery) Release(id int) {
	b.check(id)
	if b.number[id].Swap(0) == 0 {
		panic(fmt.Sprintf("bakery participant %d released a lock it does not hold", id))
	}
}

// Participant returns a Locker bound to participant id.
func (b *Bakery) Participant(id int) Locker {
	b.check(id)
	return participant{b: b, id: id}
}

func (b *Bakery) check(id int) {
	if id < 0 || id >= len(b.number) {
		panic(fmt.Sprintf("bakery participant %d out of range [0, %d)", id, len(b.number)))
	}
}

type participant struct {
	b  *Bakery
	id int
}

// Lock implements Locker.Lock.
func (p participant) Lock() {
	p.b.Acquire(p.id)
}

// Unlock implements Locker.Unlock.
func (p participant) Unlock() {
	p.b.Release(p.id)
}
