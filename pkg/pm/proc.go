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

package pm

import (
	"fmt"

	"gvisor.dev/pmclient/pkg/bits"
	"gvisor.dev/pmclient/pkg/mmio"
)

// MaxProcs is the capacity of a Registry.
const MaxProcs = 8

// UndefinedCPUID is returned by Registry.CPUID for node ids that are not
// registered.
const UndefinedCPUID = ^uint32(0)

// IPI describes an inter-processor interrupt channel shared by the cores of
// one cluster: its trigger and observation registers and its message buffer.
//
// IPIs are values; processors of a cluster carry equal copies.
type IPI struct {
	// LocalMask is the channel's own bit, through which the PMU interrupts
	// the cluster.
	LocalMask uint32

	// TargetMask is the PMU's bit in the channel's trigger and observation
	// registers. Writing it to the trigger register raises a request; it
	// reads as set in the observation register until the PMU has handled
	// the request.
	TargetMask uint32

	// Base is the address of the channel's register block.
	Base mmio.Addr

	// TrigOffset and ObsOffset locate the trigger and observation
	// registers relative to Base.
	TrigOffset uint64
	ObsOffset  uint64

	// BufferBase is the base of the channel's message buffers.
	BufferBase mmio.Addr
}

// Trig returns the address of the trigger register.
func (i IPI) Trig() mmio.Addr {
	return i.Base.Add(i.TrigOffset)
}

// Obs returns the address of the observation register.
func (i IPI) Obs() mmio.Addr {
	return i.Base.Add(i.ObsOffset)
}

func (i IPI) String() string {
	return fmt.Sprintf("ipi{base=%v, buffer=%v, target=%#x}", i.Base, i.BufferBase, i.TargetMask)
}

// Proc describes one processor of the subsystem.
//
// A Registry holds its own copies of its Procs and hands out copies, so a
// Proc obtained from a lookup can be modified without affecting the Registry.
type Proc struct {
	// Node is the processor's id in the platform power-domain topology.
	Node NodeID

	// PwrdnMask is the processor's bit in the power-control register.
	PwrdnMask uint32

	// IPI is the channel used to talk to the PMU. Cores of a cluster share
	// one channel.
	IPI IPI
}

func (p Proc) String() string {
	return fmt.Sprintf("%v (pwrdn %#x)", p.Node, p.PwrdnMask)
}

// Registry maps local CPU ids to processor descriptors. Entry i describes
// local CPU i and entry 0 is the primary processor.
//
// A Registry is read-only after NewRegistry returns and may be used from any
// goroutine without synchronization.
type Registry struct {
	procs [MaxProcs]Proc
	n     uint32
}

// NewRegistry returns a registry holding procs in local CPU order.
func NewRegistry(procs ...Proc) (*Registry, error) {
	if len(procs) == 0 || len(procs) > MaxProcs {
		return nil, fmt.Errorf("registry needs between 1 and %d processors, got %d", MaxProcs, len(procs))
	}
	r := &Registry{n: uint32(len(procs))}
	var masks uint32
	for i, p := range procs {
		switch {
		case p.IPI.TargetMask == 0:
			return nil, fmt.Errorf("processor %d (%v) has no IPI channel", i, p.Node)
		case p.PwrdnMask == 0:
			return nil, fmt.Errorf("processor %d (%v) has an empty power-down mask", i, p.Node)
		case bits.IsAnyOn(masks, p.PwrdnMask):
			return nil, fmt.Errorf("processor %d (%v) power-down mask %#x overlaps another processor", i, p.Node, p.PwrdnMask)
		}
		for j := 0; j < i; j++ {
			if procs[j].Node == p.Node {
				return nil, fmt.Errorf("processors %d and %d share node id %v", j, i, p.Node)
			}
		}
		masks = bits.Set(masks, p.PwrdnMask)
		r.procs[i] = p
	}
	return r, nil
}

// Len returns the number of processors.
func (r *Registry) Len() int {
	return int(r.n)
}

// Proc returns the processor with local CPU id cpuid.
func (r *Registry) Proc(cpuid uint32) (Proc, bool) {
	if cpuid < r.n {
		return r.procs[cpuid], true
	}
	return Proc{}, false
}

// ProcByNode returns the processor with node id nid.
func (r *Registry) ProcByNode(nid NodeID) (Proc, bool) {
	for i := uint32(0); i < r.n; i++ {
		if r.procs[i].Node == nid {
			return r.procs[i], true
		}
	}
	return Proc{}, false
}

// CPUID returns the local CPU id of node nid, or UndefinedCPUID.
func (r *Registry) CPUID(nid NodeID) uint32 {
	for i := uint32(0); i < r.n; i++ {
		if r.procs[i].Node == nid {
			return i
		}
	}
	return UndefinedCPUID
}

// Primary returns the primary processor, on whose behalf operations on the
// current core act.
func (r *Registry) Primary() Proc {
	return r.procs[0]
}

// ForEach calls fn for every processor in local CPU order.
func (r *Registry) ForEach(fn func(cpuid uint32, p Proc)) {
	for i := uint32(0); i < r.n; i++ {
		fn(i, r.procs[i])
	}
}
