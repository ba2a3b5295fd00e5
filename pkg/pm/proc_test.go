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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestZynqMPRegistry(t *testing.T) {
	r := ZynqMPRegistry()
	if got, want := r.Len(), 4; got != want {
		t.Fatalf("Len got %d, want %d", got, want)
	}
	want := []NodeID{NodeAPU0, NodeAPU1, NodeAPU2, NodeAPU3}
	for i, nid := range want {
		p, ok := r.Proc(uint32(i))
		if !ok {
			t.Fatalf("Proc(%d) not found", i)
		}
		if p.Node != nid {
			t.Errorf("Proc(%d).Node got %v, want %v", i, p.Node, nid)
		}
		if p.PwrdnMask != 1<<i {
			t.Errorf("Proc(%d).PwrdnMask got %#x, want %#x", i, p.PwrdnMask, 1<<i)
		}
	}
	if r.Primary().Node != NodeAPU0 {
		t.Errorf("Primary got %v, want %v", r.Primary().Node, NodeAPU0)
	}

	// All cores share the channel.
	p0, _ := r.Proc(0)
	r.ForEach(func(cpuid uint32, p Proc) {
		if p.IPI != p0.IPI {
			t.Errorf("CPU %d uses channel %v, want shared %v", cpuid, p.IPI, p0.IPI)
		}
	})
}

func TestProcOutOfRange(t *testing.T) {
	r := ZynqMPRegistry()
	for _, cpuid := range []uint32{4, 5, MaxProcs, UndefinedCPUID} {
		if p, ok := r.Proc(cpuid); ok || p != (Proc{}) {
			t.Errorf("Proc(%d) got (%v, %v), want zero Proc and false", cpuid, p, ok)
		}
	}
}

func TestLookupsAreInverse(t *testing.T) {
	r := ZynqMPRegistry()
	r.ForEach(func(cpuid uint32, p Proc) {
		if got := r.CPUID(p.Node); got != cpuid {
			t.Errorf("CPUID(%v) got %d, want %d", p.Node, got, cpuid)
		}
		byNode, ok := r.ProcByNode(p.Node)
		if !ok || byNode != p {
			t.Errorf("ProcByNode(%v) got (%v, %v), want (%v, true)", p.Node, byNode, ok, p)
		}
		byIndex, _ := r.Proc(r.CPUID(p.Node))
		if byIndex != p {
			t.Errorf("Proc(CPUID(%v)) got %v, want %v", p.Node, byIndex, p)
		}
	})

	for _, nid := range []NodeID{NodeUnknown, NodeAPU, NodeRPU0, NodeID(1000)} {
		if p, ok := r.ProcByNode(nid); ok || p != (Proc{}) {
			t.Errorf("ProcByNode(%v) got (%v, %v), want zero Proc and false", nid, p, ok)
		}
		if got := r.CPUID(nid); got != UndefinedCPUID {
			t.Errorf("CPUID(%v) got %d, want UndefinedCPUID", nid, got)
		}
	}
}

func TestNewRegistryErrors(t *testing.T) {
	ipi := ZynqMPAPUIPI()
	tooMany := make([]Proc, MaxProcs+1)
	for i := range tooMany {
		tooMany[i] = Proc{Node: NodeID(100 + i), PwrdnMask: 1 << i, IPI: ipi}
	}
	for _, tc := range []struct {
		name  string
		procs []Proc
		want  string
	}{
		{name: "empty", procs: nil, want: "between 1 and"},
		{name: "too many", procs: tooMany, want: "between 1 and"},
		{name: "no channel", procs: []Proc{{Node: NodeAPU0, PwrdnMask: 1}}, want: "no IPI channel"},
		{name: "no mask", procs: []Proc{{Node: NodeAPU0, IPI: ipi}}, want: "empty power-down mask"},
		{
			name: "duplicate node",
			procs: []Proc{
				{Node: NodeAPU0, PwrdnMask: 1, IPI: ipi},
				{Node: NodeAPU0, PwrdnMask: 2, IPI: ipi},
			},
			want: "share node id",
		},
		{
			name: "overlapping masks",
			procs: []Proc{
				{Node: NodeAPU0, PwrdnMask: 3, IPI: ipi},
				{Node: NodeAPU1, PwrdnMask: 2, IPI: ipi},
			},
			want: "overlaps",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(tc.procs...)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("NewRegistry got err %v, want one containing %q", err, tc.want)
			}
		})
	}
}

func TestRegistryCopiesDescriptors(t *testing.T) {
	ipi := ZynqMPAPUIPI()
	procs := []Proc{{Node: NodeAPU0, PwrdnMask: 1, IPI: ipi}}
	r, err := NewRegistry(procs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	procs[0].PwrdnMask = 0x80
	p, _ := r.Proc(0)
	if diff := cmp.Diff(Proc{Node: NodeAPU0, PwrdnMask: 1, IPI: ipi}, p); diff != "" {
		t.Errorf("registry entry changed with caller's slice (-want +got):\n%s", diff)
	}
}

func TestLookupsReturnCopies(t *testing.T) {
	r := ZynqMPRegistry()
	want, _ := r.Proc(1)

	p, _ := r.Proc(1)
	p.Node = NodeRPU0
	p.PwrdnMask = 0
	p.IPI.TargetMask = 0
	byNode, _ := r.ProcByNode(NodeAPU2)
	byNode.IPI.BufferBase = 0
	primary := r.Primary()
	primary.PwrdnMask = 1 << 3
	r.ForEach(func(_ uint32, p Proc) {
		p.IPI.Base = 0
	})

	got, _ := r.Proc(1)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("registry entry changed through a lookup result (-want +got):\n%s", diff)
	}
	if cpuid := r.CPUID(NodeAPU1); cpuid != 1 {
		t.Errorf("CPUID(%v) got %#x, want 1", NodeAPU1, cpuid)
	}
	if got := r.Primary().PwrdnMask; got != 1<<0 {
		t.Errorf("Primary().PwrdnMask got %#x, want %#x", got, 1<<0)
	}
	r.ForEach(func(cpuid uint32, p Proc) {
		if diff := cmp.Diff(ZynqMPAPUIPI(), p.IPI); diff != "" {
			t.Errorf("CPU %d channel changed through a lookup result (-want +got):\n%s", cpuid, diff)
		}
	})
}

func TestNodeIDString(t *testing.T) {
	for nid, want := range map[NodeID]string{
		NodeAPU:      "NODE_APU",
		NodeAPU3:     "NODE_APU_3",
		NodeID(4242): "NODE_4242",
	} {
		if got := nid.String(); got != want {
			t.Errorf("NodeID(%d).String() = %q, want %q", uint32(nid), got, want)
		}
	}
}

func TestParseNodeID(t *testing.T) {
	for in, want := range map[string]NodeID{
		"NODE_APU_2": NodeAPU2,
		"3":          NodeAPU1,
		"0x6":        NodeRPU,
	} {
		got, err := ParseNodeID(in)
		if err != nil || got != want {
			t.Errorf("ParseNodeID(%q) got (%v, %v), want (%v, nil)", in, got, err, want)
		}
	}
	if _, err := ParseNodeID("NODE_GPU"); err == nil {
		t.Errorf("ParseNodeID(NODE_GPU) succeeded")
	}
}
