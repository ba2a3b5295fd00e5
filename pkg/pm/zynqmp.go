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
	"strconv"

	"gvisor.dev/pmclient/pkg/mmio"
)

// NodeID identifies a node in the platform power-domain topology.
type NodeID uint32

// ZynqMP node ids.
const (
	NodeUnknown NodeID = iota
	NodeAPU
	NodeAPU0
	NodeAPU1
	NodeAPU2
	NodeAPU3
	NodeRPU
	NodeRPU0
	NodeRPU1
	NodePLD
	NodeFPD
)

var nodeNames = map[NodeID]string{
	NodeUnknown: "NODE_UNKNOWN",
	NodeAPU:     "NODE_APU",
	NodeAPU0:    "NODE_APU_0",
	NodeAPU1:    "NODE_APU_1",
	NodeAPU2:    "NODE_APU_2",
	NodeAPU3:    "NODE_APU_3",
	NodeRPU:     "NODE_RPU",
	NodeRPU0:    "NODE_RPU_0",
	NodeRPU1:    "NODE_RPU_1",
	NodePLD:     "NODE_PLD",
	NodeFPD:     "NODE_FPD",
}

func (n NodeID) String() string {
	if s, ok := nodeNames[n]; ok {
		return s
	}
	return fmt.Sprintf("NODE_%d", uint32(n))
}

// ParseNodeID accepts either a node name ("NODE_APU_1") or a number.
func ParseNodeID(s string) (NodeID, error) {
	for id, name := range nodeNames {
		if name == s {
			return id, nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown node %q", s)
	}
	return NodeID(n), nil
}

// ZynqMP register map.
const (
	// IPIBase is the APU channel's IPI register block.
	IPIBase = mmio.Addr(0xff300000)

	// IPITrigOffset and IPIObsOffset locate the trigger and observation
	// registers in an IPI register block.
	IPITrigOffset = 0x0
	IPIObsOffset  = 0x4

	// IPIAPUMask is the APU channel's own bit.
	IPIAPUMask = 0x1

	// IPIPMUPMIntMask is the PMU power-management channel's bit in the
	// APU trigger and observation registers.
	IPIPMUPMIntMask = 0x10000

	// IPIBufferBase is the base of all IPI message buffers; the APU owns
	// the 512-byte block at IPIBufferAPUBase.
	IPIBufferBase    = mmio.Addr(0xff990000)
	IPIBufferAPUBase = IPIBufferBase + 0x400

	// APUPwrCtl is the APU power-control register holding the
	// per-core power-down request bits.
	APUPwrCtl = mmio.Addr(0xfd5c0000 + 0x90)

	// GICCBase is the GICv2 CPU interface.
	GICCBase = mmio.Addr(0xf9020000)
)

// ZynqMPLayout is the ZynqMP message buffer layout for messages to the PMU.
var ZynqMPLayout = BufferLayout{
	TargetOffset: 0x1c0,
	ReqOffset:    0x0,
	RespOffset:   0x20,
	ArgSize:      4,
}

// ZynqMPAPUIPI returns the channel shared by the four APU cores.
func ZynqMPAPUIPI() IPI {
	return IPI{
		LocalMask:  IPIAPUMask,
		TargetMask: IPIPMUPMIntMask,
		Base:       IPIBase,
		TrigOffset: IPITrigOffset,
		ObsOffset:  IPIObsOffset,
		BufferBase: IPIBufferAPUBase,
	}
}

// ZynqMPRegistry returns the registry of the four ZynqMP APU cores. Core i
// owns power-down bit i and all cores share one IPI channel.
func ZynqMPRegistry() *Registry {
	ipi := ZynqMPAPUIPI()
	r, err := NewRegistry(
		Proc{Node: NodeAPU0, PwrdnMask: 1 << 0, IPI: ipi},
		Proc{Node: NodeAPU1, PwrdnMask: 1 << 1, IPI: ipi},
		Proc{Node: NodeAPU2, PwrdnMask: 1 << 2, IPI: ipi},
		Proc{Node: NodeAPU3, PwrdnMask: 1 << 3, IPI: ipi},
	)
	if err != nil {
		panic(fmt.Sprintf("invalid ZynqMP registry: %v", err))
	}
	return r
}
