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

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"gvisor.dev/pmclient/pkg/mmio"
	"gvisor.dev/pmclient/pkg/pm"
)

// Platform describes the processors of a subsystem and the registers through
// which they reach the PMU. Addresses are physical.
type Platform struct {
	// Name is informational.
	Name string `toml:"name" yaml:"name"`

	// Node is the node id of the subsystem as a whole.
	Node uint32 `toml:"node" yaml:"node"`

	// PwrCtl is the power-control register.
	PwrCtl uint64 `toml:"pwrctl" yaml:"pwrctl"`

	// GICC is the GICv2 CPU interface.
	GICC uint64 `toml:"gicc" yaml:"gicc"`

	// IPI is the channel shared by all processors.
	IPI IPIConfig `toml:"ipi" yaml:"ipi"`

	// Layout is the message buffer layout.
	Layout LayoutConfig `toml:"layout" yaml:"layout"`

	// Procs lists the processors in local CPU order. The first one is the
	// primary.
	Procs []ProcConfig `toml:"proc" yaml:"procs"`
}

// IPIConfig describes an IPI channel.
type IPIConfig struct {
	LocalMask  uint32 `toml:"local_mask" yaml:"local_mask"`
	TargetMask uint32 `toml:"target_mask" yaml:"target_mask"`
	Base       uint64 `toml:"base" yaml:"base"`
	TrigOffset uint64 `toml:"trig_offset" yaml:"trig_offset"`
	ObsOffset  uint64 `toml:"obs_offset" yaml:"obs_offset"`
	BufferBase uint64 `toml:"buffer_base" yaml:"buffer_base"`
}

// LayoutConfig describes a message buffer layout.
type LayoutConfig struct {
	TargetOffset uint64 `toml:"target_offset" yaml:"target_offset"`
	ReqOffset    uint64 `toml:"req_offset" yaml:"req_offset"`
	RespOffset   uint64 `toml:"resp_offset" yaml:"resp_offset"`
	ArgSize      uint64 `toml:"arg_size" yaml:"arg_size"`
}

// ProcConfig describes one processor.
type ProcConfig struct {
	Node      uint32 `toml:"node" yaml:"node"`
	PwrdnMask uint32 `toml:"pwrdn_mask" yaml:"pwrdn_mask"`
}

// DefaultPlatform returns the description of the ZynqMP APU.
func DefaultPlatform() *Platform {
	ipi := pm.ZynqMPAPUIPI()
	p := &Platform{
		Name:   "zynqmp",
		Node:   uint32(pm.NodeAPU),
		PwrCtl: uint64(pm.APUPwrCtl),
		GICC:   uint64(pm.GICCBase),
		IPI: IPIConfig{
			LocalMask:  ipi.LocalMask,
			TargetMask: ipi.TargetMask,
			Base:       uint64(ipi.Base),
			TrigOffset: ipi.TrigOffset,
			ObsOffset:  ipi.ObsOffset,
			BufferBase: uint64(ipi.BufferBase),
		},
		Layout: LayoutConfig(pm.ZynqMPLayout),
	}
	pm.ZynqMPRegistry().ForEach(func(_ uint32, proc pm.Proc) {
		p.Procs = append(p.Procs, ProcConfig{Node: uint32(proc.Node), PwrdnMask: proc.PwrdnMask})
	})
	return p
}

// LoadPlatform reads a platform description. The format is chosen by the
// file extension: .toml, or .yaml and .yml. Unknown keys are rejected.
func LoadPlatform(path string) (*Platform, error) {
	var p Platform
	switch ext := filepath.Ext(path); ext {
	case ".toml":
		md, err := toml.DecodeFile(path, &p)
		if err != nil {
			return nil, fmt.Errorf("error reading platform %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in platform %q: %v", path, undecoded)
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("error reading platform %q: %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("error reading platform %q: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("platform %q: unknown format %q, want .toml, .yaml or .yml", path, ext)
	}
	if _, err := p.SubsystemArgs(); err != nil {
		return nil, fmt.Errorf("invalid platform %q: %w", path, err)
	}
	return &p, nil
}

// Write encodes p to w in format, "toml" or "yaml".
func (p *Platform) Write(w io.Writer, format string) error {
	switch format {
	case "toml":
		return toml.NewEncoder(w).Encode(p)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown platform format %q", format)
	}
}

// Channel returns the IPI channel of the platform.
func (p *Platform) Channel() pm.IPI {
	return pm.IPI{
		LocalMask:  p.IPI.LocalMask,
		TargetMask: p.IPI.TargetMask,
		Base:       mmio.Addr(p.IPI.Base),
		TrigOffset: p.IPI.TrigOffset,
		ObsOffset:  p.IPI.ObsOffset,
		BufferBase: mmio.Addr(p.IPI.BufferBase),
	}
}

// SubsystemArgs returns the platform part of the arguments to
// pm.NewSubsystem. The caller provides the registers, lock and waiter.
func (p *Platform) SubsystemArgs() (pm.SubsystemArgs, error) {
	ipi := p.Channel()
	if ipi.TargetMask == 0 {
		return pm.SubsystemArgs{}, fmt.Errorf("IPI channel has no target mask")
	}
	if !ipi.Trig().Aligned() || !ipi.Obs().Aligned() {
		return pm.SubsystemArgs{}, fmt.Errorf("IPI registers of %v are not 32-bit aligned", ipi)
	}
	procs := make([]pm.Proc, 0, len(p.Procs))
	for _, pc := range p.Procs {
		procs = append(procs, pm.Proc{Node: pm.NodeID(pc.Node), PwrdnMask: pc.PwrdnMask, IPI: ipi})
	}
	registry, err := pm.NewRegistry(procs...)
	if err != nil {
		return pm.SubsystemArgs{}, err
	}
	layout := pm.BufferLayout(p.Layout)
	return pm.SubsystemArgs{
		Node:     pm.NodeID(p.Node),
		Registry: registry,
		Layout:   &layout,
		PwrCtl:   mmio.Addr(p.PwrCtl),
	}, nil
}

// LoadPlatform returns the platform selected by c.
func (c *Config) LoadPlatform() (*Platform, error) {
	if c.Platform == "" {
		return DefaultPlatform(), nil
	}
	return LoadPlatform(c.Platform)
}
