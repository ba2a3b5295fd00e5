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

// Package config provides basic infrastructure to set configuration settings
// for pmctl. Each setting that can be changed from the command line is a
// field of Config with a `flag` tag naming the flag that populates it.
package config

import (
	"fmt"
	"reflect"
	"time"

	"gvisor.dev/pmclient/pkg/log"
)

// Backend selects the register space the commands operate on.
type Backend int

const (
	// BackendSim uses a simulated register space served by a simulated
	// PMU.
	BackendSim Backend = iota

	// BackendDevMem maps the physical registers through a memory device.
	BackendDevMem
)

func backendPtr(v Backend) *Backend {
	return &v
}

// Set implements flag.Value.
func (b *Backend) Set(v string) error {
	switch v {
	case "sim":
		*b = BackendSim
	case "devmem":
		*b = BackendDevMem
	default:
		return fmt.Errorf("invalid backend %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (b *Backend) Get() any {
	return *b
}

// String implements flag.Value.
func (b Backend) String() string {
	switch b {
	case BackendSim:
		return "sim"
	case BackendDevMem:
		return "devmem"
	default:
		panic(fmt.Sprintf("Invalid backend %d", b))
	}
}

// LockType selects the cross-core mailbox lock.
type LockType int

const (
	// LockSpin is a test-and-set spin lock.
	LockSpin LockType = iota

	// LockBakery is a Lamport bakery lock with one slot per processor.
	LockBakery
)

func lockTypePtr(v LockType) *LockType {
	return &v
}

// Set implements flag.Value.
func (l *LockType) Set(v string) error {
	switch v {
	case "spin":
		*l = LockSpin
	case "bakery":
		*l = LockBakery
	default:
		return fmt.Errorf("invalid lock %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (l *LockType) Get() any {
	return *l
}

// String implements flag.Value.
func (l LockType) String() string {
	switch l {
	case LockSpin:
		return "spin"
	case LockBakery:
		return "bakery"
	default:
		panic(fmt.Sprintf("Invalid lock type %d", l))
	}
}

// Config holds configuration that is not part of the platform description.
type Config struct {
	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: text, json or logrus.
	LogFormat string `flag:"log-format"`

	// Backend is the register space to operate on.
	Backend Backend `flag:"backend"`

	// DevMemPath is the memory device mapped by the devmem backend.
	DevMemPath string `flag:"devmem"`

	// HostLockPath is a file locked for the lifetime of a devmem command, so
	// that pmctl processes on the same host do not drive the mailbox at the
	// same time.
	HostLockPath string `flag:"host-lock"`

	// Lock is the cross-core mailbox lock.
	Lock LockType `flag:"lock"`

	// WaitTimeout bounds the wait for the PMU. Zero waits forever.
	WaitTimeout time.Duration `flag:"wait-timeout"`

	// Platform is the path of a platform description file. Empty selects
	// the built-in ZynqMP description.
	Platform string `flag:"platform"`

	// PMULatency delays every response of the simulated PMU.
	PMULatency time.Duration `flag:"pmu-latency"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "logrus":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'logrus'", c.LogFormat)
	}
	if c.WaitTimeout < 0 {
		return fmt.Errorf("wait timeout must not be negative, got %v", c.WaitTimeout)
	}
	if c.PMULatency < 0 {
		return fmt.Errorf("PMU latency must not be negative, got %v", c.PMULatency)
	}
	if c.Backend == BackendDevMem && (c.DevMemPath == "" || c.HostLockPath == "") {
		return fmt.Errorf("devmem backend requires --devmem and --host-lock")
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if name, ok := f.Tag.Lookup("flag"); ok {
			log.Infof("\t%s: %s", name, getVal(obj.Field(i)))
		}
	}
}
