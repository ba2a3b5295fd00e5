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

// Package cmd holds implementations of the pmctl commands.
package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"gvisor.dev/pmclient/pkg/cleanup"
	"gvisor.dev/pmclient/pkg/gic"
	"gvisor.dev/pmclient/pkg/log"
	"gvisor.dev/pmclient/pkg/mmio"
	"gvisor.dev/pmclient/pkg/pm"
	"gvisor.dev/pmclient/pkg/pmusim"
	"gvisor.dev/pmclient/pkg/sync"
	"gvisor.dev/pmclient/pmctl/config"
)

// env is the subsystem a command operates on, with the register space
// backing it.
type env struct {
	conf *config.Config
	plat *config.Platform
	sys  *pm.Subsystem
	regs mmio.Device

	// mem and pmu are set for the sim backend.
	mem *mmio.Memory
	pmu *pmusim.PMU

	// dev and hostLock are set for the devmem backend.
	dev      *mmio.DevMem
	hostLock *flock.Flock

	// release undoes newEnv. It runs at most once.
	release func()
}

// newEnv builds the subsystem described by conf. The simulated PMU, if any,
// runs until ctx is done or Close is called.
func newEnv(ctx context.Context, conf *config.Config) (*env, error) {
	plat, err := conf.LoadPlatform()
	if err != nil {
		return nil, err
	}
	args, err := plat.SubsystemArgs()
	if err != nil {
		return nil, err
	}
	e := &env{conf: conf, plat: plat}
	var cu cleanup.Cleanup
	defer cu.Clean()

	switch conf.Backend {
	case config.BackendSim:
		e.mem = mmio.NewMemory()
		e.regs = e.mem
		e.pmu, err = pmusim.New(pmusim.Args{
			Regs:    e.mem,
			IPI:     args.Registry.Primary().IPI,
			Layout:  *args.Layout,
			Latency: conf.PMULatency,
		})
		if err != nil {
			return nil, err
		}
		e.pmu.Start(ctx)
		cu.Add(e.pmu.Stop)
	case config.BackendDevMem:
		e.hostLock, err = lockHost(conf.HostLockPath)
		if err != nil {
			return nil, err
		}
		cu.Add(func() {
			if err := e.hostLock.Unlock(); err != nil {
				log.Warningf("Error unlocking %s: %v", conf.HostLockPath, err)
			}
		})
		e.dev, err = mmio.OpenDevMem(conf.DevMemPath)
		if err != nil {
			return nil, err
		}
		cu.Add(func() {
			if err := e.dev.Close(); err != nil {
				log.Warningf("Error closing %s: %v", conf.DevMemPath, err)
			}
		})
		e.regs = e.dev
	default:
		return nil, fmt.Errorf("unsupported backend %v", conf.Backend)
	}

	args.Regs = e.regs
	args.Lock = newLock(conf.Lock, args.Registry.Len())
	args.Waiter = newWaiter(conf.WaitTimeout)
	e.sys, err = pm.NewSubsystem(args)
	if err != nil {
		return nil, err
	}
	e.release = sync.OnceFunc(cu.Release())
	log.Infof("Platform %q: %d processors, backend %v, lock %v", plat.Name, args.Registry.Len(), conf.Backend, conf.Lock)
	return e, nil
}

func newLock(t config.LockType, n int) pm.Lock {
	if t == config.LockBakery {
		return sync.NewBakery(n)
	}
	return &sync.SpinLock{}
}

func newWaiter(timeout time.Duration) pm.Waiter {
	if timeout == 0 {
		return pm.SpinWaiter{WarnAfter: time.Second}
	}
	return pm.BackoffWaiter{
		InitialInterval: time.Microsecond,
		MaxInterval:     10 * time.Millisecond,
		Timeout:         timeout,
	}
}

// client returns the client for local CPU cpu. With the devmem backend the
// GICv2 CPU interface is the banked one of the core running pmctl.
func (e *env) client(cpu uint32) (*pm.Client, error) {
	var cpuif gic.CPUInterface
	if e.dev != nil {
		cpuif = gic.V2{Regs: e.regs, Base: mmio.Addr(e.plat.GICC)}
	} else {
		cpuif = gic.NewSim(int(cpu))
	}
	return e.sys.NewClient(cpu, cpuif)
}

// proc returns the processor with local CPU id cpu.
func (e *env) proc(cpu uint32) (pm.Proc, error) {
	p, ok := e.sys.Registry().Proc(cpu)
	if !ok {
		return pm.Proc{}, fmt.Errorf("no processor with CPU id %d", cpu)
	}
	return p, nil
}

// lockHost takes the host-wide lock at path, creating the file if needed.
// It blocks while another process holds the lock.
func lockHost(path string) (*flock.Flock, error) {
	l := flock.New(path)
	if err := l.Lock(); err != nil {
		return nil, fmt.Errorf("locking %q: %w", path, err)
	}
	log.Debugf("Host lock %q acquired", path)
	return l, nil
}

// Close releases the register space and stops the simulated PMU. It may be
// called more than once.
func (e *env) Close() {
	e.release()
}

// parseWords parses payload arguments. Numbers may be decimal or prefixed
// with 0x.
func parseWords(args []string) ([]uint32, error) {
	words := make([]uint32, 0, len(args))
	for _, a := range args {
		w, err := strconv.ParseUint(a, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid payload word %q: %w", a, err)
		}
		words = append(words, uint32(w))
	}
	return words, nil
}
