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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/pmclient/pkg/pm"
	"gvisor.dev/pmclient/pmctl/cmd/util"
	"gvisor.dev/pmclient/pmctl/config"
)

// powerFlags are the flags shared by the power transition commands.
type powerFlags struct {
	cpu    uint
	notify bool
}

func (pf *powerFlags) setFlags(f *flag.FlagSet, notifyHelp string) {
	f.UintVar(&pf.cpu, "cpu", 0, "local CPU id of the core running the command.")
	f.BoolVar(&pf.notify, "notify", true, notifyHelp)
}

// notifyPMU sends api with args on behalf of c and fails on a non-success
// status.
func notifyPMU(ctx context.Context, e *env, c *pm.Client, api pm.APIID, args ...uint32) error {
	payload, err := pm.NewPayload(api, args...)
	if err != nil {
		return err
	}
	p, err := e.proc(c.CPU())
	if err != nil {
		return err
	}
	status, err := c.SendReceive(ctx, p, payload, nil)
	if err != nil {
		return fmt.Errorf("sending %v: %w", api, err)
	}
	return status.Err()
}

func printState(e *env) {
	e.sys.Registry().ForEach(func(cpuid uint32, p pm.Proc) {
		fmt.Fprintf(os.Stdout, "CPU %d %v: %v\n", cpuid, p.Node, e.sys.State(p))
	})
}

// Suspend implements subcommands.Command for the "suspend" command.
type Suspend struct {
	powerFlags
}

// Name implements subcommands.Command.Name.
func (*Suspend) Name() string {
	return "suspend"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Suspend) Synopsis() string {
	return "request power-down of the current core"
}

// Usage implements subcommands.Command.Usage.
func (*Suspend) Usage() string {
	return `suspend [flags] - deactivate the core's interrupts and set its power-down bit.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Suspend) SetFlags(f *flag.FlagSet) {
	s.setFlags(f, "send PM_SELF_SUSPEND to the PMU afterwards.")
}

// Execute implements subcommands.Command.Execute.
func (s *Suspend) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	e, err := newEnv(ctx, conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer e.Close()
	c, err := e.client(uint32(s.cpu))
	if err != nil {
		return util.Errorf("%v", err)
	}
	p, err := e.proc(c.CPU())
	if err != nil {
		return util.Errorf("%v", err)
	}

	c.Suspend(p)
	if s.notify {
		if err := notifyPMU(ctx, e, c, pm.APISelfSuspend, uint32(p.Node)); err != nil {
			return util.Errorf("%v", err)
		}
	}
	printState(e)
	return subcommands.ExitSuccess
}

// AbortSuspend implements subcommands.Command for the "abort-suspend"
// command.
type AbortSuspend struct {
	powerFlags
}

// Name implements subcommands.Command.Name.
func (*AbortSuspend) Name() string {
	return "abort-suspend"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*AbortSuspend) Synopsis() string {
	return "cancel a pending power-down of the primary processor"
}

// Usage implements subcommands.Command.Usage.
func (*AbortSuspend) Usage() string {
	return `abort-suspend [flags] - reactivate the core's interrupts and clear the primary's power-down bit.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (a *AbortSuspend) SetFlags(f *flag.FlagSet) {
	a.setFlags(f, "send PM_ABORT_SUSPEND to the PMU afterwards.")
}

// Execute implements subcommands.Command.Execute.
func (a *AbortSuspend) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	e, err := newEnv(ctx, conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer e.Close()
	c, err := e.client(uint32(a.cpu))
	if err != nil {
		return util.Errorf("%v", err)
	}

	c.AbortSuspend()
	if a.notify {
		const abortReasonWakeup = 0
		if err := notifyPMU(ctx, e, c, pm.APIAbortSuspend, abortReasonWakeup, uint32(c.Registry().Primary().Node)); err != nil {
			return util.Errorf("%v", err)
		}
	}
	printState(e)
	return subcommands.ExitSuccess
}

// Wakeup implements subcommands.Command for the "wakeup" command.
type Wakeup struct {
	powerFlags
}

// Name implements subcommands.Command.Name.
func (*Wakeup) Name() string {
	return "wakeup"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Wakeup) Synopsis() string {
	return "clear the power-down request of another processor"
}

// Usage implements subcommands.Command.Usage.
func (*Wakeup) Usage() string {
	return `wakeup [flags] <node> - clear the power-down bit of <node>.

<node> is a node name (e.g. NODE_APU_1) or number. Nodes that are not in the
subsystem are ignored.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (w *Wakeup) SetFlags(f *flag.FlagSet) {
	w.setFlags(f, "send PM_REQ_WAKEUP to the PMU afterwards.")
}

// Execute implements subcommands.Command.Execute.
func (w *Wakeup) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	nid, err := pm.ParseNodeID(f.Arg(0))
	if err != nil {
		return util.Errorf("%v", err)
	}
	e, err := newEnv(ctx, conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer e.Close()
	c, err := e.client(uint32(w.cpu))
	if err != nil {
		return util.Errorf("%v", err)
	}

	target, ok := e.sys.Registry().ProcByNode(nid)
	if !ok {
		target = pm.Proc{Node: nid}
	}
	c.Wakeup(target)
	if w.notify && ok {
		if err := notifyPMU(ctx, e, c, pm.APIReqWakeup, uint32(nid)); err != nil {
			return util.Errorf("%v", err)
		}
	}
	printState(e)
	return subcommands.ExitSuccess
}
