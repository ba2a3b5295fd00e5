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
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/pmclient/pkg/bits"
	"gvisor.dev/pmclient/pkg/pm"
	"gvisor.dev/pmclient/pmctl/cmd/util"
	"gvisor.dev/pmclient/pmctl/config"
)

// Procs implements subcommands.Command for the "procs" command.
type Procs struct{}

// Name implements subcommands.Command.Name.
func (*Procs) Name() string {
	return "procs"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Procs) Synopsis() string {
	return "list the processors of the subsystem and their power state"
}

// Usage implements subcommands.Command.Usage.
func (*Procs) Usage() string {
	return `procs - list the processors of the subsystem and their power state
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Procs) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Procs) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "CPU\tNODE\tPWRDN\tSTATE\tIPI\n")
	e.sys.Registry().ForEach(func(cpuid uint32, p pm.Proc) {
		fmt.Fprintf(w, "%d\t%v\t%#x\t%v\t%v\n", cpuid, p.Node, p.PwrdnMask, e.sys.State(p), p.IPI)
	})
	w.Flush()

	pwrctl := e.regs.Read32(e.sys.PwrCtl())
	var set []int
	bits.ForEachSetBit32(pwrctl, func(i int) {
		set = append(set, i)
	})
	fmt.Fprintf(os.Stdout, "power control %v = %#x, %d bits set %v\n", e.sys.PwrCtl(), pwrctl, bits.OnesCount32(pwrctl), set)
	return subcommands.ExitSuccess
}
