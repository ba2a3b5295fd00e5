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

// Send implements subcommands.Command for the "send" command.
type Send struct {
	cpu       uint
	noReceive bool
}

// Name implements subcommands.Command.Name.
func (*Send) Name() string {
	return "send"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Send) Synopsis() string {
	return "send a request to the PMU and print its response"
}

// Usage implements subcommands.Command.Usage.
func (*Send) Usage() string {
	return `send [flags] <api> [args...] - send a request to the PMU.

<api> is an API name (e.g. PM_GET_API_VERSION) or number. Up to four
argument words follow.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Send) SetFlags(f *flag.FlagSet) {
	f.UintVar(&s.cpu, "cpu", 0, "local CPU id to send from.")
	f.BoolVar(&s.noReceive, "no-receive", false, "do not wait for the response.")
}

// Execute implements subcommands.Command.Execute.
func (s *Send) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	api, err := pm.ParseAPIID(f.Arg(0))
	if err != nil {
		return util.Errorf("%v", err)
	}
	words, err := parseWords(f.Args()[1:])
	if err != nil {
		return util.Errorf("%v", err)
	}
	payload, err := pm.NewPayload(api, words...)
	if err != nil {
		return util.Errorf("%v", err)
	}

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

	if s.noReceive {
		if err := c.Send(ctx, p, payload); err != nil {
			return util.Errorf("sending %v: %v", api, err)
		}
		return subcommands.ExitSuccess
	}
	var value uint32
	status, err := c.SendReceive(ctx, p, payload, &value)
	if err != nil {
		return util.Errorf("sending %v: %v", api, err)
	}
	fmt.Fprintf(os.Stdout, "%v %#x\n", status, value)
	if err := status.Err(); err != nil {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
