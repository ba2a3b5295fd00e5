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
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/pmclient/pmctl/cmd/util"
	"gvisor.dev/pmclient/pmctl/config"
)

// Platform implements subcommands.Command for the "platform" command.
type Platform struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Platform) Name() string {
	return "platform"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Platform) Synopsis() string {
	return "print the platform description in use"
}

// Usage implements subcommands.Command.Usage.
func (*Platform) Usage() string {
	return `platform [flags] - print the platform description in use.

The output can be edited and passed back with --platform.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Platform) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.format, "format", "toml", "output format: toml (default), yaml.")
}

// Execute implements subcommands.Command.Execute.
func (p *Platform) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	plat, err := conf.LoadPlatform()
	if err != nil {
		return util.Errorf("%v", err)
	}
	if err := plat.Write(os.Stdout, p.format); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}
