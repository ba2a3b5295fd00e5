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
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/pmclient/pkg/log"
	"gvisor.dev/pmclient/pkg/metric"
	"gvisor.dev/pmclient/pkg/pm"
	"gvisor.dev/pmclient/pmctl/cmd/util"
	"gvisor.dev/pmclient/pmctl/config"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	rounds  int
	metrics bool
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "exercise the mailbox and power-control register from all cores at once"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - run one goroutine per core against the simulated PMU.

Each goroutine repeatedly exchanges PM_GET_NODE_STATUS for its own node and
toggles its own power-down bit. Requires --backend=sim.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.rounds, "rounds", 1000, "number of exchanges per core.")
	f.BoolVar(&s.metrics, "metrics", true, "print metrics when done.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || s.rounds < 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if conf.Backend != config.BackendSim {
		return util.Errorf("stress requires the sim backend, got %v", conf.Backend)
	}

	e, err := newEnv(ctx, conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer e.Close()

	var clients []*pm.Client
	for cpu := 0; cpu < e.sys.Registry().Len(); cpu++ {
		c, err := e.client(uint32(cpu))
		if err != nil {
			return util.Errorf("%v", err)
		}
		clients = append(clients, c)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range clients {
		c := c
		g.Go(func() error {
			return stressCore(gctx, e, c, s.rounds)
		})
	}
	if err := g.Wait(); err != nil {
		return util.Errorf("stress failed: %v", err)
	}
	elapsed := time.Since(start)

	var running int
	e.sys.Registry().ForEach(func(_ uint32, p pm.Proc) {
		if e.sys.State(p) == pm.Running {
			running++
		}
	})
	if running != len(clients) {
		return util.Errorf("%d of %d processors left with a power-down request", len(clients)-running, len(clients))
	}
	if handled, want := len(e.pmu.Requests()), s.rounds*len(clients); handled != want {
		return util.Errorf("PMU handled %d requests, want %d", handled, want)
	}

	util.Infof("%d cores x %d rounds in %v", len(clients), s.rounds, elapsed)
	if s.metrics {
		if err := metric.WritePrometheus(os.Stdout); err != nil {
			return util.Errorf("writing metrics: %v", err)
		}
	}
	return subcommands.ExitSuccess
}

func stressCore(ctx context.Context, e *env, c *pm.Client, rounds int) error {
	p, err := e.proc(c.CPU())
	if err != nil {
		return err
	}
	payload, err := pm.NewPayload(pm.APIGetNodeStatus, uint32(p.Node))
	if err != nil {
		return err
	}
	for i := 0; i < rounds; i++ {
		status, err := c.SendReceive(ctx, p, payload, nil)
		if err != nil {
			return err
		}
		if err := status.Err(); err != nil {
			return fmt.Errorf("CPU %d round %d: %w", c.CPU(), i, err)
		}
		c.Suspend(p)
		if e.sys.State(p) != pm.SuspendRequested {
			return fmt.Errorf("CPU %d round %d: power-down bit lost", c.CPU(), i)
		}
		c.Wakeup(p)
	}
	log.Debugf("CPU %d: %d rounds done", c.CPU(), rounds)
	return nil
}
