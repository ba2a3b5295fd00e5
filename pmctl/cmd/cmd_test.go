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
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/pmclient/pkg/pm"
	"gvisor.dev/pmclient/pmctl/config"
)

func testConfig(t *testing.T, flags map[string]string) *config.Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(fs)
	for name, val := range flags {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("Flag set %q: %v", name, err)
		}
	}
	conf, err := config.NewFromFlags(fs)
	if err != nil {
		t.Fatal(err)
	}
	return conf
}

func TestParseWords(t *testing.T) {
	got, err := parseWords([]string{"3", "0x10", "0"})
	if err != nil {
		t.Fatalf("parseWords: %v", err)
	}
	if diff := cmp.Diff([]uint32{3, 0x10, 0}, got); diff != "" {
		t.Errorf("words mismatch (-want +got):\n%s", diff)
	}
	if _, err := parseWords([]string{"0x100000000"}); err == nil {
		t.Errorf("parseWords accepted a word wider than 32 bits")
	}
}

func TestEnvSim(t *testing.T) {
	e, err := newEnv(context.Background(), testConfig(t, nil))
	if err != nil {
		t.Fatalf("newEnv: %v", err)
	}
	defer e.Close()

	if got := e.sys.Registry().Len(); got != 4 {
		t.Errorf("registry has %d processors, want 4", got)
	}
	c, err := e.client(2)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	p, err := e.proc(2)
	if err != nil {
		t.Fatalf("proc: %v", err)
	}
	if err := notifyPMU(context.Background(), e, c, pm.APIReqWakeup, uint32(pm.NodeAPU3)); err != nil {
		t.Errorf("notifyPMU: %v", err)
	}
	if err := notifyPMU(context.Background(), e, c, pm.APIID(42)); err == nil {
		t.Errorf("notifyPMU with unknown API succeeded")
	}
	c.Suspend(p)
	if got := e.sys.State(p); got != pm.SuspendRequested {
		t.Errorf("State got %v, want %v", got, pm.SuspendRequested)
	}
	if _, err := e.proc(7); err == nil {
		t.Errorf("proc(7) succeeded")
	}
	if _, err := e.client(4); err == nil {
		t.Errorf("client(4) succeeded")
	}

	// Close is idempotent; the deferred call must not stop the PMU twice.
	e.Close()
}

func TestEnvClientGIC(t *testing.T) {
	e, err := newEnv(context.Background(), testConfig(t, nil))
	if err != nil {
		t.Fatalf("newEnv: %v", err)
	}
	defer e.Close()
	c, err := e.client(0)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	// The sim backend gives every core a simulated CPU interface, so
	// AbortSuspend writes nothing but the power-control register.
	c.AbortSuspend()
	if got := e.mem.Writes(e.sys.PwrCtl()); got != 1 {
		t.Errorf("power control written %d times, want 1", got)
	}
	if got := e.mem.Writes(pm.GICCBase); got != 0 {
		t.Errorf("GICC_CTLR written %d times, want 0", got)
	}
}

func TestEnvBadPlatform(t *testing.T) {
	conf := testConfig(t, map[string]string{"platform": filepath.Join(t.TempDir(), "board.toml")})
	if _, err := newEnv(context.Background(), conf); err == nil {
		t.Errorf("newEnv with a missing platform file succeeded")
	}
}

func TestStressCore(t *testing.T) {
	for _, lock := range []string{"spin", "bakery"} {
		t.Run(lock, func(t *testing.T) {
			const rounds = 100
			e, err := newEnv(context.Background(), testConfig(t, map[string]string{
				"lock":         lock,
				"wait-timeout": "10s",
			}))
			if err != nil {
				t.Fatalf("newEnv: %v", err)
			}
			defer e.Close()

			g, ctx := errgroup.WithContext(context.Background())
			for cpu := uint32(0); cpu < 4; cpu++ {
				c, err := e.client(cpu)
				if err != nil {
					t.Fatalf("client: %v", err)
				}
				g.Go(func() error {
					return stressCore(ctx, e, c, rounds)
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("stressCore: %v", err)
			}
			if got := len(e.pmu.Requests()); got != 4*rounds {
				t.Errorf("PMU handled %d requests, want %d", got, 4*rounds)
			}
			if got := e.mem.Read32(e.sys.PwrCtl()); got != 0 {
				t.Errorf("power control got %#x, want 0", got)
			}
		})
	}
}

func TestLockHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pmctl.lock")
	l, err := lockHost(path)
	if err != nil {
		t.Fatalf("lockHost: %v", err)
	}
	if !l.Locked() {
		t.Errorf("host lock not held after lockHost")
	}

	// A second holder on the same file is excluded.
	other := flock.New(path)
	if ok, err := other.TryLock(); err != nil || ok {
		t.Errorf("TryLock on a held host lock got (%v, %v), want (false, nil)", ok, err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if ok, err := other.TryLock(); err != nil || !ok {
		t.Errorf("TryLock on a released host lock got (%v, %v), want (true, nil)", ok, err)
	}
	other.Unlock()
}

func TestEnvDevMemReleasesHostLock(t *testing.T) {
	dir := t.TempDir()
	conf := testConfig(t, map[string]string{
		"backend":   "devmem",
		"devmem":    filepath.Join(dir, "missing"),
		"host-lock": filepath.Join(dir, "pmctl.lock"),
	})
	if _, err := newEnv(context.Background(), conf); err == nil {
		t.Fatalf("newEnv with a missing memory device succeeded")
	}
	l := flock.New(conf.HostLockPath)
	if ok, err := l.TryLock(); err != nil || !ok {
		t.Errorf("host lock still held after failed newEnv: (%v, %v)", ok, err)
	}
	l.Unlock()
}
