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

// Package pmusim simulates the PMU side of the power-management mailbox on
// top of a simulated register space.
//
// The simulation follows the hardware handshake: a write of the PMU's bit to
// the channel's trigger register sets the same bit in the observation
// register; the PMU reads the request, writes the response and clears the
// observation bit.
package pmusim

import (
	"context"
	"fmt"
	"time"

	"github.com/mohae/deepcopy"
	"gvisor.dev/pmclient/pkg/atomicbitops"
	"gvisor.dev/pmclient/pkg/bits"
	"gvisor.dev/pmclient/pkg/log"
	"gvisor.dev/pmclient/pkg/mmio"
	"gvisor.dev/pmclient/pkg/pm"
	"gvisor.dev/pmclient/pkg/sync"
)

// Handler computes the response to one request.
type Handler func(req pm.Payload) (status pm.Status, value uint32)

// APIVersion is the version reported for pm.APIGetAPIVersion by
// DefaultHandler.
const APIVersion = 0x10001

// DefaultHandler accepts every known API call. PM_GET_API_VERSION returns
// APIVersion; unknown API ids fail with pm.StatusErrorAPIID.
func DefaultHandler(req pm.Payload) (pm.Status, uint32) {
	switch api := req.API(); {
	case api == pm.APIGetAPIVersion:
		return pm.StatusSuccess, APIVersion
	case api >= pm.APIGetAPIVersion && api <= pm.APISystemShutdown:
		return pm.StatusSuccess, 0
	default:
		return pm.StatusErrorAPIID, 0
	}
}

// Request is one handled request.
type Request struct {
	Payload pm.Payload
	Status  pm.Status
	Value   uint32
}

// Args are the arguments to New.
type Args struct {
	// Regs is the register space shared with the clients. Required.
	Regs *mmio.Memory

	// IPI is the channel the PMU serves. Required.
	IPI pm.IPI

	// Layout is the channel's buffer layout.
	Layout pm.BufferLayout

	// Handler answers requests. Defaults to DefaultHandler.
	Handler Handler

	// Latency is the minimum time between a request being raised and its
	// response.
	Latency time.Duration
}

// PMU is a simulated power-management unit serving one channel.
type PMU struct {
	regs    *mmio.Memory
	ipi     pm.IPI
	layout  pm.BufferLayout
	handler Handler
	latency time.Duration

	// kick is signaled when a request is raised.
	kick chan struct{}

	// raised is the time of the last trigger, in nanoseconds since the Unix
	// epoch.
	raised atomicbitops.Uint64

	mu sync.Mutex

	// history is protected by mu.
	history []Request

	// cancel and done are set by Start and protected by mu.
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a PMU attached to args.Regs. The PMU does not handle requests
// until Start is called; requests raised before then stay pending.
func New(args Args) (*PMU, error) {
	if args.Regs == nil || args.IPI.TargetMask == 0 {
		return nil, fmt.Errorf("simulated PMU requires registers and a channel")
	}
	p := &PMU{
		regs:    args.Regs,
		ipi:     args.IPI,
		layout:  args.Layout,
		handler: args.Handler,
		latency: args.Latency,
		kick:    make(chan struct{}, 1),
	}
	if p.handler == nil {
		p.handler = DefaultHandler
	}
	p.regs.OnWrite(p.ipi.Trig(), p.trigger)
	return p, nil
}

// trigger runs on the client's goroutine when it writes the trigger
// register.
func (p *PMU) trigger(_ mmio.Addr, _, written uint32) {
	if !bits.IsAnyOn(written, p.ipi.TargetMask) {
		return
	}
	p.raised.Store(uint64(time.Now().UnixNano()))
	p.regs.PokeBits(p.ipi.Obs(), p.ipi.TargetMask, true)
	select {
	case p.kick <- struct{}{}:
	default:
		// A request is already queued; it will see this one's
		// observation bit.
	}
}

// Start starts serving requests in a new goroutine.
func (p *PMU) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		panic("simulated PMU started twice")
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop stops serving requests and waits for the serving goroutine to exit.
// Requests still pending stay pending.
func (p *PMU) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *PMU) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	// A request left pending by Stop has no kick of its own.
	if bits.IsAnyOn(p.regs.Read32(p.ipi.Obs()), p.ipi.TargetMask) {
		if !p.respond(ctx) {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			if !p.respond(ctx) {
				return
			}
		}
	}
}

// respond serves the pending request once the configured latency has passed
// since it was raised. It returns false if ctx was canceled first.
func (p *PMU) respond(ctx context.Context) bool {
	raised := time.Unix(0, int64(p.raised.Load()))
	if wait := time.Until(raised.Add(p.latency)); p.latency > 0 && wait > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
	p.serve()
	return true
}

// serve handles the pending request, if any.
func (p *PMU) serve() {
	obs := p.ipi.Obs()
	if !bits.IsAnyOn(p.regs.Read32(obs), p.ipi.TargetMask) {
		return
	}

	var req pm.Payload
	for i := range req {
		req[i] = p.regs.Read32(p.layout.Request(p.ipi, i))
	}
	status, value := p.handler(req)
	p.regs.Poke(p.layout.Response(p.ipi, 0), uint32(status))
	p.regs.Poke(p.layout.Response(p.ipi, 1), value)

	p.mu.Lock()
	p.history = append(p.history, Request{Payload: req, Status: status, Value: value})
	p.mu.Unlock()

	log.Debugf("Simulated PMU: %v %v -> %v, %#x", req.API(), req[1:], status, value)
	p.regs.PokeBits(obs, p.ipi.TargetMask, false)
}

// Requests returns a copy of every request handled so far, oldest first.
func (p *PMU) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return deepcopy.Copy(p.history).([]Request)
}
