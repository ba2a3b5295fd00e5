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

package pm

import (
	"context"
	"fmt"

	"gvisor.dev/pmclient/pkg/bits"
	"gvisor.dev/pmclient/pkg/log"
)

// waitLocked polls p's channel until the PMU has handled the previous
// request.
//
// Preconditions: c.lock is held by c.cpu.
func (c *Client) waitLocked(ctx context.Context, p Proc) error {
	obs := p.IPI.Obs()
	mask := p.IPI.TargetMask
	var polls uint64
	err := c.waiter.Wait(ctx, func() bool {
		polls++
		return !bits.IsAnyOn(c.regs.Read32(obs), mask)
	})
	ipiPolls.IncrementBy(polls)
	if err != nil {
		ipiTimeouts.Increment()
		return fmt.Errorf("CPU %d waiting on %v: %w", c.cpu, p.IPI, err)
	}
	return nil
}

// sendLocked writes payload to the request region of p's channel and raises
// the PMU's interrupt.
//
// Preconditions: c.lock is held by c.cpu and the channel is idle.
func (c *Client) sendLocked(p Proc, payload *Payload) {
	for i, word := range payload {
		c.regs.Write32(c.layout.Request(p.IPI, i), word)
	}
	c.regs.Write32(p.IPI.Trig(), p.IPI.TargetMask)
	ipiSends.Increment()
}

// readLocked reads the response status, and the value word if value is not
// nil.
//
// Preconditions: c.lock is held by c.cpu and the PMU has handled the
// request.
func (c *Client) readLocked(p Proc, value *uint32) Status {
	if value != nil {
		*value = c.regs.Read32(c.layout.Response(p.IPI, 1))
	}
	ipiReceives.Increment()
	return Status(c.regs.Read32(c.layout.Response(p.IPI, 0)))
}

// Wait blocks until the PMU has handled the last request on p's channel.
func (c *Client) Wait(ctx context.Context, p Proc) error {
	c.lock.Acquire(int(c.cpu))
	defer c.lock.Release(int(c.cpu))
	return c.waitLocked(ctx, p)
}

// Send waits until p's channel is idle, writes payload into the channel's
// request buffer and signals the PMU. It does not wait for the response.
//
// The lock is held from the wait until the PMU has been signaled, so
// requests from different cores are never interleaved in the buffer.
func (c *Client) Send(ctx context.Context, p Proc, payload Payload) error {
	c.lock.Acquire(int(c.cpu))
	defer c.lock.Release(int(c.cpu))

	if err := c.waitLocked(ctx, p); err != nil {
		return err
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("CPU %d: sending %v %v to PMU", c.cpu, payload.API(), payload[1:])
	}
	c.sendLocked(p, &payload)
	return nil
}

// Receive waits until the PMU has handled the last request on p's channel
// and returns the status it wrote. If value is not nil, the second response
// word is stored in it.
//
// The response belongs to the last request sent on the channel by any core;
// use SendReceive to pair a request with its response.
func (c *Client) Receive(ctx context.Context, p Proc, value *uint32) (Status, error) {
	c.lock.Acquire(int(c.cpu))
	defer c.lock.Release(int(c.cpu))

	if err := c.waitLocked(ctx, p); err != nil {
		return 0, err
	}
	return c.readLocked(p, value), nil
}

// SendReceive sends payload and returns the PMU's response to it. The lock
// is held for the whole exchange, so no other core can send in between.
func (c *Client) SendReceive(ctx context.Context, p Proc, payload Payload, value *uint32) (Status, error) {
	c.lock.Acquire(int(c.cpu))
	defer c.lock.Release(int(c.cpu))

	if err := c.waitLocked(ctx, p); err != nil {
		return 0, err
	}
	c.sendLocked(p, &payload)
	if err := c.waitLocked(ctx, p); err != nil {
		return 0, err
	}
	status := c.readLocked(p, value)
	if log.IsLogging(log.Debug) {
		log.Debugf("CPU %d: PMU answered %v with %v", c.cpu, payload.API(), status)
	}
	return status, nil
}
