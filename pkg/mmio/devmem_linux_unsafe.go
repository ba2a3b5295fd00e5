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

//go:build linux

package mmio

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
	"gvisor.dev/pmclient/pkg/log"
	"gvisor.dev/pmclient/pkg/sync"
)

// DefaultDevMemPath is the physical memory device.
const DefaultDevMemPath = "/dev/mem"

// DevMem accesses physical registers through an mmap of /dev/mem. Pages are
// mapped lazily on first access and stay mapped until Close.
//
// Single 32-bit accesses are atomic. DevMem does not implement BitModifier:
// read-modify-write sequences on shared registers are not atomic across
// cores.
type DevMem struct {
	f        *os.File
	pageSize uint64

	mu sync.Mutex

	// pages maps a page-aligned address to its mapping. Protected by mu.
	pages map[Addr][]byte
}

// OpenDevMem opens path (usually DefaultDevMemPath) for synchronous access.
func OpenDevMem(path string) (*DevMem, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	return &DevMem{
		f:        f,
		pageSize: uint64(os.Getpagesize()),
		pages:    make(map[Addr][]byte),
	}, nil
}

func (d *DevMem) word(addr Addr) *uint32 {
	if !addr.Aligned() {
		panic(fmt.Sprintf("unaligned 32-bit register access at %v", addr))
	}
	base := addr &^ Addr(d.pageSize-1)

	d.mu.Lock()
	page, ok := d.pages[base]
	if !ok {
		var err error
		page, err = unix.Mmap(int(d.f.Fd()), int64(base), int(d.pageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			d.mu.Unlock()
			panic(fmt.Sprintf("mapping register page %v: %v", base, err))
		}
		log.Debugf("Mapped register page %v", base)
		d.pages[base] = page
	}
	d.mu.Unlock()

	return (*uint32)(unsafe.Pointer(&page[addr-base]))
}

// Read32 implements Device.Read32.
func (d *DevMem) Read32(addr Addr) uint32 {
	return atomic.LoadUint32(d.word(addr))
}

// Write32 implements Device.Write32.
func (d *DevMem) Write32(addr Addr, v uint32) {
	atomic.StoreUint32(d.word(addr), v)
}

// Close unmaps every page and closes the device.
func (d *DevMem) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for base, page := range d.pages {
		if err := unix.Munmap(page); err != nil {
			log.Warningf("Unmapping register page %v: %v", base, err)
		}
		delete(d.pages, base)
	}
	return d.f.Close()
}
