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
	"fmt"
	"strconv"

	"gvisor.dev/pmclient/pkg/mmio"
)

// Status is a PMU return status, read verbatim from the response buffer.
type Status uint32

// PMU return statuses.
const (
	StatusSuccess Status = iota
	StatusErrorArgs
	StatusErrorAccess
	StatusErrorTimeout
	StatusErrorNotSupported
	StatusErrorProc
	StatusErrorAPIID
	StatusErrorFailure
	StatusErrorCommunic
	StatusErrorDoubleReq
)

var statusNames = [...]string{
	StatusSuccess:           "PM_RET_SUCCESS",
	StatusErrorArgs:         "PM_RET_ERROR_ARGS",
	StatusErrorAccess:       "PM_RET_ERROR_ACCESS",
	StatusErrorTimeout:      "PM_RET_ERROR_TIMEOUT",
	StatusErrorNotSupported: "PM_RET_ERROR_NOTSUPPORTED",
	StatusErrorProc:         "PM_RET_ERROR_PROC",
	StatusErrorAPIID:        "PM_RET_ERROR_API_ID",
	StatusErrorFailure:      "PM_RET_ERROR_FAILURE",
	StatusErrorCommunic:     "PM_RET_ERROR_COMMUNIC",
	StatusErrorDoubleReq:    "PM_RET_ERROR_DOUBLEREQ",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("PM_RET_%d", uint32(s))
}

// Err returns nil for StatusSuccess and a *StatusError otherwise.
func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError is a non-success status reported by the PMU.
type StatusError struct {
	Status Status
}

// Error implements error.Error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("PMU returned %v", e.Status)
}

// APIID is a PMU API call number, carried in the first payload word.
type APIID uint32

// PMU API ids.
const (
	APIGetAPIVersion APIID = iota + 1
	APISetConfiguration
	APIGetNodeStatus
	APIGetOpCharacteristic
	APIRegisterNotifier
	APIReqSuspend
	APISelfSuspend
	APIForcePowerdown
	APIAbortSuspend
	APIReqWakeup
	APISetWakeupSource
	APISystemShutdown
)

var apiNames = map[APIID]string{
	APIGetAPIVersion:       "PM_GET_API_VERSION",
	APISetConfiguration:    "PM_SET_CONFIGURATION",
	APIGetNodeStatus:       "PM_GET_NODE_STATUS",
	APIGetOpCharacteristic: "PM_GET_OP_CHARACTERISTIC",
	APIRegisterNotifier:    "PM_REGISTER_NOTIFIER",
	APIReqSuspend:          "PM_REQ_SUSPEND",
	APISelfSuspend:         "PM_SELF_SUSPEND",
	APIForcePowerdown:      "PM_FORCE_POWERDOWN",
	APIAbortSuspend:        "PM_ABORT_SUSPEND",
	APIReqWakeup:           "PM_REQ_WAKEUP",
	APISetWakeupSource:     "PM_SET_WAKEUP_SOURCE",
	APISystemShutdown:      "PM_SYSTEM_SHUTDOWN",
}

func (a APIID) String() string {
	if s, ok := apiNames[a]; ok {
		return s
	}
	return fmt.Sprintf("PM_API_%d", uint32(a))
}

// ParseAPIID accepts either an API name ("PM_REQ_WAKEUP") or a number.
func ParseAPIID(s string) (APIID, error) {
	for id, name := range apiNames {
		if name == s {
			return id, nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown PMU API %q", s)
	}
	return APIID(n), nil
}

// PayloadArgCount is the number of words in a request or response.
const PayloadArgCount = 5

// Payload is one request: the API id followed by its arguments.
type Payload [PayloadArgCount]uint32

// NewPayload packs api and args into a Payload. Unused words are zero.
func NewPayload(api APIID, args ...uint32) (Payload, error) {
	var p Payload
	if len(args) > PayloadArgCount-1 {
		return p, fmt.Errorf("%v takes at most %d arguments, got %d", api, PayloadArgCount-1, len(args))
	}
	p[0] = uint32(api)
	copy(p[1:], args)
	return p, nil
}

// API returns the API id carried by p.
func (p *Payload) API() APIID {
	return APIID(p[0])
}

// BufferLayout places the request and response regions inside a channel's
// message buffer.
type BufferLayout struct {
	// TargetOffset selects the block of the buffer addressed to the PMU.
	TargetOffset uint64

	// ReqOffset and RespOffset locate the request and response regions
	// inside the target block.
	ReqOffset  uint64
	RespOffset uint64

	// ArgSize is the stride between payload words.
	ArgSize uint64
}

// Request returns the address of request word i on ipi.
func (l BufferLayout) Request(ipi IPI, i int) mmio.Addr {
	return ipi.BufferBase.Add(l.TargetOffset + l.ReqOffset + uint64(i)*l.ArgSize)
}

// Response returns the address of response word i on ipi.
func (l BufferLayout) Response(ipi IPI, i int) mmio.Addr {
	return ipi.BufferBase.Add(l.TargetOffset + l.RespOffset + uint64(i)*l.ArgSize)
}

func (l BufferLayout) validate() error {
	switch {
	case l.ArgSize < 4 || l.ArgSize%4 != 0:
		return fmt.Errorf("payload stride %d is not a multiple of 4", l.ArgSize)
	case l.ReqOffset%4 != 0 || l.RespOffset%4 != 0 || l.TargetOffset%4 != 0:
		return fmt.Errorf("unaligned buffer layout %+v", l)
	}
	reqEnd := l.ReqOffset + PayloadArgCount*l.ArgSize
	respEnd := l.RespOffset + PayloadArgCount*l.ArgSize
	if l.ReqOffset < respEnd && l.RespOffset < reqEnd {
		return fmt.Errorf("request and response regions overlap in layout %+v", l)
	}
	return nil
}
