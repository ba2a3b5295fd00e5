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


package log

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// jsonLog is one line of JSONEmitter output.
type jsonLog struct {
	Time  time.Time `json:"time"`
	Level Level     `json:"level"`
	File  string    `json:"file,omitempty"`
	Line  int       `json:"line,omitempty"`
	CPU   *int      `json:"cpu,omitempty"`
	Msg   string    `json:"msg"`
}

var levelNames = [...]string{
	Warning: "warning",
	Info:    "info",
	Debug:   "debug",
}

// MarshalJSON implements json.Marshaler.MarshalJSON.
func (l Level) MarshalJSON() ([]byte, error) {
	if int(l) >= len(levelNames) {
		return nil, fmt.Errorf("unknown level %v", l)
	}
	return []byte(`"` + levelNames[l] + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON. It accepts level
// names and their integer values.
func (l *Level) UnmarshalJSON(b []byte) error {
	s := string(b)
	for i, name := range levelNames {
		if s == `"`+name+`"` || s == fmt.Sprint(i) {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown level %q", s)
}

// cpuPrefix is the prefix of messages logged on behalf of one core.
const cpuPrefix = "CPU %d: "

// splitCPU moves a leading "CPU %d: " out of format and returns the core's
// id separately.
func splitCPU(format string, v []any) (*int, string, []any) {
	if !strings.HasPrefix(format, cpuPrefix) || len(v) == 0 {
		return nil, format, v
	}
	var cpu int
	switch id := v[0].(type) {
	case int:
		cpu = id
	case uint32:
		cpu = int(id)
	default:
		return nil, format, v
	}
	return &cpu, format[len(cpuPrefix):], v[1:]
}

// JSONEmitter logs messages in json format, one object per line. The caller's
// file and line, and the core of messages starting with "CPU %d: ", are
// separate fields.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	j := jsonLog{
		Time:  timestamp,
		Level: level,
	}
	j.CPU, format, v = splitCPU(format, v)
	j.Msg = strings.TrimSuffix(fmt.Sprintf(format, v...), "\n")
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		if slash := strings.LastIndexByte(file, byte('/')); slash >= 0 {
			file = file[slash+1:]
		}
		j.File, j.Line = file, line
	}
	b, err := json.Marshal(j)
	if err != nil {
		b, _ = json.Marshal(jsonLog{Time: timestamp, Level: Warning, Msg: fmt.Sprintf("unencodable log message %q: %v", j.Msg, err)})
	}
	e.Writer.Write(b)
}
