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

// Package metric provides primitives for collecting metrics.
package metric

import (
	"errors"
	"fmt"
	"sort"

	"gvisor.dev/pmclient/pkg/atomicbitops"
	"gvisor.dev/pmclient/pkg/sync"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrFieldValueNotAllowed indicates that a field value is not one of the
	// field's allowed values.
	ErrFieldValueNotAllowed = errors.New("metric field value not allowed")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")
)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	name          string
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues ...string) Field {
	return Field{name: name, allowedValues: allowedValues}
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored. A metric may be broken down by at most one Field; each allowed
// value then has its own counter.
type Uint64Metric struct {
	name        string
	description string

	// field is nil for metrics without a field breakdown.
	field *Field

	// values has one counter per allowed field value, or a single counter if
	// field is nil.
	values []atomicbitops.Uint64
}

// metricSet holds every registered metric.
type metricSet struct {
	mu sync.Mutex
	m  map[string]*Uint64Metric
}

var allMetrics = metricSet{m: make(map[string]*Uint64Metric)}

// NewUint64Metric creates and registers a new cumulative metric with the given
// name.
//
// Metrics must be statically defined (i.e., at init).
func NewUint64Metric(name, description string, fields ...Field) (*Uint64Metric, error) {
	if len(fields) > 1 {
		return nil, fmt.Errorf("metric %q: at most one field is supported, got %d", name, len(fields))
	}
	m := &Uint64Metric{
		name:        name,
		description: description,
		values:      make([]atomicbitops.Uint64, 1),
	}
	if len(fields) == 1 {
		f := fields[0]
		if len(f.allowedValues) == 0 {
			return nil, ErrFieldHasNoAllowedValues
		}
		m.field = &f
		m.values = make([]atomicbitops.Uint64, len(f.allowedValues))
	}

	allMetrics.mu.Lock()
	defer allMetrics.mu.Unlock()
	if _, ok := allMetrics.m[name]; ok {
		return nil, ErrNameInUse
	}
	allMetrics.m[name] = m
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func MustCreateNewUint64Metric(name, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// Name returns the registered name of the metric.
func (m *Uint64Metric) Name() string {
	return m.name
}

func (m *Uint64Metric) index(fieldValues []string) int {
	if m.field == nil {
		if len(fieldValues) != 0 {
			panic(fmt.Sprintf("metric %q has no fields, got %v", m.name, fieldValues))
		}
		return 0
	}
	if len(fieldValues) != 1 {
		panic(fmt.Sprintf("metric %q requires one field value, got %v", m.name, fieldValues))
	}
	for i, v := range m.field.allowedValues {
		if v == fieldValues[0] {
			return i
		}
	}
	panic(fmt.Sprintf("metric %q: %v: %q", m.name, ErrFieldValueNotAllowed, fieldValues[0]))
}

// Value returns the current value of the metric for the given set of fields.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.values[m.index(fieldValues)].Load()
}

// Increment increments the metric field by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.values[m.index(fieldValues)].Add(1)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.values[m.index(fieldValues)].Add(v)
}

// Sample is one counter value of a registered metric.
type Sample struct {
	Name        string
	Description string
	// FieldName and FieldValue are empty for metrics without a field.
	FieldName  string
	FieldValue string
	Value      uint64
}

// Snapshot returns the current value of every registered metric, sorted by
// name and field value order.
func Snapshot() []Sample {
	allMetrics.mu.Lock()
	names := make([]string, 0, len(allMetrics.m))
	for name := range allMetrics.m {
		names = append(names, name)
	}
	metrics := make([]*Uint64Metric, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		metrics = append(metrics, allMetrics.m[name])
	}
	allMetrics.mu.Unlock()

	var samples []Sample
	for _, m := range metrics {
		if m.field == nil {
			samples = append(samples, Sample{Name: m.name, Description: m.description, Value: m.values[0].Load()})
			continue
		}
		for i, v := range m.field.allowedValues {
			samples = append(samples, Sample{
				Name:        m.name,
				Description: m.description,
				FieldName:   m.field.name,
				FieldValue:  v,
				Value:       m.values[i].Load(),
			})
		}
	}
	return samples
}
