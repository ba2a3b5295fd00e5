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

package metric

import (
	"fmt"
	"io"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Namespace is prepended to every exported metric name.
const Namespace = "pmclient"

// PrometheusName converts a metric name such as "/ipi/sends" into a valid
// Prometheus metric name such as "pmclient_ipi_sends".
func PrometheusName(name string) string {
	name = strings.Trim(name, "/")
	name = strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(name)
	return Namespace + "_" + name
}

// families converts a snapshot into Prometheus metric families, preserving
// the snapshot order.
func families(samples []Sample) []*dto.MetricFamily {
	var (
		out []*dto.MetricFamily
		cur *dto.MetricFamily
	)
	for _, s := range samples {
		name := PrometheusName(s.Name)
		if cur == nil || cur.GetName() != name {
			cur = &dto.MetricFamily{
				Name: proto.String(name),
				Help: proto.String(s.Description),
				Type: dto.MetricType_COUNTER.Enum(),
			}
			out = append(out, cur)
		}
		m := &dto.Metric{
			Counter: &dto.Counter{Value: proto.Float64(float64(s.Value))},
		}
		if s.FieldName != "" {
			m.Label = []*dto.LabelPair{{
				Name:  proto.String(s.FieldName),
				Value: proto.String(s.FieldValue),
			}}
		}
		cur.Metric = append(cur.Metric, m)
	}
	return out
}

// WritePrometheus writes every registered metric to w in the Prometheus text
// exposition format.
func WritePrometheus(w io.Writer) error {
	for _, mf := range families(Snapshot()) {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %q: %w", mf.GetName(), err)
		}
	}
	return nil
}
