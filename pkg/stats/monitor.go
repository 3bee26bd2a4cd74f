// Copyright 2026 LiveKit, Inc.
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

package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// Monitor exposes the control plane counters to prometheus.
type Monitor struct {
	promConnections        *prometheus.CounterVec
	promStreams            *prometheus.CounterVec
	promOutputs            *prometheus.CounterVec
	promProvisionFailures  *prometheus.CounterVec
	promRenditions         *prometheus.GaugeVec
	promProvisionDurations prometheus.Histogram

	registerer prometheus.Registerer
}

// NewMonitor creates the monitor collectors and registers them with reg. A nil reg keeps
// the collectors unregistered.
func NewMonitor(reg prometheus.Registerer, nodeID string) (*Monitor, error) {
	labels := prometheus.Labels{"node_id": nodeID}

	m := &Monitor{
		promConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "livekit",
			Subsystem:   "abr_ingress",
			Name:        "connections_total",
			ConstLabels: labels,
		}, []string{"outcome"}),
		promStreams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "livekit",
			Subsystem:   "abr_ingress",
			Name:        "streams_total",
			ConstLabels: labels,
		}, []string{"outcome"}),
		promOutputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "livekit",
			Subsystem:   "abr_ingress",
			Name:        "outputs_created_total",
			ConstLabels: labels,
		}, []string{"kind"}),
		promProvisionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "livekit",
			Subsystem:   "abr_ingress",
			Name:        "provisioning_failures_total",
			ConstLabels: labels,
		}, []string{"step"}),
		promRenditions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "livekit",
			Subsystem:   "abr_ingress",
			Name:        "renditions",
			ConstLabels: labels,
		}, []string{"application"}),
		promProvisionDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "livekit",
			Subsystem:   "abr_ingress",
			Name:        "provisioning_duration_seconds",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		registerer: reg,
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

func (m *Monitor) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.promConnections,
		m.promStreams,
		m.promOutputs,
		m.promProvisionFailures,
		m.promRenditions,
		m.promProvisionDurations,
	}
}

func (m *Monitor) ConnectionDecided(accepted bool) {
	m.promConnections.WithLabelValues(outcome(accepted)).Inc()
}

func (m *Monitor) StreamDecided(accepted bool) {
	m.promStreams.WithLabelValues(outcome(accepted)).Inc()
}

func (m *Monitor) OutputCreated(kind string) {
	m.promOutputs.WithLabelValues(kind).Inc()
}

func (m *Monitor) ProvisioningFailed(step string) {
	m.promProvisionFailures.WithLabelValues(step).Inc()
}

func (m *Monitor) ProvisioningDone(seconds float64) {
	m.promProvisionDurations.Observe(seconds)
}

func (m *Monitor) SetRenditions(app string, n int) {
	m.promRenditions.WithLabelValues(app).Set(float64(n))
}

// Stop unregisters the collectors.
func (m *Monitor) Stop() {
	if m.registerer == nil {
		return
	}
	for _, c := range m.collectors() {
		m.registerer.Unregister(c)
	}
}

func outcome(accepted bool) string {
	if accepted {
		return OutcomeAccepted
	}
	return OutcomeRejected
}
