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
	"sort"
	"sync"
	"time"

	"github.com/frostbyte73/core"

	"github.com/livekit/abr-ingress/pkg/types"
	"github.com/livekit/protocol/logger"
)

const DefaultSampleInterval = 5 * time.Second

// StreamStatistics is one sample of every stream on a connection, with aggregated
// audio, video and total bitrates.
type StreamStatistics struct {
	ConnectionID string       `json:"connection_id"`
	Audio        uint32       `json:"audio_bitrate"`
	Video        uint32       `json:"video_bitrate"`
	Total        uint32       `json:"total_bitrate"`
	AllStreams   []TrackStats `json:"all_streams"`
}

type StatisticsSink func(s *StreamStatistics)

// MediaStatsReporter samples the media received on one ingest connection.
type MediaStatsReporter struct {
	connectionID string
	interval     time.Duration
	sink         StatisticsSink

	lock   sync.Mutex
	tracks map[types.StreamKey]*TrackStatGatherer

	done core.Fuse
}

func NewMediaStats(connectionID string, interval time.Duration, sink StatisticsSink) *MediaStatsReporter {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	if sink == nil {
		sink = LogStatistics
	}

	return &MediaStatsReporter{
		connectionID: connectionID,
		interval:     interval,
		sink:         sink,
		tracks:       make(map[types.StreamKey]*TrackStatGatherer),
	}
}

// Start runs the sampler until Close.
func (m *MediaStatsReporter) Start() {
	go m.runMediaStatsCollector()
}

func (m *MediaStatsReporter) RegisterTrack(key types.StreamKey) *TrackStatGatherer {
	m.lock.Lock()
	defer m.lock.Unlock()

	g, ok := m.tracks[key]
	if !ok {
		g = NewTrackStatGatherer(key)
		m.tracks[key] = g
	}
	return g
}

func (m *MediaStatsReporter) Close() {
	m.done.Break()
}

func (m *MediaStatsReporter) runMediaStatsCollector() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sink(m.Sample())
		case <-m.done.Watch():
			return
		}
	}
}

func (m *MediaStatsReporter) Sample() *StreamStatistics {
	m.lock.Lock()
	gatherers := make([]*TrackStatGatherer, 0, len(m.tracks))
	for _, g := range m.tracks {
		gatherers = append(gatherers, g)
	}
	m.lock.Unlock()

	s := &StreamStatistics{
		ConnectionID: m.connectionID,
		AllStreams:   make([]TrackStats, 0, len(gatherers)),
	}
	for _, g := range gatherers {
		ts := g.UpdateStats()
		switch ts.Key.Kind {
		case types.Audio:
			s.Audio += ts.CurrentBitrate
		case types.Video:
			s.Video += ts.CurrentBitrate
		}
		s.Total += ts.CurrentBitrate
		s.AllStreams = append(s.AllStreams, ts)
	}
	sort.Slice(s.AllStreams, func(i, j int) bool {
		return s.AllStreams[i].Key.String() < s.AllStreams[j].Key.String()
	})

	return s
}

func LogStatistics(s *StreamStatistics) {
	logger.Infow("stream statistics",
		"connectionID", s.ConnectionID,
		"streams", len(s.AllStreams),
		"audioKbps", float64(s.Audio)/1000,
		"videoKbps", float64(s.Video)/1000,
		"totalKbps", float64(s.Total)/1000,
	)
}
