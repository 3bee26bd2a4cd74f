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
	"math"
	"sync"
	"time"

	morestats "github.com/aclements/go-moremath/stats"

	"github.com/livekit/abr-ingress/pkg/types"
)

type JitterStats struct {
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P99 float64 `json:"p99"`
}

type TrackStats struct {
	Key            types.StreamKey `json:"key"`
	AverageBitrate uint32          `json:"average_bitrate"`
	CurrentBitrate uint32          `json:"current_bitrate"`
	Jitter         JitterStats     `json:"jitter"`
}

// TrackStatGatherer accumulates the bytes received on one elementary stream.
type TrackStatGatherer struct {
	lock sync.Mutex
	key  types.StreamKey
	now  func() time.Time

	totalBytes int64
	startTime  time.Time

	currentBytes  int64
	lastQueryTime time.Time

	lastPacketTime     time.Time
	lastPacketInterval time.Duration
	jitter             morestats.Sample
}

func NewTrackStatGatherer(key types.StreamKey) *TrackStatGatherer {
	return &TrackStatGatherer{
		key: key,
		now: time.Now,
	}
}

func (g *TrackStatGatherer) Key() types.StreamKey {
	return g.key
}

func (g *TrackStatGatherer) MediaReceived(size int64) {
	g.lock.Lock()
	defer g.lock.Unlock()

	now := g.now()

	if g.startTime.IsZero() {
		g.startTime = now
		g.lastQueryTime = now
	}

	g.totalBytes += size
	g.currentBytes += size

	var packetInterval time.Duration
	if !g.lastPacketTime.IsZero() {
		packetInterval = now.Sub(g.lastPacketTime)
	}
	if g.lastPacketInterval != 0 {
		jitter := packetInterval - g.lastPacketInterval
		g.jitter.Xs = append(g.jitter.Xs, math.Abs(float64(jitter)/float64(time.Millisecond)))
	}

	g.lastPacketInterval = packetInterval
	g.lastPacketTime = now
}

// UpdateStats returns the bitrates since the first packet and since the previous call.
func (g *TrackStatGatherer) UpdateStats() TrackStats {
	g.lock.Lock()
	defer g.lock.Unlock()

	now := g.now()
	ret := TrackStats{Key: g.key}

	if !g.startTime.IsZero() {
		ret.AverageBitrate = bitrate(g.totalBytes, now.Sub(g.startTime))
		ret.CurrentBitrate = bitrate(g.currentBytes, now.Sub(g.lastQueryTime))
	}

	if len(g.jitter.Xs) > 0 {
		jitter := g.jitter.Sort()
		ret.Jitter = JitterStats{
			P50: jitter.Quantile(0.5),
			P90: jitter.Quantile(0.9),
			P99: jitter.Quantile(0.99),
		}
	}

	g.lastQueryTime = now
	g.currentBytes = 0
	g.jitter.Xs = nil
	g.jitter.Sorted = false

	return ret
}

func bitrate(bytes int64, d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(float64(bytes) * 8 * float64(time.Second) / float64(d))
}
