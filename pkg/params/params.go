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

package params

import (
	"time"
)

const (
	DefaultPartDuration    = time.Second
	DefaultSegmentDuration = 4 * time.Second
	DefaultRetentionPeriod = 10 * time.Second

	DestinationLocal = "local"
)

type PackagingParams struct {
	PartDuration    time.Duration `yaml:"part_duration"`
	SegmentDuration time.Duration `yaml:"segment_duration"`
}

type Destination struct {
	Type            string        `yaml:"type"`
	RetentionPeriod time.Duration `yaml:"retention_period"`
	Path            string        `yaml:"path,omitempty"`
}

type DuplexParams struct {
	ICEServers []string `yaml:"ice_servers"`
}

// OutputParams holds the pass-through settings handed to the pipeline engine when
// outputs are created.
type OutputParams struct {
	Packaging    PackagingParams
	Destinations []Destination
	Duplex       DuplexParams
}

func DefaultDestinations() []Destination {
	return []Destination{{Type: DestinationLocal, RetentionPeriod: DefaultRetentionPeriod}}
}

func (p *PackagingParams) SetDefaults() {
	if p.PartDuration <= 0 {
		p.PartDuration = DefaultPartDuration
	}
	if p.SegmentDuration <= 0 {
		p.SegmentDuration = DefaultSegmentDuration
	}
}

func MasterOutputID(app string) string {
	return "hls-master-" + app
}

func DuplexOutputID(app, rendition string) string {
	return "webrtc-" + app + "-" + rendition
}

func AudioOutputID(app, rendition string) string {
	return "hls-" + app + "-" + rendition + "-audio"
}

func VideoOutputID(app, rendition string) string {
	return "hls-" + app + "-" + rendition + "-video"
}
