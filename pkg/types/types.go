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

package types

import "fmt"

type StreamKind string

const (
	Audio StreamKind = "audio"
	Video StreamKind = "video"
)

// Connection is an inbound publishing session, identified for the lifetime of its transport.
type Connection struct {
	ID              string
	ApplicationName string
	URL             string
}

// StreamKey identifies one elementary stream inside a multiplexed ingest connection.
type StreamKey struct {
	ProgramNumber uint32     `json:"program_number"`
	StreamID      uint32     `json:"stream_id"`
	SourceName    string     `json:"source_name"`
	RenditionName string     `json:"rendition_name"`
	Kind          StreamKind `json:"kind"`
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%d/%d/%s/%s/%s", k.ProgramNumber, k.StreamID, k.SourceName, k.RenditionName, k.Kind)
}

// StreamDecision is the answer returned to the publisher for a single stream.
type StreamDecision struct {
	Accept         bool       `json:"accept"`
	Reason         string     `json:"reason,omitempty"`
	AudioStreamKey *StreamKey `json:"audio_stream_key,omitempty"`
	VideoStreamKey *StreamKey `json:"video_stream_key,omitempty"`
}
