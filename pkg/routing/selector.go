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

// Package routing classifies the streams published into the ingest into the subset an
// output should consume. Every selector is fail-closed: when the match is missing or
// ambiguous, nothing is selected.
package routing

import (
	"github.com/livekit/abr-ingress/pkg/types"
)

type SelectKind string

const (
	SelectAudioVideoKind SelectKind = "av"
	SelectAudioKind      SelectKind = "audio"
	SelectVideoKind      SelectKind = "video"
)

// Selector is the comparable description of a subscription filter. Two selectors that
// compare equal always select the same streams.
type Selector struct {
	Application string
	Rendition   string
	Kind        SelectKind
}

func AudioVideo(app, rendition string) Selector {
	return Selector{Application: app, Rendition: rendition, Kind: SelectAudioVideoKind}
}

func AudioOnly(app, rendition string) Selector {
	return Selector{Application: app, Rendition: rendition, Kind: SelectAudioKind}
}

func VideoOnly(app, rendition string) Selector {
	return Selector{Application: app, Rendition: rendition, Kind: SelectVideoKind}
}

func (s Selector) Select(streams []types.StreamKey) []types.StreamKey {
	switch s.Kind {
	case SelectAudioVideoKind:
		return SelectAudioVideo(s.Application, s.Rendition, streams)
	case SelectAudioKind:
		return SelectAudioOnly(s.Application, s.Rendition, streams)
	case SelectVideoKind:
		return SelectVideoOnly(s.Application, s.Rendition, streams)
	default:
		return nil
	}
}

// SelectAudioVideo returns the audio key followed by the video key for (app, rendition)
// when there is exactly one of each, and nothing otherwise.
func SelectAudioVideo(app, rendition string, streams []types.StreamKey) []types.StreamKey {
	audio, aok := single(app, rendition, types.Audio, streams)
	video, vok := single(app, rendition, types.Video, streams)
	if !aok || !vok {
		return nil
	}
	return []types.StreamKey{audio, video}
}

func SelectAudioOnly(app, rendition string, streams []types.StreamKey) []types.StreamKey {
	audio, ok := single(app, rendition, types.Audio, streams)
	if !ok {
		return nil
	}
	return []types.StreamKey{audio}
}

func SelectVideoOnly(app, rendition string, streams []types.StreamKey) []types.StreamKey {
	video, ok := single(app, rendition, types.Video, streams)
	if !ok {
		return nil
	}
	return []types.StreamKey{video}
}

func single(app, rendition string, kind types.StreamKind, streams []types.StreamKey) (types.StreamKey, bool) {
	var found types.StreamKey
	count := 0
	for _, k := range streams {
		if k.Kind != kind || k.SourceName != app || k.RenditionName != rendition {
			continue
		}
		found = k
		count++
		if count > 1 {
			return types.StreamKey{}, false
		}
	}
	return found, count == 1
}
