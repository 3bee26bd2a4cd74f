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

package pipeline

import (
	"context"

	"github.com/livekit/abr-ingress/pkg/params"
	"github.com/livekit/abr-ingress/pkg/routing"
	"github.com/livekit/abr-ingress/pkg/types"
)

// Source is a stage producing streams that outputs can subscribe to.
type Source interface {
	ID() string
	Streams() []types.StreamKey
}

type Subscription struct {
	Source   Source
	Selector routing.Selector
}

func SubscribeAudioVideo(source Source, app, rendition string) Subscription {
	return Subscription{Source: source, Selector: routing.AudioVideo(app, rendition)}
}

func SubscribeAudio(source Source, app, rendition string) Subscription {
	return Subscription{Source: source, Selector: routing.AudioOnly(app, rendition)}
}

func SubscribeVideo(source Source, app, rendition string) Subscription {
	return Subscription{Source: source, Selector: routing.VideoOnly(app, rendition)}
}

// Selected evaluates the subscription against the current streams of its source.
func (s Subscription) Selected() []types.StreamKey {
	if s.Source == nil {
		return nil
	}
	return s.Selector.Select(s.Source.Streams())
}

// Handle is a running output stage.
type Handle interface {
	ID() string
	// Subscribe replaces the complete subscription set of the stage.
	Subscribe(subs []Subscription) error
}

// PlayerURLProvider is implemented by handles that can be played back directly.
type PlayerURLProvider interface {
	PlayerURL() string
}

type DuplexConfig struct {
	ICEServers []string
}

type PackagingConfig struct {
	Packaging    params.PackagingParams
	Destinations []params.Destination
}

type MasterManifestConfig struct {
	PlaylistName string
	Destinations []params.Destination
}

// Engine creates output stages. Creation may fail fast; it never blocks indefinitely
// unless ctx does.
type Engine interface {
	CreateDuplexRealtimeOutput(ctx context.Context, id string, conf DuplexConfig) (Handle, error)
	CreatePackagedAudioOutput(ctx context.Context, id string, conf PackagingConfig) (Handle, error)
	CreatePackagedVideoOutput(ctx context.Context, id string, conf PackagingConfig) (Handle, error)
	CreateMasterManifestOutput(ctx context.Context, id string, conf MasterManifestConfig) (Handle, error)
}
