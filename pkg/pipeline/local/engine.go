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

// Package local provides an in-process pipeline engine. It keeps the output topology and
// subscriptions in memory and renders the HLS master playlist of every application from
// the streams its master output currently selects.
package local

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/grafov/m3u8"

	"github.com/livekit/abr-ingress/pkg/errors"
	"github.com/livekit/abr-ingress/pkg/params"
	"github.com/livekit/abr-ingress/pkg/pipeline"
	"github.com/livekit/abr-ingress/pkg/types"
	"github.com/livekit/protocol/logger"
)

type OutputKind string

const (
	KindDuplex OutputKind = "duplex"
	KindAudio  OutputKind = "audio"
	KindVideo  OutputKind = "video"
	KindMaster OutputKind = "master"
)

type Output struct {
	id        string
	kind      OutputKind
	playerURL string

	lock  sync.RWMutex
	subs  []pipeline.Subscription
	calls int
}

func (o *Output) ID() string {
	return o.id
}

func (o *Output) Kind() OutputKind {
	return o.kind
}

func (o *Output) PlayerURL() string {
	return o.playerURL
}

func (o *Output) Subscribe(subs []pipeline.Subscription) error {
	next := append([]pipeline.Subscription(nil), subs...)

	o.lock.Lock()
	o.subs = next
	o.calls++
	o.lock.Unlock()

	logger.Debugw("output subscribed", "outputID", o.id, "subscriptions", len(next))
	return nil
}

func (o *Output) Subscriptions() []pipeline.Subscription {
	o.lock.RLock()
	defer o.lock.RUnlock()

	return append([]pipeline.Subscription(nil), o.subs...)
}

// subscribeCalls returns how many times the subscription set was replaced.
func (o *Output) subscribeCalls() int {
	o.lock.RLock()
	defer o.lock.RUnlock()

	return o.calls
}

// Selected returns the streams the output consumes right now.
func (o *Output) Selected() []types.StreamKey {
	var keys []types.StreamKey
	for _, s := range o.Subscriptions() {
		keys = append(keys, s.Selected()...)
	}
	return keys
}

type Engine struct {
	baseURL string
	table   *params.RenditionTable

	lock    sync.RWMutex
	outputs map[string]*Output
	masters map[string]*Output
}

func NewEngine(baseURL string, table *params.RenditionTable) *Engine {
	return &Engine{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		table:   table,
		outputs: make(map[string]*Output),
		masters: make(map[string]*Output),
	}
}

func (e *Engine) CreateDuplexRealtimeOutput(_ context.Context, id string, _ pipeline.DuplexConfig) (pipeline.Handle, error) {
	return e.create(id, KindDuplex, e.duplexURL(id))
}

func (e *Engine) CreatePackagedAudioOutput(_ context.Context, id string, conf pipeline.PackagingConfig) (pipeline.Handle, error) {
	if err := validatePackaging(conf); err != nil {
		return nil, err
	}
	return e.create(id, KindAudio, "")
}

func (e *Engine) CreatePackagedVideoOutput(_ context.Context, id string, conf pipeline.PackagingConfig) (pipeline.Handle, error) {
	if err := validatePackaging(conf); err != nil {
		return nil, err
	}
	return e.create(id, KindVideo, "")
}

func (e *Engine) CreateMasterManifestOutput(_ context.Context, id string, conf pipeline.MasterManifestConfig) (pipeline.Handle, error) {
	if conf.PlaylistName == "" {
		return nil, fmt.Errorf("output %s: missing playlist name", id)
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	if _, ok := e.masters[conf.PlaylistName]; ok {
		return nil, fmt.Errorf("playlist %s: %w", conf.PlaylistName, errors.ErrDuplicateOutput)
	}
	o, err := e.createLocked(id, KindMaster, e.masterURL(conf.PlaylistName))
	if err != nil {
		return nil, err
	}
	e.masters[conf.PlaylistName] = o

	return o, nil
}

func (e *Engine) create(id string, kind OutputKind, playerURL string) (*Output, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.createLocked(id, kind, playerURL)
}

func (e *Engine) createLocked(id string, kind OutputKind, playerURL string) (*Output, error) {
	if _, ok := e.outputs[id]; ok {
		return nil, fmt.Errorf("output %s: %w", id, errors.ErrDuplicateOutput)
	}

	o := &Output{
		id:        id,
		kind:      kind,
		playerURL: playerURL,
	}
	e.outputs[id] = o

	logger.Debugw("output created", "outputID", id, "kind", kind)
	return o, nil
}

func (e *Engine) Output(id string) (*Output, bool) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	o, ok := e.outputs[id]
	return o, ok
}

// OutputIDs returns the ids of every created output, sorted.
func (e *Engine) OutputIDs() []string {
	e.lock.RLock()
	defer e.lock.RUnlock()

	ids := make([]string, 0, len(e.outputs))
	for id := range e.outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MasterPlaylist renders the master playlist of an application. Renditions whose streams
// are not currently selectable are left out.
func (e *Engine) MasterPlaylist(name string) (*m3u8.MasterPlaylist, error) {
	e.lock.RLock()
	master, ok := e.masters[name]
	e.lock.RUnlock()
	if !ok {
		return nil, errors.ErrApplicationNotFound
	}

	p := m3u8.NewMasterPlaylist()
	for _, sub := range master.Subscriptions() {
		if len(sub.Selected()) == 0 {
			continue
		}

		app, rendition := sub.Selector.Application, sub.Selector.Rendition
		var bandwidth uint32
		if policy, ok := e.table.Get(rendition); ok {
			bandwidth = uint32(policy.Bitrate)
		}
		group := "audio-" + rendition

		p.Append(params.VideoOutputID(app, rendition)+"/playlist.m3u8", nil, m3u8.VariantParams{
			Bandwidth: bandwidth,
			Name:      rendition,
			Audio:     group,
			Alternatives: []*m3u8.Alternative{{
				GroupId:    group,
				URI:        params.AudioOutputID(app, rendition) + "/playlist.m3u8",
				Type:       "AUDIO",
				Name:       rendition,
				Default:    true,
				Autoselect: "YES",
			}},
		})
	}

	return p, nil
}

func (e *Engine) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/hls/{app}/master.m3u8", e.masterPlaylistHandler).Methods(http.MethodGet)
}

func (e *Engine) masterPlaylistHandler(w http.ResponseWriter, r *http.Request) {
	app := mux.Vars(r)["app"]

	p, err := e.MasterPlaylist(app)
	if err != nil {
		if errors.Is(err, errors.ErrApplicationNotFound) {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(p.Encode().Bytes())
}

func (e *Engine) duplexURL(id string) string {
	return fmt.Sprintf("%s/webrtc/%s", e.baseURL, id)
}

func (e *Engine) masterURL(name string) string {
	return fmt.Sprintf("%s/hls/%s/master.m3u8", e.baseURL, name)
}

func validatePackaging(conf pipeline.PackagingConfig) error {
	if conf.Packaging.PartDuration <= 0 || conf.Packaging.SegmentDuration <= 0 {
		return fmt.Errorf("invalid packaging durations")
	}
	if conf.Packaging.PartDuration > conf.Packaging.SegmentDuration {
		return fmt.Errorf("part duration %s exceeds segment duration %s",
			conf.Packaging.PartDuration, conf.Packaging.SegmentDuration)
	}
	return nil
}
