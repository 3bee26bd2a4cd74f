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

package provisioner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/abr-ingress/pkg/errors"
	"github.com/livekit/abr-ingress/pkg/notify"
	"github.com/livekit/abr-ingress/pkg/params"
	"github.com/livekit/abr-ingress/pkg/pipeline"
	"github.com/livekit/abr-ingress/pkg/pipeline/local"
	"github.com/livekit/abr-ingress/pkg/registry"
	"github.com/livekit/abr-ingress/pkg/stats"
	"github.com/livekit/abr-ingress/pkg/types"
)

type fakeSource struct {
	lock    sync.Mutex
	streams []types.StreamKey
}

func (s *fakeSource) ID() string {
	return "rtmp"
}

func (s *fakeSource) Streams() []types.StreamKey {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]types.StreamKey(nil), s.streams...)
}

func (s *fakeSource) publish(app, rendition string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.streams = append(s.streams,
		types.StreamKey{ProgramNumber: 1, StreamID: 1, SourceName: app, RenditionName: rendition, Kind: types.Audio},
		types.StreamKey{ProgramNumber: 1, StreamID: 2, SourceName: app, RenditionName: rendition, Kind: types.Video},
	)
}

type fakeHandle struct {
	id string

	lock sync.Mutex
	subs []pipeline.Subscription
	err  error
}

func (h *fakeHandle) ID() string {
	return h.id
}

func (h *fakeHandle) Subscribe(subs []pipeline.Subscription) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.err != nil {
		return h.err
	}
	h.subs = append([]pipeline.Subscription(nil), subs...)
	return nil
}

func (h *fakeHandle) subscriptions() []pipeline.Subscription {
	h.lock.Lock()
	defer h.lock.Unlock()
	return append([]pipeline.Subscription(nil), h.subs...)
}

type fakeEngine struct {
	lock    sync.Mutex
	created map[string]int
	handles map[string]*fakeHandle
	fail    map[string]error

	masterDelay time.Duration
	block       chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		created: make(map[string]int),
		handles: make(map[string]*fakeHandle),
		fail:    make(map[string]error),
	}
}

func (e *fakeEngine) create(id string) (pipeline.Handle, error) {
	if e.block != nil {
		<-e.block
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	if err := e.fail[id]; err != nil {
		return nil, err
	}
	e.created[id]++
	h := &fakeHandle{id: id}
	e.handles[id] = h
	return h, nil
}

func (e *fakeEngine) CreateDuplexRealtimeOutput(_ context.Context, id string, _ pipeline.DuplexConfig) (pipeline.Handle, error) {
	return e.create(id)
}

func (e *fakeEngine) CreatePackagedAudioOutput(_ context.Context, id string, _ pipeline.PackagingConfig) (pipeline.Handle, error) {
	return e.create(id)
}

func (e *fakeEngine) CreatePackagedVideoOutput(_ context.Context, id string, _ pipeline.PackagingConfig) (pipeline.Handle, error) {
	return e.create(id)
}

func (e *fakeEngine) CreateMasterManifestOutput(_ context.Context, id string, _ pipeline.MasterManifestConfig) (pipeline.Handle, error) {
	if e.masterDelay > 0 {
		time.Sleep(e.masterDelay)
	}
	return e.create(id)
}

func (e *fakeEngine) handle(id string) *fakeHandle {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.handles[id]
}

func (e *fakeEngine) count(id string) int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.created[id]
}

func (e *fakeEngine) setFailure(id string, err error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if err == nil {
		delete(e.fail, id)
	} else {
		e.fail[id] = err
	}
}

type testProvisioner struct {
	*Provisioner
	engine   *fakeEngine
	registry *registry.Registry
	source   *fakeSource
	recorder *notify.Recorder
}

func newTestProvisioner(t *testing.T) *testProvisioner {
	engine := newFakeEngine()
	reg := registry.New()
	src := &fakeSource{}
	rec := notify.NewRecorder()
	monitor, err := stats.NewMonitor(nil, "NE_test")
	require.NoError(t, err)

	p := New(engine, reg, src, params.OutputParams{Destinations: params.DefaultDestinations()}, monitor, rec)
	t.Cleanup(p.Stop)

	return &testProvisioner{
		Provisioner: p,
		engine:      engine,
		registry:    reg,
		source:      src,
		recorder:    rec,
	}
}

func masterSubscriptions(p *testProvisioner, app string) []pipeline.Subscription {
	h := p.engine.handle(params.MasterOutputID(app))
	if h == nil {
		return nil
	}
	return h.subscriptions()
}

func TestProvisionRenditions(t *testing.T) {
	p := newTestProvisioner(t)
	ctx := context.Background()

	require.NoError(t, p.Provision(ctx, "live", "low"))
	require.NoError(t, p.Provision(ctx, "live", "high"))

	require.Equal(t, []pipeline.Subscription{
		pipeline.SubscribeAudioVideo(p.source, "live", "low"),
		pipeline.SubscribeAudioVideo(p.source, "live", "high"),
	}, masterSubscriptions(p, "live"))

	for _, r := range []string{"low", "high"} {
		require.Equal(t, 1, p.engine.count(params.DuplexOutputID("live", r)))
		require.Equal(t, []pipeline.Subscription{pipeline.SubscribeAudioVideo(p.source, "live", r)},
			p.engine.handle(params.DuplexOutputID("live", r)).subscriptions())
		require.Equal(t, []pipeline.Subscription{pipeline.SubscribeAudio(p.source, "live", r)},
			p.engine.handle(params.AudioOutputID("live", r)).subscriptions())
		require.Equal(t, []pipeline.Subscription{pipeline.SubscribeVideo(p.source, "live", r)},
			p.engine.handle(params.VideoOutputID("live", r)).subscriptions())
	}
	require.Equal(t, 1, p.engine.count(params.MasterOutputID("live")))

	info, err := p.registry.Lookup(ctx, "live")
	require.NoError(t, err)
	require.Equal(t, "active", info.State)
	require.Equal(t, []string{"low", "high"}, info.Renditions)
	require.Equal(t, registry.RenditionOutput{
		Duplex: "webrtc-live-high",
		Audio:  "hls-live-high-audio",
		Video:  "hls-live-high-video",
	}, info.Outputs["high"])

	events := p.recorder.Events()
	require.Len(t, events, 2)
	require.Equal(t, notify.EventRenditionProvisioned, events[1].Type)
	require.Equal(t, []string{"low", "high"}, events[1].Renditions)
}

func TestProvisionIsIdempotent(t *testing.T) {
	p := newTestProvisioner(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Provision(ctx, "live", "low"))
	}

	for _, id := range []string{
		params.MasterOutputID("live"),
		params.DuplexOutputID("live", "low"),
		params.AudioOutputID("live", "low"),
		params.VideoOutputID("live", "low"),
	} {
		require.Equal(t, 1, p.engine.count(id), id)
	}
	require.Equal(t, []pipeline.Subscription{
		pipeline.SubscribeAudioVideo(p.source, "live", "low"),
	}, masterSubscriptions(p, "live"))
}

func TestProvisionOrderIndependent(t *testing.T) {
	orders := [][]string{
		{"low", "medium", "high"},
		{"high", "low", "medium"},
		{"medium", "high", "low", "high"},
	}

	for i, order := range orders {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			p := newTestProvisioner(t)
			ctx := context.Background()

			for _, r := range order {
				require.NoError(t, p.Provision(ctx, "live", r))
			}

			subs := masterSubscriptions(p, "live")
			require.Len(t, subs, 3)
			require.ElementsMatch(t, []pipeline.Subscription{
				pipeline.SubscribeAudioVideo(p.source, "live", "low"),
				pipeline.SubscribeAudioVideo(p.source, "live", "medium"),
				pipeline.SubscribeAudioVideo(p.source, "live", "high"),
			}, subs)
			// arrival order is kept
			require.Equal(t, order[0], subs[0].Selector.Rendition)
		})
	}
}

func TestProvisionConcurrentFirstArrival(t *testing.T) {
	for i := 0; i < 20; i++ {
		p := newTestProvisioner(t)
		p.engine.masterDelay = 5 * time.Millisecond
		ctx := context.Background()

		var wg sync.WaitGroup
		for _, r := range []string{"low", "high"} {
			wg.Add(1)
			go func(r string) {
				defer wg.Done()
				require.NoError(t, p.Provision(ctx, "live", r))
			}(r)
		}
		wg.Wait()

		require.Equal(t, 1, p.engine.count(params.MasterOutputID("live")))
		require.ElementsMatch(t, []pipeline.Subscription{
			pipeline.SubscribeAudioVideo(p.source, "live", "low"),
			pipeline.SubscribeAudioVideo(p.source, "live", "high"),
		}, masterSubscriptions(p, "live"))
	}
}

func TestProvisionFailure(t *testing.T) {
	p := newTestProvisioner(t)
	ctx := context.Background()

	p.engine.setFailure(params.AudioOutputID("live", "low"), fmt.Errorf("engine unavailable"))

	err := p.Provision(ctx, "live", "low")
	var perr *errors.ProvisioningError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, errors.StepAudio, perr.Step)
	require.Equal(t, "live", perr.Application)
	require.Equal(t, "low", perr.Rendition)

	// outputs built before the failing step are kept, the rendition is not listed
	info, err := p.registry.Lookup(ctx, "live")
	require.NoError(t, err)
	require.Equal(t, "initializing", info.State)
	require.Empty(t, info.Renditions)
	require.Equal(t, "webrtc-live-low", info.Outputs["low"].Duplex)
	require.Empty(t, info.Outputs["low"].Audio)
	require.Empty(t, masterSubscriptions(p, "live"))

	// the application is not blocked
	require.NoError(t, p.Provision(ctx, "live", "high"))
	require.Equal(t, []pipeline.Subscription{
		pipeline.SubscribeAudioVideo(p.source, "live", "high"),
	}, masterSubscriptions(p, "live"))

	// re-arrival completes the rendition without duplicating outputs
	p.engine.setFailure(params.AudioOutputID("live", "low"), nil)
	require.NoError(t, p.Provision(ctx, "live", "low"))
	require.Equal(t, 1, p.engine.count(params.DuplexOutputID("live", "low")))
	require.Equal(t, 1, p.engine.count(params.AudioOutputID("live", "low")))
	require.Equal(t, []pipeline.Subscription{
		pipeline.SubscribeAudioVideo(p.source, "live", "high"),
		pipeline.SubscribeAudioVideo(p.source, "live", "low"),
	}, masterSubscriptions(p, "live"))

	events := p.recorder.Events()
	require.Equal(t, notify.EventProvisioningFailed, events[0].Type)
	require.Contains(t, events[0].Error, "engine unavailable")
}

func TestProvisionMasterFailure(t *testing.T) {
	p := newTestProvisioner(t)
	ctx := context.Background()

	p.engine.setFailure(params.MasterOutputID("live"), fmt.Errorf("no storage"))

	err := p.Provision(ctx, "live", "low")
	var perr *errors.ProvisioningError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, errors.StepMaster, perr.Step)
	require.Zero(t, p.engine.count(params.DuplexOutputID("live", "low")))

	// other applications are unaffected
	require.NoError(t, p.Provision(ctx, "other", "low"))

	p.engine.setFailure(params.MasterOutputID("live"), nil)
	require.NoError(t, p.Provision(ctx, "live", "low"))
	require.Equal(t, 1, p.engine.count(params.MasterOutputID("live")))
}

func TestProvisionMasterSubscribeFailure(t *testing.T) {
	p := newTestProvisioner(t)
	ctx := context.Background()

	require.NoError(t, p.Provision(ctx, "live", "low"))
	master := p.engine.handle(params.MasterOutputID("live"))
	master.lock.Lock()
	master.err = fmt.Errorf("subscribe refused")
	master.lock.Unlock()

	err := p.Provision(ctx, "live", "high")
	var perr *errors.ProvisioningError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, errors.StepMasterSubscribe, perr.Step)

	master.lock.Lock()
	master.err = nil
	master.lock.Unlock()

	// the next unit re-derives the full set
	require.NoError(t, p.Provision(ctx, "live", "high"))
	require.Equal(t, []pipeline.Subscription{
		pipeline.SubscribeAudioVideo(p.source, "live", "low"),
		pipeline.SubscribeAudioVideo(p.source, "live", "high"),
	}, masterSubscriptions(p, "live"))
}

func TestSubmitDoesNotWait(t *testing.T) {
	p := newTestProvisioner(t)
	p.engine.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- p.Submit("live", "low")
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("submit waited for output creation")
	}
	require.NoError(t, p.Submit("live", "high"))
	require.NoError(t, p.Submit("other", "low"))

	close(p.engine.block)
	require.Eventually(t, func() bool {
		return len(masterSubscriptions(p, "live")) == 2 && len(masterSubscriptions(p, "other")) == 1
	}, time.Second, 10*time.Millisecond)

	// submission order is kept per application
	require.Equal(t, "low", masterSubscriptions(p, "live")[0].Selector.Rendition)

	p.Stop()
	require.ErrorIs(t, p.Submit("live", "medium"), errors.ErrQueueClosed)
}

func TestProvisionWithLocalEngine(t *testing.T) {
	table, err := params.NewRenditionTable(params.DefaultRenditions())
	require.NoError(t, err)

	engine := local.NewEngine("http://localhost", table)
	src := &fakeSource{}
	p := New(engine, registry.New(), src, params.OutputParams{Destinations: params.DefaultDestinations()}, nil, nil)
	defer p.Stop()

	ctx := context.Background()
	require.NoError(t, p.Provision(ctx, "live", "low"))
	require.NoError(t, p.Provision(ctx, "live", "high"))

	pl, err := engine.MasterPlaylist("live")
	require.NoError(t, err)
	require.Empty(t, pl.Variants)

	src.publish("live", "low")
	src.publish("live", "high")
	pl, err = engine.MasterPlaylist("live")
	require.NoError(t, err)
	require.Len(t, pl.Variants, 2)
	require.Equal(t, "low", pl.Variants[0].Name)
	require.Equal(t, "high", pl.Variants[1].Name)

	o, ok := engine.Output(params.VideoOutputID("live", "high"))
	require.True(t, ok)
	require.Equal(t, []types.StreamKey{
		{ProgramNumber: 1, StreamID: 2, SourceName: "live", RenditionName: "high", Kind: types.Video},
	}, o.Selected())
}
