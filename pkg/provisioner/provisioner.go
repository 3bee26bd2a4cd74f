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
	"time"

	"github.com/livekit/abr-ingress/pkg/errors"
	"github.com/livekit/abr-ingress/pkg/notify"
	"github.com/livekit/abr-ingress/pkg/params"
	"github.com/livekit/abr-ingress/pkg/pipeline"
	"github.com/livekit/abr-ingress/pkg/registry"
	"github.com/livekit/abr-ingress/pkg/stats"
	"github.com/livekit/abr-ingress/pkg/utils"
	"github.com/livekit/protocol/logger"
)

// Provisioner builds the outputs of every admitted rendition and keeps the master manifest
// of each application subscribed to all of its known renditions.
type Provisioner struct {
	engine   pipeline.Engine
	registry *registry.Registry
	source   pipeline.Source
	params   params.OutputParams
	monitor  *stats.Monitor
	notifier notify.Notifier

	queue *utils.KeyedQueue
}

func New(
	engine pipeline.Engine,
	reg *registry.Registry,
	source pipeline.Source,
	outputParams params.OutputParams,
	monitor *stats.Monitor,
	notifier notify.Notifier,
) *Provisioner {
	if notifier == nil {
		notifier = notify.NewNoopNotifier()
	}
	outputParams.Packaging.SetDefaults()

	return &Provisioner{
		engine:   engine,
		registry: reg,
		source:   source,
		params:   outputParams,
		monitor:  monitor,
		notifier: notifier,
		queue:    utils.NewKeyedQueue(),
	}
}

// Submit schedules provisioning of (app, rendition) and returns without waiting for it.
// Work for one application runs in submission order.
func (p *Provisioner) Submit(app, rendition string) error {
	err := p.queue.Submit(app, func() {
		_ = p.Provision(context.Background(), app, rendition)
	})
	if err != nil {
		return err
	}

	logger.Debugw("provisioning scheduled",
		"application", app,
		"rendition", rendition,
		"queued", p.queue.QueueLength(app),
	)
	return nil
}

// Stop refuses new work and waits for submitted work to finish.
func (p *Provisioner) Stop() {
	p.queue.Close()
	p.queue.Wait()
}

// Provision runs one serialized unit of work for app. Outputs that already exist are kept,
// so provisioning the same pair again creates nothing new. On failure the application keeps
// whatever was built before the failing step.
func (p *Provisioner) Provision(ctx context.Context, app, rendition string) error {
	l := logger.GetLogger().WithValues("application", app, "rendition", rendition)
	start := time.Now()

	var renditions []string
	err := p.registry.Apply(ctx, app, func(a *registry.Application) error {
		if err := p.ensureMaster(ctx, l, a, rendition); err != nil {
			return err
		}
		if err := p.ensureRenditionOutputs(ctx, l, a, rendition); err != nil {
			return err
		}

		if a.AddRendition(rendition) {
			l.Infow("rendition added", "renditions", a.Renditions)
		}

		subs := make([]pipeline.Subscription, 0, len(a.Renditions))
		for _, r := range a.Renditions {
			subs = append(subs, pipeline.SubscribeAudioVideo(p.source, app, r))
		}
		if err := a.Master.Subscribe(subs); err != nil {
			return errors.NewProvisioningError(app, rendition, errors.StepMasterSubscribe, err)
		}

		a.State = registry.StateActive
		renditions = append([]string(nil), a.Renditions...)
		return nil
	})

	if err != nil {
		step := "unknown"
		var perr *errors.ProvisioningError
		if errors.As(err, &perr) {
			step = string(perr.Step)
		}
		l.Warnw("provisioning failed", err, "step", step)
		if p.monitor != nil {
			p.monitor.ProvisioningFailed(step)
		}
		p.notify(ctx, l, &notify.Event{
			Type:        notify.EventProvisioningFailed,
			Application: app,
			Rendition:   rendition,
			Error:       err.Error(),
		})
		return err
	}

	if p.monitor != nil {
		p.monitor.ProvisioningDone(time.Since(start).Seconds())
		p.monitor.SetRenditions(app, len(renditions))
	}
	p.notify(ctx, l, &notify.Event{
		Type:        notify.EventRenditionProvisioned,
		Application: app,
		Rendition:   rendition,
		Renditions:  renditions,
	})

	return nil
}

func (p *Provisioner) ensureMaster(ctx context.Context, l logger.Logger, a *registry.Application, rendition string) error {
	if a.Master != nil {
		return nil
	}

	h, err := p.engine.CreateMasterManifestOutput(ctx, params.MasterOutputID(a.Name), pipeline.MasterManifestConfig{
		PlaylistName: a.Name,
		Destinations: p.params.Destinations,
	})
	if err != nil {
		return errors.NewProvisioningError(a.Name, rendition, errors.StepMaster, err)
	}
	a.Master = h
	p.outputCreated(errors.StepMaster)

	if u, ok := h.(pipeline.PlayerURLProvider); ok {
		l.Infow("master playlist ready", "outputID", h.ID(), "playerURL", u.PlayerURL())
	}
	return nil
}

func (p *Provisioner) ensureRenditionOutputs(ctx context.Context, l logger.Logger, a *registry.Application, rendition string) error {
	app := a.Name
	outputs := a.RenditionOutputs(rendition)
	packaging := pipeline.PackagingConfig{
		Packaging:    p.params.Packaging,
		Destinations: p.params.Destinations,
	}

	if outputs.Duplex == nil {
		h, err := p.engine.CreateDuplexRealtimeOutput(ctx, params.DuplexOutputID(app, rendition), pipeline.DuplexConfig{
			ICEServers: p.params.Duplex.ICEServers,
		})
		if err != nil {
			return errors.NewProvisioningError(app, rendition, errors.StepDuplex, err)
		}
		outputs.Duplex = h
		p.outputCreated(errors.StepDuplex)

		if u, ok := h.(pipeline.PlayerURLProvider); ok {
			l.Infow("duplex output ready", "outputID", h.ID(), "playerURL", u.PlayerURL())
		} else {
			l.Infow("duplex output ready", "outputID", h.ID())
		}
	}
	if err := outputs.Duplex.Subscribe([]pipeline.Subscription{
		pipeline.SubscribeAudioVideo(p.source, app, rendition),
	}); err != nil {
		return errors.NewProvisioningError(app, rendition, errors.StepDuplex, err)
	}

	if outputs.Audio == nil {
		h, err := p.engine.CreatePackagedAudioOutput(ctx, params.AudioOutputID(app, rendition), packaging)
		if err != nil {
			return errors.NewProvisioningError(app, rendition, errors.StepAudio, err)
		}
		outputs.Audio = h
		p.outputCreated(errors.StepAudio)
	}
	if err := outputs.Audio.Subscribe([]pipeline.Subscription{
		pipeline.SubscribeAudio(p.source, app, rendition),
	}); err != nil {
		return errors.NewProvisioningError(app, rendition, errors.StepAudio, err)
	}

	if outputs.Video == nil {
		h, err := p.engine.CreatePackagedVideoOutput(ctx, params.VideoOutputID(app, rendition), packaging)
		if err != nil {
			return errors.NewProvisioningError(app, rendition, errors.StepVideo, err)
		}
		outputs.Video = h
		p.outputCreated(errors.StepVideo)
	}
	if err := outputs.Video.Subscribe([]pipeline.Subscription{
		pipeline.SubscribeVideo(p.source, app, rendition),
	}); err != nil {
		return errors.NewProvisioningError(app, rendition, errors.StepVideo, err)
	}

	return nil
}

func (p *Provisioner) outputCreated(step errors.ProvisioningStep) {
	if p.monitor != nil {
		p.monitor.OutputCreated(string(step))
	}
}

func (p *Provisioner) notify(ctx context.Context, l logger.Logger, e *notify.Event) {
	if err := p.notifier.Notify(ctx, e); err != nil {
		l.Warnw("failed to send provisioning event", err, "event", e.Type)
	}
}
