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

package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/livekit/abr-ingress/pkg/admission"
	"github.com/livekit/abr-ingress/pkg/config"
	"github.com/livekit/abr-ingress/pkg/notify"
	"github.com/livekit/abr-ingress/pkg/pipeline"
	"github.com/livekit/abr-ingress/pkg/pipeline/local"
	"github.com/livekit/abr-ingress/pkg/provisioner"
	"github.com/livekit/abr-ingress/pkg/registry"
	"github.com/livekit/abr-ingress/pkg/stats"
	"github.com/livekit/abr-ingress/pkg/types"
	"github.com/livekit/abr-ingress/version"
	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/redis"
)

const (
	shutdownTimeout = time.Second * 10

	composeStageID = "compose"
)

type routeRegistrar interface {
	RegisterRoutes(r *mux.Router)
}

// Service owns the admission path and the provisioning of every admitted rendition.
type Service struct {
	conf *config.Config

	gatekeeper  *admission.Gatekeeper
	controller  *admission.Controller
	registry    *registry.Registry
	engine      pipeline.Engine
	provisioner *provisioner.Provisioner
	monitor     *stats.Monitor

	compose *pipeline.ComposeStage
	rotator *pipeline.LayoutRotator

	healthServer *http.Server
	promServer   *http.Server

	shutdown core.Fuse
}

// NewService builds the service around source. A nil engine runs the in-process engine.
func NewService(conf *config.Config, source pipeline.Source, engine pipeline.Engine) (*Service, error) {
	table, err := conf.RenditionTable()
	if err != nil {
		return nil, err
	}

	if engine == nil {
		engine = local.NewEngine(conf.PlayerBaseURL, table)
	}

	var reg prometheus.Registerer
	if conf.PrometheusPort > 0 {
		reg = prometheus.DefaultRegisterer
	}
	monitor, err := stats.NewMonitor(reg, conf.NodeID)
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier(conf)
	if err != nil {
		monitor.Stop()
		return nil, err
	}

	policy := admission.AcceptAll()
	if len(conf.AllowedApplications) > 0 {
		policy = admission.AllowList(conf.AllowedApplications)
	}

	apps := registry.New()
	s := &Service{
		conf:        conf,
		gatekeeper:  admission.NewGatekeeper(policy),
		controller:  admission.NewController(table),
		registry:    apps,
		engine:      engine,
		provisioner: provisioner.New(engine, apps, source, conf.OutputParams(), monitor, notifier),
		monitor:     monitor,
	}

	if conf.Compose.Enabled() {
		if err = s.setupCompose(); err != nil {
			monitor.Stop()
			return nil, err
		}
	}

	if conf.HealthPort > 0 {
		s.healthServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", conf.HealthPort),
			Handler: s.Router(),
		}
	}
	if conf.PrometheusPort > 0 {
		s.promServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", conf.PrometheusPort),
			Handler: promhttp.Handler(),
		}
	}

	return s, nil
}

func (s *Service) setupCompose() error {
	layouts := s.conf.Compose.Layouts

	stage, err := pipeline.NewComposeStage(composeStageID, layouts[0])
	if err != nil {
		return err
	}
	s.compose = stage

	if len(layouts) > 1 {
		// the first layout is already active, rotation starts from the second
		order := append(append([]pipeline.ComposeConfig(nil), layouts[1:]...), layouts[0])
		s.rotator, err = pipeline.NewLayoutRotator(stage, s.conf.Compose.RotationInterval, order)
		if err != nil {
			return err
		}
	}

	return nil
}

func newNotifier(conf *config.Config) (notify.Notifier, error) {
	if conf.Redis == nil {
		return notify.NewNoopNotifier(), nil
	}

	rc, err := redis.GetRedisClient(conf.Redis)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return notify.NewNoopNotifier(), nil
	}

	channel := conf.NotifyChannel
	if channel == "" {
		channel = notify.DefaultChannel
	}
	return notify.NewRedisNotifier(rc, channel, conf.NodeID), nil
}

// HandleConnection decides whether a publisher connection may proceed.
func (s *Service) HandleConnection(conn types.Connection) bool {
	accept := s.gatekeeper.DecideConnection(conn)
	s.monitor.ConnectionDecided(accept)
	return accept
}

// HandleStream decides on a published stream. Provisioning of an accepted rendition is
// scheduled and runs after the decision has been returned.
func (s *Service) HandleStream(conn types.Connection, streamID uint32, publishingName string) types.StreamDecision {
	d := s.controller.DecideStream(conn, streamID, publishingName)
	s.monitor.StreamDecided(d.Accept)
	if !d.Accept {
		return d
	}

	if err := s.provisioner.Submit(conn.ApplicationName, publishingName); err != nil {
		logger.Warnw("could not schedule provisioning", err,
			"application", conn.ApplicationName,
			"rendition", publishingName,
		)
	}

	return d
}

func (s *Service) Registry() *registry.Registry {
	return s.registry
}

func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/applications", s.listApplicationsHandler).Methods(http.MethodGet)
	r.HandleFunc("/applications/{app}", s.getApplicationHandler).Methods(http.MethodGet)
	r.HandleFunc("/compose", s.composeHandler).Methods(http.MethodGet)
	if rr, ok := s.engine.(routeRegistrar); ok {
		rr.RegisterRoutes(r)
	}
	return r
}

func (s *Service) Run() error {
	logger.Debugw("starting service", "version", version.Version)

	var eg errgroup.Group
	for _, srv := range []*http.Server{s.healthServer, s.promServer} {
		if srv == nil {
			continue
		}
		l, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return err
		}
		eg.Go(func() error {
			if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	if s.compose != nil {
		go s.compose.Run(s.conf.Compose.FrameInterval)
	}
	if s.rotator != nil {
		go s.rotator.Run()
	}

	logger.Infow("service ready")

	<-s.shutdown.Watch()
	logger.Infow("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range []*http.Server{s.healthServer, s.promServer} {
		if srv != nil {
			_ = srv.Shutdown(ctx)
		}
	}

	if s.rotator != nil {
		s.rotator.Stop()
	}
	if s.compose != nil {
		s.compose.Stop()
	}
	s.provisioner.Stop()
	s.monitor.Stop()

	return eg.Wait()
}

func (s *Service) Stop() {
	s.shutdown.Break()
}
