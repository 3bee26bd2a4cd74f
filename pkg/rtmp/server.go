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

package rtmp

import (
	"fmt"
	"io"
	"net"
	"slices"
	"sort"
	"sync"

	"github.com/frostbyte73/core"
	"github.com/livekit/go-rtmp"
	rtmpmsg "github.com/livekit/go-rtmp/message"
	log "github.com/sirupsen/logrus"
	flvtag "github.com/yutopp/go-flv/tag"

	"github.com/livekit/abr-ingress/pkg/admission"
	"github.com/livekit/abr-ingress/pkg/config"
	"github.com/livekit/abr-ingress/pkg/errors"
	"github.com/livekit/abr-ingress/pkg/stats"
	"github.com/livekit/abr-ingress/pkg/types"
	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/utils/guid"
)

const (
	SourceID = "rtmp"

	connectionPrefix = "CO_"
)

type OnConnectionFunc func(conn types.Connection) bool
type OnStreamFunc func(conn types.Connection, streamID uint32, publishingName string) types.StreamDecision

// RTMPServer accepts publishers and is the source every output subscribes to. Its
// streams are the keys of every stream admitted on a still open connection.
type RTMPServer struct {
	server *rtmp.Server

	lock    sync.RWMutex
	streams map[string][]types.StreamKey
}

func NewRTMPServer() *RTMPServer {
	return &RTMPServer{
		streams: make(map[string][]types.StreamKey),
	}
}

func (s *RTMPServer) ID() string {
	return SourceID
}

func (s *RTMPServer) Streams() []types.StreamKey {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var keys []types.StreamKey
	for _, k := range s.streams {
		keys = append(keys, k...)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

func (s *RTMPServer) Start(conf *config.Config, onConnection OnConnectionFunc, onStream OnStreamFunc) error {
	port := conf.RTMPPort

	tcpAddr, err := net.ResolveTCPAddr("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		logger.Errorw("failed to start TCP listener", err, "port", port)
		return err
	}

	srv := rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			l := log.StandardLogger()
			if conf.Logging.JSON {
				l.SetFormatter(&log.JSONFormatter{})
			}
			lf := l.WithFields(conf.GetLoggerFields())

			h := s.NewHandler(conf, onConnection, onStream)
			h.log.Debugw("tcp connection opened", "remoteAddr", conn.RemoteAddr().String())

			return conn, &rtmp.ConnConfig{
				Handler: h,

				ControlState: rtmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024 / 8,
				},

				Logger: lf,
			}
		},
	})

	s.server = srv
	go func() {
		if err := srv.Serve(listener); err != nil {
			logger.Errorw("failed to start RTMP server", err)
		}
	}()

	return nil
}

func (s *RTMPServer) Stop() error {
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

// NewHandler returns the handler serving a single connection.
func (s *RTMPServer) NewHandler(conf *config.Config, onConnection OnConnectionFunc, onStream OnStreamFunc) *RTMPHandler {
	connID := guid.New(connectionPrefix)
	h := &RTMPHandler{
		conn:         types.Connection{ID: connID},
		mediaStats:   stats.NewMediaStats(connID, conf.StatsInterval, nil),
		trackStats:   make(map[types.StreamKey]*stats.TrackStatGatherer),
		log:          logger.GetLogger().WithValues("connectionID", connID),
		onConnection: onConnection,
		onStream:     onStream,
	}
	h.onAccepted = func(keys ...types.StreamKey) {
		s.lock.Lock()
		defer s.lock.Unlock()

		// a republish on the same connection replaces its own keys
		var held []types.StreamKey
		for _, k := range s.streams[connID] {
			if !slices.Contains(keys, k) {
				held = append(held, k)
			}
		}
		s.streams[connID] = append(held, keys...)
	}
	h.onClose = func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		delete(s.streams, connID)
	}

	return h
}

type RTMPHandler struct {
	rtmp.DefaultHandler

	conn         types.Connection
	publishes    uint32
	mediaStats   *stats.MediaStatsReporter
	statsStarted bool
	trackStats   map[types.StreamKey]*stats.TrackStatGatherer
	audioKey     types.StreamKey
	videoKey     types.StreamKey

	log    logger.Logger
	closed core.Fuse

	onConnection OnConnectionFunc
	onStream     OnStreamFunc
	onAccepted   func(keys ...types.StreamKey)
	onClose      func()
}

func (h *RTMPHandler) Connection() types.Connection {
	return h.conn
}

func (h *RTMPHandler) OnConnect(timestamp uint32, cmd *rtmpmsg.NetConnectionConnect) error {
	h.conn.ApplicationName = cmd.Command.App
	h.conn.URL = cmd.Command.TCURL
	h.log = h.log.WithValues("application", h.conn.ApplicationName)

	if h.onConnection != nil && !h.onConnection(h.conn) {
		return errors.ErrConnectionRejected
	}

	return nil
}

func (h *RTMPHandler) OnPublish(_ *rtmp.StreamContext, timestamp uint32, cmd *rtmpmsg.NetStreamPublish) error {
	// Reject a stream when PublishingName is empty
	if cmd.PublishingName == "" {
		return errors.ErrMissingStreamKey
	}

	h.publishes++
	if h.onStream == nil {
		return nil
	}

	d := h.onStream(h.conn, h.publishes, cmd.PublishingName)
	if err := admission.DecisionError(d); err != nil {
		return err
	}

	h.audioKey, h.videoKey = *d.AudioStreamKey, *d.VideoStreamKey
	h.trackStats[h.audioKey] = h.mediaStats.RegisterTrack(h.audioKey)
	h.trackStats[h.videoKey] = h.mediaStats.RegisterTrack(h.videoKey)
	if !h.statsStarted {
		h.statsStarted = true
		h.mediaStats.Start()
	}
	if h.onAccepted != nil {
		h.onAccepted(h.audioKey, h.videoKey)
	}

	h.log.Infow("received a new published stream", "publishingName", cmd.PublishingName)

	return nil
}

func (h *RTMPHandler) OnAudio(timestamp uint32, payload io.Reader) error {
	if h.closed.IsBroken() {
		return io.EOF
	}

	var audio flvtag.AudioData
	if err := flvtag.DecodeAudioData(payload, &audio); err != nil {
		return err
	}

	n, err := io.Copy(io.Discard, audio.Data)
	if err != nil {
		return err
	}
	if st := h.trackStats[h.audioKey]; st != nil {
		st.MediaReceived(n)
	}

	return nil
}

func (h *RTMPHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	if h.closed.IsBroken() {
		return io.EOF
	}

	var video flvtag.VideoData
	if err := flvtag.DecodeVideoData(payload, &video); err != nil {
		return err
	}

	n, err := io.Copy(io.Discard, video.Data)
	if err != nil {
		return err
	}
	if st := h.trackStats[h.videoKey]; st != nil {
		st.MediaReceived(n)
	}

	return nil
}

func (h *RTMPHandler) OnClose() {
	h.log.Infow("closing RTMP connection")

	h.closed.Break()
	h.mediaStats.Close()

	if h.onClose != nil {
		h.onClose()
	}
}
