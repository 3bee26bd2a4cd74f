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
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	rtmpmsg "github.com/livekit/go-rtmp/message"
	"github.com/stretchr/testify/require"

	"github.com/livekit/abr-ingress/pkg/config"
	"github.com/livekit/abr-ingress/pkg/errors"
	"github.com/livekit/abr-ingress/pkg/params"
	"github.com/livekit/abr-ingress/pkg/pipeline"
	"github.com/livekit/abr-ingress/pkg/pipeline/local"
	"github.com/livekit/abr-ingress/pkg/registry"
	"github.com/livekit/abr-ingress/pkg/rtmp"
	"github.com/livekit/abr-ingress/pkg/types"
)

func newTestService(t *testing.T, confBody string) (*Service, *rtmp.RTMPServer, *config.Config) {
	conf, err := config.NewConfig(confBody)
	require.NoError(t, err)

	src := rtmp.NewRTMPServer()
	svc, err := NewService(conf, src, nil)
	require.NoError(t, err)
	return svc, src, conf
}

func publish(t *testing.T, svc *Service, src *rtmp.RTMPServer, conf *config.Config, app, rendition string) error {
	h := src.NewHandler(conf, svc.HandleConnection, svc.HandleStream)
	require.NoError(t, h.OnConnect(0, &rtmpmsg.NetConnectionConnect{
		Command: rtmpmsg.NetConnectionConnectCommand{App: app},
	}))
	return h.OnPublish(nil, 0, &rtmpmsg.NetStreamPublish{PublishingName: rendition})
}

func TestLiveRenditions(t *testing.T) {
	svc, src, conf := newTestService(t, "stats_interval: 1h")

	require.NoError(t, publish(t, svc, src, conf, "live", "low"))
	require.NoError(t, publish(t, svc, src, conf, "live", "high"))

	err := publish(t, svc, src, conf, "live", "ultra")
	var rejected *errors.AdmissionRejected
	require.True(t, errors.As(err, &rejected))
	require.Equal(t, errors.UnknownRenditionReason, rejected.Reason)

	// wait for submitted provisioning
	svc.provisioner.Stop()

	info, err := svc.Registry().Lookup(t.Context(), "live")
	require.NoError(t, err)
	require.Equal(t, registry.StateActive.String(), info.State)
	require.ElementsMatch(t, []string{"low", "high"}, info.Renditions)

	engine := svc.engine.(*local.Engine)
	master, ok := engine.Output(params.MasterOutputID("live"))
	require.True(t, ok)
	require.Len(t, master.Subscriptions(), 2)
	require.Len(t, master.Selected(), 4)
	for _, k := range master.Selected() {
		require.NotEqual(t, "ultra", k.RenditionName)
	}

	for _, r := range []string{"low", "high"} {
		for _, id := range []string{
			params.DuplexOutputID("live", r),
			params.AudioOutputID("live", r),
			params.VideoOutputID("live", r),
		} {
			_, ok := engine.Output(id)
			require.True(t, ok, id)
		}
	}
	require.Len(t, engine.OutputIDs(), 7)

	duplex, ok := engine.Output(params.DuplexOutputID("live", "low"))
	require.True(t, ok)
	require.Equal(t, "/webrtc/webrtc-live-low", duplex.PlayerURL())
}

func TestHandleConnectionAllowList(t *testing.T) {
	svc, _, _ := newTestService(t, "allowed_applications: [live]")

	require.True(t, svc.HandleConnection(types.Connection{ID: "CO_1", ApplicationName: "live"}))
	require.False(t, svc.HandleConnection(types.Connection{ID: "CO_2", ApplicationName: "other"}))
}

func TestHTTPHandlers(t *testing.T) {
	svc, src, conf := newTestService(t, "stats_interval: 1h")
	require.NoError(t, publish(t, svc, src, conf, "live", "low"))
	svc.provisioner.Stop()

	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	res, err = http.Get(srv.URL + "/applications")
	require.NoError(t, err)
	var apps []registry.ApplicationInfo
	require.NoError(t, json.NewDecoder(res.Body).Decode(&apps))
	res.Body.Close()
	require.Len(t, apps, 1)
	require.Equal(t, "live", apps[0].Name)
	require.Equal(t, params.MasterOutputID("live"), apps[0].Master)

	res, err = http.Get(srv.URL + "/applications/other")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()

	res, err = http.Get(srv.URL + "/compose")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()

	res, err = http.Get(srv.URL + "/hls/live/master.m3u8")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	svc.Stop()
	res, err = http.Get(srv.URL + "/")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	res.Body.Close()
}

const composeLayouts = `
compose:
  rotation_interval: 20ms
  frame_interval: 5ms
  layouts:
    - reference_stream: background
      parts:
        - pin: background
          opacity: 1
        - pin: embedded
          opacity: 1
          z_index: 1
          dest_rect: {x: 50, y: 5, width: 45, height: 45}
    - reference_stream: background
      parts:
        - pin: background
          opacity: 1
`

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestComposeRotation(t *testing.T) {
	port := freePort(t)
	svc, _, conf := newTestService(t, fmt.Sprintf("health_port: %d\n%s", port, composeLayouts))
	require.NotNil(t, svc.compose)
	require.NotNil(t, svc.rotator)
	require.Equal(t, conf.Compose.Layouts[0], svc.compose.Active())

	done := make(chan error, 1)
	go func() {
		done <- svc.Run()
	}()

	// one full cycle returns to the first layout
	require.Eventually(t, func() bool {
		return svc.compose.Replacements() >= 2
	}, 5*time.Second, 5*time.Millisecond)

	var info composeInfo
	require.Eventually(t, func() bool {
		res, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/compose", port))
		if err != nil {
			return false
		}
		defer res.Body.Close()
		return res.StatusCode == http.StatusOK && json.NewDecoder(res.Body).Decode(&info) == nil
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "compose", info.ID)
	require.NotZero(t, info.Replacements)
	require.Contains(t, []pipeline.ComposeConfig{conf.Compose.Layouts[0], conf.Compose.Layouts[1]}, info.Active)

	svc.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}
