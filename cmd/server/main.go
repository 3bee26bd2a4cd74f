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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/livekit/abr-ingress/pkg/config"
	"github.com/livekit/abr-ingress/pkg/errors"
	"github.com/livekit/abr-ingress/pkg/rtmp"
	"github.com/livekit/abr-ingress/pkg/service"
	"github.com/livekit/abr-ingress/version"
	"github.com/livekit/protocol/logger"
)

func main() {
	cmd := &cli.Command{
		Name:        "abr-ingress",
		Usage:       "LiveKit ABR Ingress",
		Version:     version.Version,
		Description: "admits RTMP renditions and routes them to adaptive bitrate outputs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "yaml config file",
				Sources: cli.EnvVars("ROUTER_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "config-body",
				Usage:   "yaml config body",
				Sources: cli.EnvVars("ROUTER_CONFIG_BODY"),
			},
		},
		Action: runService,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runService(_ context.Context, c *cli.Command) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	rtmpsrv := rtmp.NewRTMPServer()

	svc, err := service.NewService(conf, rtmpsrv, nil)
	if err != nil {
		return err
	}

	if err = rtmpsrv.Start(conf, svc.HandleConnection, svc.HandleStream); err != nil {
		return err
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)

	go func() {
		sig := <-stopChan
		logger.Infow("exit requested, shutting down", "signal", sig)
		_ = rtmpsrv.Stop()
		svc.Stop()
	}()

	return svc.Run()
}

func getConfig(c *cli.Command) (*config.Config, error) {
	configFile := c.String("config")
	configBody := c.String("config-body")
	if configBody == "" {
		if configFile == "" {
			return nil, errors.ErrNoConfig
		}
		content, err := os.ReadFile(configFile)
		if err != nil {
			return nil, err
		}
		configBody = string(content)
	}

	return config.NewConfig(configBody)
}
