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

package config

import (
	"time"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/livekit/abr-ingress/pkg/errors"
	"github.com/livekit/abr-ingress/pkg/params"
	"github.com/livekit/abr-ingress/pkg/pipeline"
	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/redis"
	"github.com/livekit/protocol/utils/guid"
)

const (
	DefaultRTMPPort   int = 1935
	DefaultHealthPort     = 8080

	DefaultRotationInterval = 2 * time.Second
	DefaultFrameInterval    = 40 * time.Millisecond
)

type Config struct {
	Redis         *redis.RedisConfig `yaml:"redis"` // optional, enables provisioning events
	NotifyChannel string             `yaml:"notify_channel"`

	HealthPort     int    `yaml:"health_port"`
	PrometheusPort int    `yaml:"prometheus_port"`
	RTMPPort       int    `yaml:"rtmp_port"`
	PlayerBaseURL  string `yaml:"player_base_url"`

	LogLevel string        `yaml:"log_level"`
	Logging  LoggingConfig `yaml:"logging"`

	Renditions          map[string]int         `yaml:"renditions"`
	AllowedApplications []string               `yaml:"allowed_applications"`
	Packaging           params.PackagingParams `yaml:"packaging"`
	Destinations        []params.Destination   `yaml:"destinations"`
	Duplex              params.DuplexParams    `yaml:"duplex"`
	StatsInterval       time.Duration          `yaml:"stats_interval"`
	Compose             ComposeConfig          `yaml:"compose"`

	// internal
	NodeID string `yaml:"-"`
}

type LoggingConfig struct {
	JSON bool `yaml:"json"`
}

// ComposeConfig enables a compose stage cycling through Layouts. The first layout is
// active on start.
type ComposeConfig struct {
	Layouts          []pipeline.ComposeConfig `yaml:"layouts"`
	RotationInterval time.Duration            `yaml:"rotation_interval"`
	FrameInterval    time.Duration            `yaml:"frame_interval"`
}

func (c *ComposeConfig) Enabled() bool {
	return len(c.Layouts) > 0
}

func NewConfig(confString string) (*Config, error) {
	conf := &Config{
		LogLevel: "info",
		NodeID:   guid.New("NE_"),
	}
	if confString != "" {
		if err := yaml.Unmarshal([]byte(confString), conf); err != nil {
			return nil, errors.ErrCouldNotParseConfig(err)
		}
	}

	if conf.RTMPPort == 0 {
		conf.RTMPPort = DefaultRTMPPort
	}
	if conf.HealthPort == 0 {
		conf.HealthPort = DefaultHealthPort
	}
	if len(conf.Renditions) == 0 {
		conf.Renditions = params.DefaultRenditions()
	}
	if len(conf.Destinations) == 0 {
		conf.Destinations = params.DefaultDestinations()
	}
	conf.Packaging.SetDefaults()
	if conf.Compose.RotationInterval == 0 {
		conf.Compose.RotationInterval = DefaultRotationInterval
	}
	if conf.Compose.FrameInterval == 0 {
		conf.Compose.FrameInterval = DefaultFrameInterval
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}

	conf.InitLogger()
	return conf, nil
}

func (c *Config) validate() error {
	if c.Packaging.PartDuration > c.Packaging.SegmentDuration {
		return errors.ErrInvalidConfig("packaging part_duration exceeds segment_duration")
	}
	if c.StatsInterval < 0 {
		return errors.ErrInvalidConfig("negative stats_interval")
	}
	if c.Compose.RotationInterval < 0 || c.Compose.FrameInterval < 0 {
		return errors.ErrInvalidConfig("negative compose interval")
	}
	for _, l := range c.Compose.Layouts {
		if err := l.Validate(); err != nil {
			return errors.ErrInvalidConfig(err.Error())
		}
	}
	for _, d := range c.Destinations {
		if d.Type == "" {
			return errors.ErrInvalidConfig("destination without type")
		}
	}
	return nil
}

func (c *Config) RenditionTable() (*params.RenditionTable, error) {
	return params.NewRenditionTable(c.Renditions)
}

func (c *Config) OutputParams() params.OutputParams {
	return params.OutputParams{
		Packaging:    c.Packaging,
		Destinations: c.Destinations,
		Duplex:       c.Duplex,
	}
}

// GetLoggerFields returns the fields attached to every go-rtmp connection log line.
func (c *Config) GetLoggerFields() map[string]interface{} {
	return map[string]interface{}{
		"nodeID": c.NodeID,
	}
}

func (c *Config) InitLogger() {
	conf := zap.NewProductionConfig()
	if !c.Logging.JSON {
		conf.Encoding = "console"
	}
	if c.LogLevel != "" {
		lvl := zapcore.Level(0)
		if err := lvl.UnmarshalText([]byte(c.LogLevel)); err == nil {
			conf.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	l, _ := conf.Build()
	logger.SetLogger(logger.LogRLogger(zapr.NewLogger(l).WithValues("nodeID", c.NodeID)), "abr-ingress")
}
