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
	"fmt"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"
)

// Rect is expressed in units of the reference resolution.
type Rect struct {
	X      int `yaml:"x" json:"x"`
	Y      int `yaml:"y" json:"y"`
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

type ComposePart struct {
	Pin        string  `yaml:"pin" json:"pin"`
	Opacity    float64 `yaml:"opacity" json:"opacity"`
	ZIndex     int     `yaml:"z_index" json:"z_index"`
	SourceRect Rect    `yaml:"source_rect" json:"source_rect"`
	DestRect   Rect    `yaml:"dest_rect" json:"dest_rect"`
}

type ComposeConfig struct {
	ReferenceStream string        `yaml:"reference_stream" json:"reference_stream"`
	Parts           []ComposePart `yaml:"parts" json:"parts"`
}

func (c ComposeConfig) Validate() error {
	if c.ReferenceStream == "" {
		return fmt.Errorf("compose: missing reference stream")
	}

	pins := make(map[string]struct{}, len(c.Parts))
	hasReference := false
	for _, p := range c.Parts {
		if _, ok := pins[p.Pin]; ok {
			return fmt.Errorf("compose: duplicate pin %q", p.Pin)
		}
		pins[p.Pin] = struct{}{}
		if p.Opacity < 0 || p.Opacity > 1 {
			return fmt.Errorf("compose: pin %q opacity %v out of range", p.Pin, p.Opacity)
		}
		if p.Pin == c.ReferenceStream {
			hasReference = true
		}
	}
	if !hasReference {
		return fmt.Errorf("compose: reference stream %q has no part", c.ReferenceStream)
	}

	return nil
}

func (c ComposeConfig) clone() *ComposeConfig {
	ret := c
	ret.Parts = append([]ComposePart(nil), c.Parts...)
	return &ret
}

// ComposeStage is a multi-part layout stage. Its configuration is replaced as a whole and
// picked up at the next processing boundary, without recreating the stage.
type ComposeStage struct {
	id string

	pending atomic.Pointer[ComposeConfig]
	applied atomic.Uint64

	lock   sync.Mutex
	active *ComposeConfig

	closed core.Fuse
}

func NewComposeStage(id string, conf ComposeConfig) (*ComposeStage, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return &ComposeStage{
		id:     id,
		active: conf.clone(),
	}, nil
}

func (c *ComposeStage) ID() string {
	return c.id
}

// ReplaceConfig schedules conf for the next processing boundary. A later call before that
// boundary supersedes an earlier one.
func (c *ComposeStage) ReplaceConfig(conf ComposeConfig) error {
	if err := conf.Validate(); err != nil {
		return err
	}

	c.pending.Store(conf.clone())
	return nil
}

// Process runs one processing boundary and returns the layout in effect for it.
func (c *ComposeStage) Process() ComposeConfig {
	c.lock.Lock()
	defer c.lock.Unlock()

	if next := c.pending.Swap(nil); next != nil {
		c.active = next
		c.applied.Inc()
		logger.Debugw("compose layout replaced", "stageID", c.id, "parts", len(next.Parts))
	}

	return *c.active.clone()
}

func (c *ComposeStage) Active() ComposeConfig {
	c.lock.Lock()
	defer c.lock.Unlock()

	return *c.active.clone()
}

// Replacements returns how many configurations have taken effect since creation.
func (c *ComposeStage) Replacements() uint64 {
	return c.applied.Load()
}

// Run processes a boundary every interval until Stop.
func (c *ComposeStage) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Process()
		case <-c.closed.Watch():
			return
		}
	}
}

func (c *ComposeStage) Stop() {
	c.closed.Break()
}

// LayoutRotator cycles a compose stage through a list of layouts.
type LayoutRotator struct {
	stage    *ComposeStage
	layouts  []ComposeConfig
	interval time.Duration

	next   int
	closed core.Fuse
}

func NewLayoutRotator(stage *ComposeStage, interval time.Duration, layouts []ComposeConfig) (*LayoutRotator, error) {
	if len(layouts) == 0 {
		return nil, fmt.Errorf("compose: no layouts to rotate")
	}
	for _, l := range layouts {
		if err := l.Validate(); err != nil {
			return nil, err
		}
	}

	return &LayoutRotator{
		stage:    stage,
		layouts:  layouts,
		interval: interval,
	}, nil
}

// Step replaces the stage configuration with the next layout.
func (r *LayoutRotator) Step() error {
	l := r.layouts[r.next%len(r.layouts)]
	r.next++
	return r.stage.ReplaceConfig(l)
}

func (r *LayoutRotator) Run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Step(); err != nil {
				logger.Warnw("failed to rotate layout", err, "stageID", r.stage.ID())
			}
		case <-r.closed.Watch():
			return
		}
	}
}

func (r *LayoutRotator) Stop() {
	r.closed.Break()
}
