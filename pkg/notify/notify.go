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

package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "abr_ingress_events"

type EventType string

const (
	EventRenditionProvisioned EventType = "rendition_provisioned"
	EventProvisioningFailed   EventType = "provisioning_failed"
)

type Event struct {
	Type        EventType `json:"type"`
	NodeID      string    `json:"node_id,omitempty"`
	Application string    `json:"application"`
	Rendition   string    `json:"rendition"`
	Renditions  []string  `json:"renditions,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}

// Notifier reports the outcome of provisioning work to observers outside the process.
type Notifier interface {
	Notify(ctx context.Context, e *Event) error
}

type redisNotifier struct {
	rc      redis.UniversalClient
	channel string
	nodeID  string
}

func NewRedisNotifier(rc redis.UniversalClient, channel, nodeID string) Notifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &redisNotifier{
		rc:      rc,
		channel: channel,
		nodeID:  nodeID,
	}
}

func (n *redisNotifier) Notify(ctx context.Context, e *Event) error {
	e.NodeID = n.nodeID
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixNano()
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	return n.rc.Publish(ctx, n.channel, b).Err()
}

type noopNotifier struct{}

func NewNoopNotifier() Notifier {
	return &noopNotifier{}
}

func (n *noopNotifier) Notify(context.Context, *Event) error {
	return nil
}

// Recorder keeps every event in memory.
type Recorder struct {
	lock   sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(_ context.Context, e *Event) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.events = append(r.events, *e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]Event(nil), r.events...)
}
