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

package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/livekit/abr-ingress/pkg/errors"
	"github.com/livekit/abr-ingress/pkg/pipeline"
)

type State int

const (
	StateUnknown State = iota
	StateInitializing
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

type RenditionOutputs struct {
	Duplex pipeline.Handle
	Audio  pipeline.Handle
	Video  pipeline.Handle
}

// Application is only ever touched from inside Registry.Apply for its name.
type Application struct {
	Name       string
	State      State
	Renditions []string
	Master     pipeline.Handle
	Outputs    map[string]*RenditionOutputs
}

func (a *Application) HasRendition(name string) bool {
	for _, r := range a.Renditions {
		if r == name {
			return true
		}
	}
	return false
}

// AddRendition appends name in arrival order and reports whether it was new.
func (a *Application) AddRendition(name string) bool {
	if a.HasRendition(name) {
		return false
	}
	a.Renditions = append(a.Renditions, name)
	return true
}

// RenditionOutputs returns the output set for name, creating an empty one if needed.
func (a *Application) RenditionOutputs(name string) *RenditionOutputs {
	o, ok := a.Outputs[name]
	if !ok {
		o = &RenditionOutputs{}
		a.Outputs[name] = o
	}
	return o
}

type ApplicationInfo struct {
	Name       string                     `json:"name"`
	State      string                     `json:"state"`
	Renditions []string                   `json:"renditions"`
	Master     string                     `json:"master,omitempty"`
	Outputs    map[string]RenditionOutput `json:"outputs,omitempty"`
}

type RenditionOutput struct {
	Duplex string `json:"duplex,omitempty"`
	Audio  string `json:"audio,omitempty"`
	Video  string `json:"video,omitempty"`
}

func (a *Application) info() ApplicationInfo {
	info := ApplicationInfo{
		Name:       a.Name,
		State:      a.State.String(),
		Renditions: append([]string{}, a.Renditions...),
		Master:     handleID(a.Master),
		Outputs:    make(map[string]RenditionOutput, len(a.Outputs)),
	}
	for name, o := range a.Outputs {
		info.Outputs[name] = RenditionOutput{
			Duplex: handleID(o.Duplex),
			Audio:  handleID(o.Audio),
			Video:  handleID(o.Video),
		}
	}
	return info
}

func handleID(h pipeline.Handle) string {
	if h == nil {
		return ""
	}
	return h.ID()
}

type appLock struct {
	ch   chan struct{}
	refs int
}

// Registry maps application names to their state. Work on one application is serialized,
// work on different applications runs in parallel.
type Registry struct {
	lock  sync.Mutex
	apps  map[string]*Application
	locks map[string]*appLock
}

func New() *Registry {
	return &Registry{
		apps:  make(map[string]*Application),
		locks: make(map[string]*appLock),
	}
}

// Apply runs fn with exclusive access to the named application. An entry in the
// Initializing state is reserved first if none exists, so concurrent callers for a new
// application observe the reservation and wait their turn. The exclusion is released on
// every exit path, including a panicking fn.
func (r *Registry) Apply(ctx context.Context, name string, fn func(app *Application) error) error {
	l := r.acquireRef(name)
	defer r.releaseRef(name, l)

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.ch }()

	return fn(r.reserve(name))
}

// Lookup returns a snapshot of the named application.
func (r *Registry) Lookup(ctx context.Context, name string) (ApplicationInfo, error) {
	if !r.exists(name) {
		return ApplicationInfo{}, errors.ErrApplicationNotFound
	}

	var info ApplicationInfo
	err := r.Apply(ctx, name, func(app *Application) error {
		info = app.info()
		return nil
	})
	return info, err
}

// List returns snapshots of every known application, sorted by name.
func (r *Registry) List(ctx context.Context) ([]ApplicationInfo, error) {
	infos := make([]ApplicationInfo, 0)
	for _, name := range r.Names() {
		info, err := r.Lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (r *Registry) Names() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) exists(name string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	_, ok := r.apps[name]
	return ok
}

func (r *Registry) reserve(name string) *Application {
	r.lock.Lock()
	defer r.lock.Unlock()

	app, ok := r.apps[name]
	if !ok {
		app = &Application{
			Name:    name,
			State:   StateInitializing,
			Outputs: make(map[string]*RenditionOutputs),
		}
		r.apps[name] = app
	}
	return app
}

func (r *Registry) acquireRef(name string) *appLock {
	r.lock.Lock()
	defer r.lock.Unlock()

	l, ok := r.locks[name]
	if !ok {
		l = &appLock{ch: make(chan struct{}, 1)}
		r.locks[name] = l
	}
	l.refs++
	return l
}

func (r *Registry) releaseRef(name string, l *appLock) {
	r.lock.Lock()
	defer r.lock.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(r.locks, name)
	}
}
