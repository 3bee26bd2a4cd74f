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

package params

import (
	"fmt"
	"sort"

	"github.com/livekit/abr-ingress/pkg/errors"
)

// default renditions accepted when the config does not provide any
var defaultRenditions = map[string]int{
	"high":   800_000,
	"medium": 500_000,
	"low":    250_000,
}

func DefaultRenditions() map[string]int {
	ret := make(map[string]int, len(defaultRenditions))
	for name, bitrate := range defaultRenditions {
		ret[name] = bitrate
	}
	return ret
}

type RenditionPolicy struct {
	Name    string
	Bitrate int
}

// RenditionTable maps rendition names to their target encode parameters.
// It is read-only once built and safe for concurrent use.
type RenditionTable struct {
	policies map[string]RenditionPolicy
}

func NewRenditionTable(renditions map[string]int) (*RenditionTable, error) {
	t := &RenditionTable{
		policies: make(map[string]RenditionPolicy, len(renditions)),
	}
	for name, bitrate := range renditions {
		if name == "" {
			return nil, fmt.Errorf("%w: empty rendition name", errors.ErrInvalidRendition)
		}
		if bitrate <= 0 {
			return nil, fmt.Errorf("%w: rendition %q has bitrate %d", errors.ErrInvalidRendition, name, bitrate)
		}
		t.policies[name] = RenditionPolicy{Name: name, Bitrate: bitrate}
	}

	return t, nil
}

func (t *RenditionTable) IsKnown(name string) bool {
	_, ok := t.policies[name]
	return ok
}

func (t *RenditionTable) Get(name string) (RenditionPolicy, bool) {
	p, ok := t.policies[name]
	return p, ok
}

// Names returns the known renditions, highest bitrate first.
func (t *RenditionTable) Names() []string {
	names := make([]string, 0, len(t.policies))
	for name := range t.policies {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := t.policies[names[i]], t.policies[names[j]]
		if pi.Bitrate != pj.Bitrate {
			return pi.Bitrate > pj.Bitrate
		}
		return pi.Name < pj.Name
	})
	return names
}
