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

package admission

import (
	"github.com/livekit/abr-ingress/pkg/types"
	"github.com/livekit/protocol/logger"
)

// ConnectionPolicy decides whether a publishing connection may proceed. Implementations
// are called on the handshake path and must not block.
type ConnectionPolicy interface {
	AcceptConnection(conn types.Connection) bool
}

type ConnectionPolicyFunc func(conn types.Connection) bool

func (f ConnectionPolicyFunc) AcceptConnection(conn types.Connection) bool {
	return f(conn)
}

type acceptAll struct{}

func AcceptAll() ConnectionPolicy {
	return acceptAll{}
}

func (acceptAll) AcceptConnection(types.Connection) bool {
	return true
}

type allowList map[string]struct{}

// AllowList accepts connections whose application name is listed.
func AllowList(apps []string) ConnectionPolicy {
	l := make(allowList, len(apps))
	for _, app := range apps {
		l[app] = struct{}{}
	}
	return l
}

func (l allowList) AcceptConnection(conn types.Connection) bool {
	_, ok := l[conn.ApplicationName]
	return ok
}

type Gatekeeper struct {
	policy ConnectionPolicy
}

func NewGatekeeper(policy ConnectionPolicy) *Gatekeeper {
	if policy == nil {
		policy = AcceptAll()
	}
	return &Gatekeeper{policy: policy}
}

func (g *Gatekeeper) DecideConnection(conn types.Connection) bool {
	accept := g.policy.AcceptConnection(conn)
	logger.Infow("received connection",
		"connectionID", conn.ID,
		"application", conn.ApplicationName,
		"url", conn.URL,
		"accepted", accept,
	)
	return accept
}
