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
	"net/http"

	"github.com/gorilla/mux"

	"github.com/livekit/abr-ingress/pkg/errors"
	"github.com/livekit/abr-ingress/pkg/pipeline"
	"github.com/livekit/protocol/logger"
)

func (s *Service) healthHandler(w http.ResponseWriter, _ *http.Request) {
	if s.shutdown.IsBroken() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Shutting down"))
		return
	}
	_, _ = w.Write([]byte("Healthy"))
}

func (s *Service) listApplicationsHandler(w http.ResponseWriter, r *http.Request) {
	apps, err := s.registry.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), getErrorCode(err))
		return
	}
	writeJSON(w, apps)
}

func (s *Service) getApplicationHandler(w http.ResponseWriter, r *http.Request) {
	app, err := s.registry.Lookup(r.Context(), mux.Vars(r)["app"])
	if err != nil {
		http.Error(w, err.Error(), getErrorCode(err))
		return
	}
	writeJSON(w, app)
}

type composeInfo struct {
	ID           string                 `json:"id"`
	Active       pipeline.ComposeConfig `json:"active"`
	Replacements uint64                 `json:"replacements"`
}

func (s *Service) composeHandler(w http.ResponseWriter, r *http.Request) {
	if s.compose == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, composeInfo{
		ID:           s.compose.ID(),
		Active:       s.compose.Active(),
		Replacements: s.compose.Replacements(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debugw("failed writing response", "error", err)
	}
}

func getErrorCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errors.ErrApplicationNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
