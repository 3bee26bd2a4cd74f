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
	"github.com/livekit/abr-ingress/pkg/errors"
	"github.com/livekit/abr-ingress/pkg/params"
	"github.com/livekit/abr-ingress/pkg/types"
	"github.com/livekit/protocol/logger"
)

const (
	defaultProgramNumber = 1
	audioStreamID        = 1
	videoStreamID        = 2
)

// Controller admits the individual streams of an accepted connection.
type Controller struct {
	table *params.RenditionTable
}

func NewController(table *params.RenditionTable) *Controller {
	return &Controller{table: table}
}

// DecideStream accepts a stream only if its publishing name is a known rendition. It reads
// nothing but the rendition table and mutates nothing.
func (c *Controller) DecideStream(conn types.Connection, streamID uint32, publishingName string) types.StreamDecision {
	l := logger.GetLogger().WithValues(
		"connectionID", conn.ID,
		"application", conn.ApplicationName,
		"streamID", streamID,
		"publishingName", publishingName,
	)

	if !c.table.IsKnown(publishingName) {
		l.Infow("rejecting stream", "reason", errors.UnknownRenditionReason, "knownRenditions", c.table.Names())
		return types.StreamDecision{
			Accept: false,
			Reason: errors.UnknownRenditionReason,
		}
	}

	audio, video := StreamKeys(conn.ApplicationName, publishingName)
	l.Infow("accepting stream")

	return types.StreamDecision{
		Accept:         true,
		AudioStreamKey: &audio,
		VideoStreamKey: &video,
	}
}

// StreamKeys returns the keys assigned to the audio and video of an admitted stream.
func StreamKeys(app, rendition string) (audio types.StreamKey, video types.StreamKey) {
	audio = types.StreamKey{
		ProgramNumber: defaultProgramNumber,
		StreamID:      audioStreamID,
		SourceName:    app,
		RenditionName: rendition,
		Kind:          types.Audio,
	}
	video = audio
	video.StreamID = videoStreamID
	video.Kind = types.Video
	return
}

// DecisionError returns the rejection carried by d, or nil if d accepts.
func DecisionError(d types.StreamDecision) error {
	if d.Accept {
		return nil
	}
	return errors.NewAdmissionRejected(d.Reason)
}
