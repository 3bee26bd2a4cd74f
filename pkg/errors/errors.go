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

package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNoConfig            = errors.New("missing config")
	ErrMissingStreamKey    = errors.New("missing stream key")
	ErrConnectionRejected  = errors.New("connection rejected")
	ErrQueueClosed         = errors.New("work queue closed")
	ErrDuplicateOutput     = errors.New("output already exists")
	ErrApplicationNotFound = errors.New("application not found")
	ErrInvalidRendition    = errors.New("invalid rendition policy")
)

const UnknownRenditionReason = "only known rendition names are accepted around here"

func New(err string) error {
	return errors.New(err)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func ErrCouldNotParseConfig(err error) error {
	return fmt.Errorf("could not parse config: %v", err)
}

func ErrInvalidConfig(reason string) error {
	return fmt.Errorf("invalid config: %s", reason)
}

// AdmissionRejected is returned to a publisher whose stream was refused. No state is
// mutated when it is produced.
type AdmissionRejected struct {
	Reason string
}

func NewAdmissionRejected(reason string) *AdmissionRejected {
	return &AdmissionRejected{Reason: reason}
}

func (e *AdmissionRejected) Error() string {
	return "stream rejected: " + e.Reason
}

type ProvisioningStep string

const (
	StepMaster          ProvisioningStep = "master"
	StepDuplex          ProvisioningStep = "duplex"
	StepAudio           ProvisioningStep = "audio"
	StepVideo           ProvisioningStep = "video"
	StepMasterSubscribe ProvisioningStep = "master_subscribe"
)

// ProvisioningError reports a collaborator failure while building the outputs of a rendition.
// It never reaches the publisher.
type ProvisioningError struct {
	Application string
	Rendition   string
	Step        ProvisioningStep
	Err         error
}

func NewProvisioningError(app, rendition string, step ProvisioningStep, err error) *ProvisioningError {
	return &ProvisioningError{
		Application: app,
		Rendition:   rendition,
		Step:        step,
		Err:         err,
	}
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s/%s failed at %s: %v", e.Application, e.Rendition, e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}
