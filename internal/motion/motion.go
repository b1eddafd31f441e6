// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package motion turns device motion into forward/backward camera travel.
//
// Samples from one of several sensor backends are accumulated into a scalar
// velocity as they arrive; every render tick the velocity is damped and
// applied to the active camera along its forward vector. The two steps are
// deliberately separate so the camera comes to rest even when samples stop.
package motion

import (
	"errors"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Failure classes surfaced by sources, gates and the manager.
var (
	ErrUnsupported      = errors.New("motion sensing unsupported")
	ErrPermissionDenied = errors.New("motion permission denied")
	ErrInitialization   = errors.New("motion sensor initialization failed")
	ErrModelLoad        = errors.New("model load failed")
)

// Backend identifies a sensor acquisition mechanism.
type Backend int

const (
	// RawMotionEvent delivers ambient motion events that carry their own
	// elapsed-time information.
	RawMotionEvent Backend = iota
	// GenericSensor polls an accelerometer at a fixed requested frequency.
	GenericSensor
	// FusionLibrary streams pre-fused motion deltas at the library's cadence.
	FusionLibrary
)

func (b Backend) String() string {
	switch b {
	case RawMotionEvent:
		return "raw"
	case GenericSensor:
		return "generic"
	case FusionLibrary:
		return "fusion"
	default:
		return "unknown"
	}
}

// Sample is one acceleration reading along the device's forward/back axis.
type Sample struct {
	Acceleration float64 // m/s²
	DT           float64 // seconds covered by this sample
	Timestamp    time.Time
	Backend      Backend
}

// Camera is the scene's active camera. The controller never owns it.
type Camera interface {
	Position() r3.Vec
	SetPosition(r3.Vec)
	Forward() r3.Vec
}

// Scene is the 3D scene collaborator.
type Scene interface {
	ActiveCamera() Camera
	// OnBeforeRender registers fn to run before every rendered frame and
	// returns a function that removes it.
	OnBeforeRender(fn func()) (remove func())
	// DeltaTime is the duration of the current frame in seconds.
	DeltaTime() float64
	Render()
	LoadModel(path string) error
}

// Engine is the render engine collaborator. All tasks posted to it and all
// frames it renders run on a single goroutine.
type Engine interface {
	RunRenderLoop(frame func())
	// Post queues task to run on the engine goroutine. It reports false if
	// the engine was already disposed and the task was dropped.
	Post(task func()) bool
	Dispose()
}

// Notifier surfaces user-visible failures.
type Notifier interface {
	Alert(err error)
}
