// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package scene is a headless stand-in for the 3D scene and render engine.
// It keeps the camera pose and the frame cadence; drawing the model is left
// to the web page that consumes the camera pose.
package scene

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/ar_walk/internal/motion"
)

// maxFrameDelta caps DeltaTime so a stalled frame loop cannot teleport the
// camera on the next frame.
const maxFrameDelta = 0.1

// Camera is a free camera described by a position and yaw/pitch angles in
// radians. Yaw 0 and pitch 0 face +Z.
type Camera struct {
	mu       sync.Mutex
	position r3.Vec
	yaw      float64
	pitch    float64
}

func NewCamera(position r3.Vec) *Camera {
	return &Camera{position: position}
}

func (c *Camera) Position() r3.Vec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *Camera) SetPosition(p r3.Vec) {
	c.mu.Lock()
	c.position = p
	c.mu.Unlock()
}

// Forward is the unit vector the camera faces.
func (c *Camera) Forward() r3.Vec {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := math.Cos(c.pitch)
	return r3.Vec{
		X: math.Sin(c.yaw) * cp,
		Y: math.Sin(c.pitch),
		Z: math.Cos(c.yaw) * cp,
	}
}

// LookAt turns the camera toward target. It does nothing when target is the
// camera position.
func (c *Camera) LookAt(target r3.Vec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := r3.Sub(target, c.position)
	if r3.Norm(d) < 1e-9 {
		return
	}
	d = r3.Unit(d)
	c.yaw = math.Atan2(d.X, d.Z)
	c.pitch = math.Asin(d.Y)
}

// Model records the asset the page is asked to render.
type Model struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

var modelExtensions = map[string]bool{
	".glb":  true,
	".gltf": true,
	".obj":  true,
	".stl":  true,
}

// Scene holds the active camera and the before-render hooks.
type Scene struct {
	camera *Camera
	now    func() time.Time

	mu        sync.Mutex
	hooks     []*hook
	lastFrame time.Time
	deltaTime float64
	model     *Model
}

type hook struct {
	fn      func()
	removed bool
}

func New(camera *Camera) *Scene {
	return &Scene{camera: camera, now: time.Now}
}

func (s *Scene) ActiveCamera() motion.Camera {
	if s.camera == nil {
		return nil
	}
	return s.camera
}

func (s *Scene) OnBeforeRender(fn func()) func() {
	h := &hook{fn: fn}
	s.mu.Lock()
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if h.removed {
			return
		}
		h.removed = true
		for i, cur := range s.hooks {
			if cur == h {
				s.hooks = append(s.hooks[:i], s.hooks[i+1:]...)
				break
			}
		}
	}
}

func (s *Scene) DeltaTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deltaTime
}

// Render advances the frame clock and runs the before-render hooks. The
// first frame has a zero delta.
func (s *Scene) Render() {
	now := s.now()
	s.mu.Lock()
	dt := 0.0
	if !s.lastFrame.IsZero() {
		dt = now.Sub(s.lastFrame).Seconds()
	}
	s.lastFrame = now
	s.mu.Unlock()
	s.Step(dt)
}

// Step runs one frame with an explicit delta in seconds.
func (s *Scene) Step(dt float64) {
	if dt < 0 {
		dt = 0
	}
	if dt > maxFrameDelta {
		dt = maxFrameDelta
	}
	s.mu.Lock()
	s.deltaTime = dt
	hooks := make([]*hook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	for _, h := range hooks {
		s.mu.Lock()
		removed := h.removed
		s.mu.Unlock()
		if !removed {
			h.fn()
		}
	}
}

// HookCount is the number of registered before-render hooks.
func (s *Scene) HookCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hooks)
}

// LoadModel checks that path names a readable model file of a known format
// and records it for the page.
func (s *Scene) LoadModel(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !modelExtensions[ext] {
		return fmt.Errorf("model %s: unsupported format %q", path, ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("model %s: %w", path, err)
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("model %s: not a model file", path)
	}
	s.mu.Lock()
	s.model = &Model{Path: path, Size: info.Size()}
	s.mu.Unlock()
	return nil
}

// Model returns the loaded model, or nil.
func (s *Scene) Model() *Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}
