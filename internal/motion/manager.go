package motion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
)

// Options configures a Manager.
type Options struct {
	Params Params
	// Drivers in preference order; the first available one is used.
	Drivers []Driver
	// NewScene builds the scene and engine for one activation.
	NewScene func() (Scene, Engine)
	// Notifier receives user-visible failures. May be nil.
	Notifier  Notifier
	ModelPath string
}

// Manager ties a sensor source to scene activation and guarantees that
// everything it starts is released on teardown.
type Manager struct {
	params   Params
	drivers  []Driver
	newScene func() (Scene, Engine)
	notifier Notifier
	model    string

	mu   sync.Mutex
	sess *session
}

// session holds everything created for one activation.
type session struct {
	id     string
	scene  Scene
	engine Engine

	driver     Driver
	perm       *Permission
	source     Source
	removeHook func()
	ctx        context.Context
	cancel     context.CancelFunc
	cancelled  bool

	state   State
	samples uint64
	ticks   uint64
}

// NewManager validates opts and returns an idle Manager.
func NewManager(opts Options) (*Manager, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if opts.NewScene == nil {
		return nil, errors.New("motion: NewScene is required")
	}
	return &Manager{
		params:   opts.Params,
		drivers:  opts.Drivers,
		newScene: opts.NewScene,
		notifier: opts.Notifier,
		model:    opts.ModelPath,
	}, nil
}

// Activate creates the scene, starts its render loop and begins the
// permission handshake for the first available backend. Calling it while a
// session is live is a no-op. It returns ErrUnsupported when no backend is
// available; the scene stays up without motion controls in that case.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != nil {
		log.Printf("motion: session %s already active", m.sess.id)
		return nil
	}

	sc, eng := m.newScene()
	sess := &session{
		id:     uuid.NewString(),
		scene:  sc,
		engine: eng,
		perm:   NewPermission(),
	}
	m.sess = sess
	log.Printf("motion: session %s activated", sess.id)

	if m.model != "" {
		if err := sc.LoadModel(m.model); err != nil {
			err = fmt.Errorf("%w: %v", ErrModelLoad, err)
			log.Printf("motion: %v", err)
			m.alert(err)
		}
	}
	eng.RunRenderLoop(sc.Render)

	driver := m.selectDriver()
	if driver == nil {
		err := fmt.Errorf("%w: no backend available (tried %s)", ErrUnsupported, m.driverNames())
		log.Printf("motion: session %s: %v", sess.id, err)
		m.alert(err)
		return err
	}
	sess.driver = driver
	sess.ctx, sess.cancel = context.WithCancel(context.WithoutCancel(ctx))
	log.Printf("motion: session %s using %s backend, requesting permission", sess.id, driver.Kind())

	gate := driver.Gate()
	go func() {
		out := Authorize(sess.ctx, gate, sess.perm)
		if !eng.Post(func() { m.resolve(sess, out) }) {
			log.Printf("motion: session %s: permission resolved after engine disposal, ignoring", sess.id)
			release(driver)
		}
	}()
	return nil
}

func (m *Manager) selectDriver() Driver {
	for _, d := range m.drivers {
		if d.Available() {
			return d
		}
		log.Printf("motion: %s backend unavailable", d.Kind())
	}
	return nil
}

func (m *Manager) driverNames() string {
	if len(m.drivers) == 0 {
		return "none"
	}
	names := make([]string, len(m.drivers))
	for i, d := range m.drivers {
		names[i] = d.Kind().String()
	}
	return strings.Join(names, ", ")
}

// resolve runs on the engine goroutine once the permission handshake ends.
// The source is started without holding the lock so a Teardown arriving
// meanwhile can cancel it.
func (m *Manager) resolve(sess *session, out Outcome) {
	m.mu.Lock()
	if sess.cancelled || m.sess != sess {
		m.mu.Unlock()
		log.Printf("motion: session %s torn down before permission resolved, not starting source", sess.id)
		release(sess.driver)
		return
	}
	if !out.Granted {
		m.mu.Unlock()
		log.Printf("motion: session %s: %v", sess.id, out.Reason)
		release(sess.driver)
		m.alert(out.Reason)
		return
	}

	src := sess.driver.NewSource(sess.perm)
	sess.source = src
	src.OnSample(func(s Sample) {
		sess.engine.Post(func() { m.accumulate(sess, s) })
	})
	m.mu.Unlock()

	err := src.Start(sess.ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	torn := sess.cancelled || m.sess != sess
	if err != nil {
		src.OnSample(nil)
		src.Stop()
		log.Printf("motion: session %s: %s source start: %v", sess.id, src.Kind(), err)
		if !torn {
			m.alert(err)
		}
		return
	}
	if torn {
		// Teardown already stopped the source.
		log.Printf("motion: session %s torn down while %s source was starting", sess.id, src.Kind())
		return
	}

	sess.removeHook = sess.scene.OnBeforeRender(func() { m.tick(sess) })
	log.Printf("motion: session %s: %s source active", sess.id, src.Kind())
}

func (m *Manager) accumulate(sess *session, s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.cancelled || m.sess != sess {
		return
	}
	sess.state = Accumulate(sess.state, m.params, s)
	sess.samples++
}

// tick runs before every frame: decay first, then move the camera.
func (m *Manager) tick(sess *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.cancelled || m.sess != sess {
		return
	}
	sess.ticks++
	sess.state = Decay(sess.state, m.params)
	if sess.state.VelocityZ == 0 {
		return
	}
	cam := sess.scene.ActiveCamera()
	if cam == nil {
		return
	}
	delta := Displacement(sess.state, cam.Forward(), sess.scene.DeltaTime())
	cam.SetPosition(r3.Add(cam.Position(), delta))
}

// Teardown stops the source, detaches the render hook and disposes the
// engine. It is idempotent, and a permission request still in flight will
// not start a source afterwards.
func (m *Manager) Teardown() {
	m.mu.Lock()
	sess := m.sess
	if sess == nil {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	sess.cancelled = true
	src, remove, cancel := sess.source, sess.removeHook, sess.cancel
	sess.removeHook = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if src != nil {
		src.OnSample(nil)
		src.Stop()
	}
	if remove != nil {
		remove()
	}
	sess.engine.Dispose()
	log.Printf("motion: session %s torn down", sess.id)
}

func (m *Manager) alert(err error) {
	if m.notifier != nil && err != nil {
		m.notifier.Alert(err)
	}
}

// Snapshot is a read-only view of the controller for UIs.
type Snapshot struct {
	Active     bool       `json:"active"`
	SessionID  string     `json:"session_id,omitempty"`
	Backend    string     `json:"backend,omitempty"`
	Permission string     `json:"permission"`
	Source     string     `json:"source"`
	VelocityZ  float64    `json:"velocity_z"`
	Position   [3]float64 `json:"position"`
	Samples    uint64     `json:"samples"`
	Ticks      uint64     `json:"ticks"`
}

// Snapshot returns the current controller state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.sess
	if sess == nil {
		return Snapshot{
			Permission: PermissionNotRequested.String(),
			Source:     SourceIdle.String(),
		}
	}
	snap := Snapshot{
		Active:     true,
		SessionID:  sess.id,
		Permission: sess.perm.State().String(),
		Source:     SourceIdle.String(),
		VelocityZ:  sess.state.VelocityZ,
		Samples:    sess.samples,
		Ticks:      sess.ticks,
	}
	if sess.driver != nil {
		snap.Backend = sess.driver.Kind().String()
	}
	if sess.source != nil {
		snap.Source = sess.source.Status().String()
	}
	if cam := sess.scene.ActiveCamera(); cam != nil {
		p := cam.Position()
		snap.Position = [3]float64{p.X, p.Y, p.Z}
	}
	return snap
}
