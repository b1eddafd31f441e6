package motion

import (
	"context"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// fakeEngine queues posted tasks until the test drains them, standing in
// for the single render goroutine.
type fakeEngine struct {
	mu                 sync.Mutex
	tasks              []func()
	frame              func()
	posts              int
	disposed           int
	acceptAfterDispose bool
}

func (e *fakeEngine) RunRenderLoop(frame func()) {
	e.mu.Lock()
	e.frame = frame
	e.mu.Unlock()
}

func (e *fakeEngine) Post(task func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.posts++
	if e.disposed > 0 && !e.acceptAfterDispose {
		return false
	}
	e.tasks = append(e.tasks, task)
	return true
}

func (e *fakeEngine) Dispose() {
	e.mu.Lock()
	e.disposed++
	e.mu.Unlock()
}

func (e *fakeEngine) postCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.posts
}

func (e *fakeEngine) drain() {
	for {
		e.mu.Lock()
		if len(e.tasks) == 0 {
			e.mu.Unlock()
			return
		}
		task := e.tasks[0]
		e.tasks = e.tasks[1:]
		e.mu.Unlock()
		task()
	}
}

type fakeCamera struct {
	pos r3.Vec
	fwd r3.Vec
}

func (c *fakeCamera) Position() r3.Vec     { return c.pos }
func (c *fakeCamera) SetPosition(p r3.Vec) { c.pos = p }
func (c *fakeCamera) Forward() r3.Vec      { return c.fwd }

type fakeScene struct {
	mu      sync.Mutex
	cam     *fakeCamera
	hooks   map[int]func()
	next    int
	dt      float64
	loadErr error
	loaded  []string
}

func newFakeScene() *fakeScene {
	return &fakeScene{
		cam:   &fakeCamera{pos: r3.Vec{Z: -5}, fwd: r3.Vec{Z: 1}},
		hooks: make(map[int]func()),
	}
}

func (s *fakeScene) ActiveCamera() Camera { return s.cam }
func (s *fakeScene) DeltaTime() float64   { return s.dt }

func (s *fakeScene) OnBeforeRender(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.hooks[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.hooks, id)
		s.mu.Unlock()
	}
}

func (s *fakeScene) Render() {
	s.mu.Lock()
	hooks := make([]func(), 0, len(s.hooks))
	for _, h := range s.hooks {
		hooks = append(hooks, h)
	}
	s.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

func (s *fakeScene) LoadModel(path string) error {
	s.loaded = append(s.loaded, path)
	return s.loadErr
}

func (s *fakeScene) step(dt float64) {
	s.dt = dt
	s.Render()
}

func (s *fakeScene) hookCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hooks)
}

type fakeSource struct {
	Lifecycle
	perm     *Permission
	kind     Backend
	startErr error
	// starting, when set, makes Start signal on it and then block until
	// its context is cancelled.
	starting chan struct{}

	calls      sync.Mutex
	startCalls int
	stopCalls  int
	released   int
}

func (s *fakeSource) Kind() Backend { return s.kind }

func (s *fakeSource) Start(ctx context.Context) error {
	s.calls.Lock()
	s.startCalls++
	s.calls.Unlock()
	if err := s.Begin(s.perm); err != nil {
		return err
	}
	if s.starting != nil {
		s.starting <- struct{}{}
		<-ctx.Done()
		return s.Fail(ctx.Err())
	}
	if s.startErr != nil {
		return s.Fail(s.startErr)
	}
	s.Activate()
	return nil
}

func (s *fakeSource) Stop() {
	s.calls.Lock()
	defer s.calls.Unlock()
	s.stopCalls++
	if s.Halt() {
		s.released++
	}
}

func (s *fakeSource) counts() (stops, released int) {
	s.calls.Lock()
	defer s.calls.Unlock()
	return s.stopCalls, s.released
}

type fakeDriver struct {
	mu        sync.Mutex
	kind      Backend
	available bool
	gate      Gate
	startErr  error
	starting  chan struct{}
	sources   []*fakeSource
	releases  int
}

func (d *fakeDriver) Release() {
	d.mu.Lock()
	d.releases++
	d.mu.Unlock()
}

func (d *fakeDriver) releaseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases
}

func (d *fakeDriver) Kind() Backend   { return d.kind }
func (d *fakeDriver) Available() bool { return d.available }
func (d *fakeDriver) Gate() Gate      { return d.gate }

func (d *fakeDriver) NewSource(perm *Permission) Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	src := &fakeSource{perm: perm, kind: d.kind, startErr: d.startErr, starting: d.starting}
	d.sources = append(d.sources, src)
	return src
}

func (d *fakeDriver) source(i int) *fakeSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sources[i]
}

func (d *fakeDriver) sourceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sources)
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []error
}

func (n *fakeNotifier) Alert(err error) {
	n.mu.Lock()
	n.alerts = append(n.alerts, err)
	n.mu.Unlock()
}

func (n *fakeNotifier) all() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]error(nil), n.alerts...)
}

func grantGate() Gate {
	return InitGate(func(context.Context) error { return nil })
}
