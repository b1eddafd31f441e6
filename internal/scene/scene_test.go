package scene

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestCamera_LookAtForward(t *testing.T) {
	cam := NewCamera(r3.Vec{Z: -5})
	assert.InDelta(t, 1.0, cam.Forward().Z, 1e-12)

	cam.LookAt(r3.Vec{X: -5, Z: -5})
	fwd := cam.Forward()
	assert.InDelta(t, -1.0, fwd.X, 1e-12)
	assert.InDelta(t, 0.0, fwd.Z, 1e-12)
	assert.InDelta(t, 1.0, r3.Norm(fwd), 1e-12)

	cam.LookAt(r3.Vec{X: 0, Y: 5, Z: 0})
	fwd = cam.Forward()
	assert.InDelta(t, 1.0, r3.Norm(fwd), 1e-12)
	assert.InDelta(t, math.Sqrt2/2, fwd.Y, 1e-12)
}

func TestCamera_LookAtSelfIsNoop(t *testing.T) {
	cam := NewCamera(r3.Vec{X: 1, Y: 2, Z: 3})
	before := cam.Forward()
	cam.LookAt(r3.Vec{X: 1, Y: 2, Z: 3})
	assert.Equal(t, before, cam.Forward())
}

func TestScene_HooksAndDelta(t *testing.T) {
	s := New(NewCamera(r3.Vec{}))
	var order []string
	removeA := s.OnBeforeRender(func() { order = append(order, "a") })
	s.OnBeforeRender(func() { order = append(order, "b") })

	s.Step(0.016)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.InDelta(t, 0.016, s.DeltaTime(), 1e-12)

	removeA()
	removeA()
	s.Step(5)
	assert.Equal(t, []string{"a", "b", "b"}, order)
	assert.Equal(t, maxFrameDelta, s.DeltaTime())
	assert.Equal(t, 1, s.HookCount())
}

func TestScene_RenderUsesClock(t *testing.T) {
	s := New(NewCamera(r3.Vec{}))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	s.Render()
	assert.Equal(t, 0.0, s.DeltaTime())

	now = base.Add(20 * time.Millisecond)
	s.Render()
	assert.InDelta(t, 0.02, s.DeltaTime(), 1e-9)
}

func TestScene_HookRemovedDuringFrame(t *testing.T) {
	s := New(NewCamera(r3.Vec{}))
	calls := 0
	var removeB func()
	s.OnBeforeRender(func() { removeB() })
	removeB = s.OnBeforeRender(func() { calls++ })

	s.Step(0.016)
	assert.Zero(t, calls)
}

func TestScene_LoadModel(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "asset.glb")
	require.NoError(t, os.WriteFile(good, []byte("glTF"), 0o644))
	empty := filepath.Join(dir, "empty.glb")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	s := New(NewCamera(r3.Vec{}))
	assert.Error(t, s.LoadModel(filepath.Join(dir, "asset.png")))
	assert.Error(t, s.LoadModel(filepath.Join(dir, "missing.glb")))
	assert.Error(t, s.LoadModel(empty))
	assert.Nil(t, s.Model())

	require.NoError(t, s.LoadModel(good))
	assert.Equal(t, &Model{Path: good, Size: 4}, s.Model())
}

func TestLoop_RunsTasksInOrderAndFrames(t *testing.T) {
	l := NewLoop(200)
	defer l.Dispose()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}

	frames := make(chan struct{}, 16)
	l.RunRenderLoop(func() {
		select {
		case frames <- struct{}{}:
		default:
		}
	})

	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatal("no frame rendered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoop_DisposeIsIdempotent(t *testing.T) {
	l := NewLoop(60)
	l.Dispose()
	l.Dispose()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit")
	}
	assert.False(t, l.Post(func() {}))
}

func TestLoop_SurvivesPanickingTask(t *testing.T) {
	l := NewLoop(60)
	defer l.Dispose()

	ran := make(chan struct{})
	l.Post(func() { panic("boom") })
	l.Post(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task after panic did not run")
	}
}

func TestLoop_DisposeFromTask(t *testing.T) {
	l := NewLoop(60)
	l.Post(l.Dispose)

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit")
	}
}
