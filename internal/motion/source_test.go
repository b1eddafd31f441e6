package motion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func grantedPermission() *Permission {
	p := NewPermission()
	Authorize(context.Background(), grantGate(), p)
	return p
}

func TestLifecycle_StartWithoutGrant(t *testing.T) {
	src := &fakeSource{perm: NewPermission()}

	err := src.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, SourceError, src.Status())

	assert.NotPanics(t, src.Stop)
	assert.NotPanics(t, src.Stop)
	assert.Equal(t, SourceStopped, src.Status())
}

func TestLifecycle_StartAfterDenial(t *testing.T) {
	p := NewPermission()
	Authorize(context.Background(), InitGate(func(context.Context) error { return ErrPermissionDenied }), p)

	src := &fakeSource{perm: p}
	assert.ErrorIs(t, src.Start(context.Background()), ErrPermissionDenied)
}

func TestLifecycle_StopBeforeStart(t *testing.T) {
	src := &fakeSource{perm: grantedPermission()}
	src.Stop()
	assert.Equal(t, SourceStopped, src.Status())
	assert.Zero(t, src.released)

	// a stopped source cannot be restarted
	assert.ErrorIs(t, src.Start(context.Background()), ErrSourceClosed)
}

func TestLifecycle_StopReleasesOnce(t *testing.T) {
	src := &fakeSource{perm: grantedPermission()}
	assert.NoError(t, src.Start(context.Background()))
	assert.Equal(t, SourceActive, src.Status())

	src.Stop()
	src.Stop()
	assert.Equal(t, 1, src.released)
}

func TestLifecycle_EmitOnlyWhileActive(t *testing.T) {
	src := &fakeSource{perm: grantedPermission()}
	var got []Sample
	src.OnSample(func(s Sample) { got = append(got, s) })

	src.Emit(Sample{Acceleration: 1}) // idle
	assert.NoError(t, src.Start(context.Background()))
	src.Emit(Sample{Acceleration: 2})
	src.OnSample(nil)
	src.Emit(Sample{Acceleration: 3})
	src.OnSample(func(s Sample) { got = append(got, s) })
	src.Stop()
	src.Emit(Sample{Acceleration: 4})

	assert.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Acceleration)
}

func TestLifecycle_ActivateAfterStop(t *testing.T) {
	var l Lifecycle
	assert.NoError(t, l.Begin(grantedPermission()))
	l.Halt()
	assert.False(t, l.Activate())
	assert.Equal(t, SourceStopped, l.Status())
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "raw", RawMotionEvent.String())
	assert.Equal(t, "generic", GenericSensor.String())
	assert.Equal(t, "fusion", FusionLibrary.String())
	assert.Equal(t, "requesting", PermissionRequesting.String())
	assert.Equal(t, "stopped", SourceStopped.String())
}
