package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Source adapts one sensor backend into a uniform sample stream.
type Source interface {
	Kind() Backend
	// Start begins acquisition. It fails with ErrUnsupported when the
	// capability is missing and ErrPermissionDenied when the session's
	// permission was not granted.
	Start(ctx context.Context) error
	// Stop ends acquisition. It is idempotent and safe to call whether or
	// not Start ran or succeeded.
	Stop()
	// OnSample registers the sample callback; nil unregisters it.
	OnSample(fn func(Sample))
	Status() SourceStatus
}

// Driver describes a backend: how to detect it, how to authorize it and how
// to build a Source for it once authorized.
type Driver interface {
	Kind() Backend
	// Available reports whether the capability exists on this runtime.
	Available() bool
	Gate() Gate
	NewSource(perm *Permission) Source
}

// Releaser is implemented by drivers whose gate acquires a connection that
// the next Source takes over. Release closes it when no source will.
type Releaser interface {
	Release()
}

func release(d Driver) {
	if r, ok := d.(Releaser); ok {
		r.Release()
	}
}

// SourceStatus is a Source's position in its one-shot lifecycle.
type SourceStatus int

const (
	SourceIdle SourceStatus = iota
	SourceRequesting
	SourceActive
	SourceStopped
	SourceError
)

func (s SourceStatus) String() string {
	switch s {
	case SourceIdle:
		return "idle"
	case SourceRequesting:
		return "requesting"
	case SourceActive:
		return "active"
	case SourceStopped:
		return "stopped"
	case SourceError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrSourceClosed is returned when Start is called on a source that already
// left the Idle state.
var ErrSourceClosed = errors.New("motion source already started or stopped")

// Lifecycle is the state machine shared by every Source implementation:
// Idle → Requesting → Active → {Stopped, Error}. Backends embed it.
type Lifecycle struct {
	mu       sync.Mutex
	status   SourceStatus
	onSample func(Sample)
}

func (l *Lifecycle) Status() SourceStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Lifecycle) OnSample(fn func(Sample)) {
	l.mu.Lock()
	l.onSample = fn
	l.mu.Unlock()
}

// Begin moves Idle → Requesting after checking that perm was granted.
func (l *Lifecycle) Begin(perm *Permission) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != SourceIdle {
		return ErrSourceClosed
	}
	if perm == nil || perm.State() != PermissionGranted {
		l.status = SourceError
		if perm != nil && perm.Reason() != nil {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, perm.Reason())
		}
		return ErrPermissionDenied
	}
	l.status = SourceRequesting
	return nil
}

// Activate moves Requesting → Active. It reports false if the source was
// stopped while acquisition was being set up.
func (l *Lifecycle) Activate() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != SourceRequesting {
		return false
	}
	l.status = SourceActive
	return true
}

// Fail moves a non-terminal source to Error and returns err unchanged.
func (l *Lifecycle) Fail(err error) error {
	l.mu.Lock()
	if l.status != SourceStopped {
		l.status = SourceError
	}
	l.mu.Unlock()
	return err
}

// Halt moves the source to Stopped. It reports true exactly once, and only
// when acquisition had been set up, so the caller knows to release resources.
func (l *Lifecycle) Halt() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.status
	if prev == SourceStopped {
		return false
	}
	l.status = SourceStopped
	l.onSample = nil
	return prev == SourceRequesting || prev == SourceActive || prev == SourceError
}

// Emit delivers s to the registered callback while the source is Active.
func (l *Lifecycle) Emit(s Sample) {
	l.mu.Lock()
	fn := l.onSample
	active := l.status == SourceActive
	l.mu.Unlock()
	if active && fn != nil {
		fn(s)
	}
}
