package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// PermissionState tracks the authorization handshake for one session.
type PermissionState int

const (
	PermissionNotRequested PermissionState = iota
	PermissionRequesting
	PermissionGranted
	PermissionDenied
)

func (s PermissionState) String() string {
	switch s {
	case PermissionNotRequested:
		return "not_requested"
	case PermissionRequesting:
		return "requesting"
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Permission records the outcome of a gate for one session. It only moves
// forward; Denied is terminal.
type Permission struct {
	mu     sync.Mutex
	state  PermissionState
	reason error
}

func NewPermission() *Permission {
	return &Permission{}
}

func (p *Permission) State() PermissionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Reason is the denial cause, nil unless the state is Denied.
func (p *Permission) Reason() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// Granted reports whether access was granted.
func (p *Permission) Granted() bool {
	return p.State() == PermissionGranted
}

// Outcome is the uniform result of a permission handshake.
type Outcome struct {
	Granted bool
	Reason  error // why access was not granted; nil when Granted
}

// Gate performs one backend's authorization handshake. A nil error grants
// access. Request may block until the backend resolves.
type Gate interface {
	Request(ctx context.Context) error
}

// Authorize runs g and records the result in p. It never panics: errors and
// panics raised by the gate are converted into a Denied outcome. A
// permission already resolved is returned as is without asking again.
func Authorize(ctx context.Context, g Gate, p *Permission) (out Outcome) {
	p.mu.Lock()
	switch p.state {
	case PermissionGranted:
		p.mu.Unlock()
		return Outcome{Granted: true}
	case PermissionDenied:
		reason := p.reason
		p.mu.Unlock()
		return Outcome{Reason: reason}
	case PermissionRequesting:
		p.mu.Unlock()
		return Outcome{Reason: fmt.Errorf("%w: request already pending", ErrInitialization)}
	}
	p.state = PermissionRequesting
	p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Reason: fmt.Errorf("%w: gate panicked: %v", ErrInitialization, r)}
		}
		p.mu.Lock()
		if out.Granted {
			p.state = PermissionGranted
		} else {
			p.state = PermissionDenied
			p.reason = out.Reason
		}
		p.mu.Unlock()
	}()

	if g == nil {
		return Outcome{Reason: fmt.Errorf("%w: no permission gate", ErrUnsupported)}
	}
	if err := g.Request(ctx); err != nil {
		return Outcome{Reason: classify(err)}
	}
	return Outcome{Granted: true}
}

// classify keeps denial and unsupported errors as they are and files
// everything else under ErrInitialization.
func classify(err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnsupported) || errors.Is(err, ErrInitialization) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInitialization, err)
}

// StatusGate adapts an explicit permission call that resolves to a status
// string. Anything other than "granted" is a denial; an error is a
// rejection of the call itself.
type StatusGate func(ctx context.Context) (string, error)

func (g StatusGate) Request(ctx context.Context) error {
	status, err := g(ctx)
	if err != nil {
		return err
	}
	if status != "granted" {
		return fmt.Errorf("%w: status %q", ErrPermissionDenied, status)
	}
	return nil
}

// ConstructGate adapts backends whose permission check happens when the
// sensor is constructed (which may fail or panic synchronously) and,
// optionally, when it is started (which reports asynchronously).
type ConstructGate struct {
	Construct func() error
	Start     func(ctx context.Context) <-chan error
}

func (g ConstructGate) Request(ctx context.Context) error {
	if err := g.construct(); err != nil {
		return err
	}
	if g.Start == nil {
		return nil
	}
	select {
	case err := <-g.Start(ctx):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g ConstructGate) construct() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sensor constructor panicked: %v", ErrInitialization, r)
		}
	}()
	if g.Construct == nil {
		return nil
	}
	return g.Construct()
}

// InitGate adapts a third-party initialization call that rejects on failure.
type InitGate func(ctx context.Context) error

func (g InitGate) Request(ctx context.Context) error {
	return g(ctx)
}
