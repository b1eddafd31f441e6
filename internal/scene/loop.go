// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package scene

import (
	"log"
	"sync"
	"time"
)

// Loop is the render engine: a single goroutine that runs posted tasks in
// order and renders a frame on every tick. Everything the motion controller
// mutates is touched from this goroutine only.
type Loop struct {
	interval time.Duration

	mu       sync.Mutex
	tasks    []func()
	frame    func()
	disposed bool

	wake     chan struct{}
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

// NewLoop starts a loop rendering at fps frames per second.
func NewLoop(fps int) *Loop {
	if fps <= 0 {
		fps = 60
	}
	l := &Loop{
		interval: time.Second / time.Duration(fps),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go l.run()
	return l
}

// RunRenderLoop sets the function called once per frame.
func (l *Loop) RunRenderLoop(frame func()) {
	l.mu.Lock()
	l.frame = frame
	l.mu.Unlock()
}

// Post queues task for the loop goroutine. It never blocks.
func (l *Loop) Post(task func()) bool {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Dispose stops the loop. Pending tasks are dropped. Safe to call more than
// once and from inside a task.
func (l *Loop) Dispose() {
	l.once.Do(func() {
		l.mu.Lock()
		l.disposed = true
		l.tasks = nil
		l.mu.Unlock()
		close(l.done)
	})
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.finished
}

func (l *Loop) run() {
	defer close(l.finished)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
			l.runTasks()
		case <-ticker.C:
			l.runTasks()
			l.mu.Lock()
			frame := l.frame
			l.mu.Unlock()
			if frame != nil {
				l.safely("frame", frame)
			}
		}
	}
}

func (l *Loop) runTasks() {
	for {
		l.mu.Lock()
		if l.disposed || len(l.tasks) == 0 {
			l.mu.Unlock()
			return
		}
		task := l.tasks[0]
		l.tasks = l.tasks[1:]
		l.mu.Unlock()
		l.safely("task", task)
	}
}

// safely keeps a panicking task or frame from killing the render loop.
func (l *Loop) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scene: %s panicked: %v", kind, r)
		}
	}()
	fn()
}
