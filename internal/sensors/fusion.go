// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/ar_walk/internal/motion"
)

// defaultFusionRate is the delta cadence assumed when the service does not
// report one.
const defaultFusionRate = 60.0

const handshakeTimeout = 10 * time.Second

// FusionMessage is the wire format of the fusion service.
//
//	client → {"type":"init"}            handshake
//	server → {"type":"ready","rate":60} or {"type":"denied","reason":"..."}
//	client → {"type":"start"}
//	server → {"type":"delta","z":0.4}   one fused forward acceleration per step
type FusionMessage struct {
	Type   string  `json:"type"`
	Rate   float64 `json:"rate,omitempty"`
	Z      float64 `json:"z,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// FusionConfig describes the fusion service endpoint.
type FusionConfig struct {
	URL   string
	Token string
}

// FusionDriver is the FusionLibrary backend: a sensor-fusion service that
// streams fused forward deltas at its own cadence after an init handshake.
type FusionDriver struct {
	cfg    FusionConfig
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	rate float64
}

func NewFusionDriver(cfg FusionConfig) *FusionDriver {
	return &FusionDriver{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

func (d *FusionDriver) Kind() motion.Backend { return motion.FusionLibrary }

func (d *FusionDriver) Available() bool { return d.cfg.URL != "" }

// Gate dials the service and performs the init handshake. HTTP 401/403 and
// an explicit "denied" reply are denials.
func (d *FusionDriver) Gate() motion.Gate {
	return motion.InitGate(d.initialize)
}

func (d *FusionDriver) initialize(ctx context.Context) error {
	header := http.Header{}
	if d.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	conn, resp, err := d.dialer.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: fusion service returned %s", motion.ErrPermissionDenied, resp.Status)
		}
		return fmt.Errorf("fusion: dial %s: %w", d.cfg.URL, err)
	}

	rate, err := handshake(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}
	log.Printf("fusion: connected to %s at %.0f Hz", d.cfg.URL, rate)

	d.mu.Lock()
	prev := d.conn
	d.conn, d.rate = conn, rate
	d.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return nil
}

func handshake(ctx context.Context, conn *websocket.Conn) (float64, error) {
	deadline := time.Now().Add(handshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	if err := conn.WriteJSON(FusionMessage{Type: "init"}); err != nil {
		return 0, fmt.Errorf("fusion: send init: %w", err)
	}
	var reply FusionMessage
	if err := conn.ReadJSON(&reply); err != nil {
		return 0, fmt.Errorf("fusion: read init reply: %w", err)
	}
	switch reply.Type {
	case "ready":
		if reply.Rate > 0 {
			return reply.Rate, nil
		}
		return defaultFusionRate, nil
	case "denied":
		return 0, fmt.Errorf("%w: %s", motion.ErrPermissionDenied, reply.Reason)
	default:
		return 0, fmt.Errorf("fusion: unexpected init reply %q", reply.Type)
	}
}

// Release closes a connection that no source took over.
func (d *FusionDriver) Release() {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (d *FusionDriver) NewSource(perm *motion.Permission) motion.Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	rate := d.rate
	if rate <= 0 {
		rate = defaultFusionRate
	}
	src := &fusionSource{perm: perm, conn: d.conn, dt: 1 / rate}
	d.conn = nil
	return src
}

type fusionSource struct {
	motion.Lifecycle
	perm *motion.Permission
	conn *websocket.Conn
	dt   float64

	writeMu sync.Mutex
	done    chan struct{}
}

func (s *fusionSource) Kind() motion.Backend { return motion.FusionLibrary }

func (s *fusionSource) Start(ctx context.Context) error {
	if err := s.Begin(s.perm); err != nil {
		return err
	}
	if s.conn == nil {
		return s.Fail(fmt.Errorf("%w: fusion service not initialized", motion.ErrInitialization))
	}
	if err := s.send(FusionMessage{Type: "start"}); err != nil {
		return s.Fail(fmt.Errorf("%w: fusion start: %w", motion.ErrInitialization, err))
	}

	s.done = make(chan struct{})
	if !s.Activate() {
		close(s.done)
		return nil
	}
	go s.read()
	return nil
}

func (s *fusionSource) send(m FusionMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(m)
}

func (s *fusionSource) read() {
	defer close(s.done)
	for {
		var m FusionMessage
		if err := s.conn.ReadJSON(&m); err != nil {
			if s.Status() == motion.SourceActive {
				log.Printf("fusion: read error: %v", err)
				s.Fail(err)
			}
			return
		}
		if m.Type != "delta" {
			continue
		}
		s.Emit(motion.Sample{
			Acceleration: m.Z,
			DT:           s.dt,
			Timestamp:    time.Now(),
			Backend:      motion.FusionLibrary,
		})
	}
}

func (s *fusionSource) Stop() {
	if !s.Halt() || s.conn == nil {
		return
	}
	s.writeMu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stop"),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	s.conn.Close()
	if s.done != nil {
		<-s.done
	}
	log.Printf("fusion: stream closed")
}
