// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/relabs-tech/ar_walk/internal/motion"
)

// MotionEvent is one device motion event as published on the motion topic.
// Interval is the device-reported time since the previous event.
type MotionEvent struct {
	Z         float64   `json:"z"`        // m/s² along the forward/back axis
	Interval  float64   `json:"interval"` // milliseconds
	Timestamp time.Time `json:"timestamp"`
}

// RawMotionConfig describes the broker and topic carrying motion events.
type RawMotionConfig struct {
	Broker   string
	Username string
	Password string
	ClientID string
	Topic    string
}

// RawMotionDriver is the RawMotionEvent backend: ambient motion events
// delivered over MQTT, each carrying its own elapsed time.
type RawMotionDriver struct {
	cfg       RawMotionConfig
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu     sync.Mutex
	client mqtt.Client
}

func NewRawMotionDriver(cfg RawMotionConfig) *RawMotionDriver {
	return &RawMotionDriver{cfg: cfg, newClient: mqtt.NewClient}
}

func (d *RawMotionDriver) Kind() motion.Backend { return motion.RawMotionEvent }

func (d *RawMotionDriver) Available() bool {
	return d.cfg.Broker != "" && d.cfg.Topic != ""
}

// Gate connects to the broker. A CONNACK refusing the credentials resolves
// to "denied".
func (d *RawMotionDriver) Gate() motion.Gate {
	return motion.StatusGate(d.connect)
}

func (d *RawMotionDriver) connect(ctx context.Context) (string, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(d.cfg.Broker).
		SetClientID(d.cfg.ClientID).
		SetAutoReconnect(true)
	if d.cfg.Username != "" {
		opts.SetUsername(d.cfg.Username).SetPassword(d.cfg.Password)
	}

	client := d.newClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		// Connect keeps running in paho; drop the client once it settles so
		// it cannot linger with the same client id.
		go func() {
			<-token.Done()
			client.Disconnect(250)
		}()
		return "", ctx.Err()
	}
	if err := token.Error(); err != nil {
		if errors.Is(err, packets.ErrorRefusedNotAuthorised) || errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) {
			log.Printf("motion events: broker %s refused credentials: %v", d.cfg.Broker, err)
			return "denied", nil
		}
		return "", fmt.Errorf("motion events: connect %s: %w", d.cfg.Broker, err)
	}
	log.Printf("motion events: connected to MQTT broker at %s", d.cfg.Broker)

	d.mu.Lock()
	prev := d.client
	d.client = client
	d.mu.Unlock()
	if prev != nil {
		prev.Disconnect(250)
	}
	return "granted", nil
}

// Release disconnects a client that no source took over.
func (d *RawMotionDriver) Release() {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
}

// NewSource hands the connected client to a new source.
func (d *RawMotionDriver) NewSource(perm *motion.Permission) motion.Source {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()
	return &rawMotionSource{perm: perm, client: client, topic: d.cfg.Topic}
}

type rawMotionSource struct {
	motion.Lifecycle
	perm   *motion.Permission
	client mqtt.Client
	topic  string

	mu   sync.Mutex
	last time.Time
}

func (s *rawMotionSource) Kind() motion.Backend { return motion.RawMotionEvent }

func (s *rawMotionSource) Start(ctx context.Context) error {
	if err := s.Begin(s.perm); err != nil {
		return err
	}
	if s.client == nil {
		return s.Fail(fmt.Errorf("%w: no broker connection", motion.ErrInitialization))
	}

	token := s.client.Subscribe(s.topic, 0, s.handle)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return s.Fail(ctx.Err())
	}
	if err := token.Error(); err != nil {
		return s.Fail(fmt.Errorf("%w: subscribe %s: %w", motion.ErrInitialization, s.topic, err))
	}
	s.Activate()
	log.Printf("motion events: subscribed to MQTT topic %s", s.topic)
	return nil
}

func (s *rawMotionSource) handle(_ mqtt.Client, msg mqtt.Message) {
	var ev MotionEvent
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		log.Printf("motion events: payload unmarshal error: %v", err)
		return
	}
	dt := s.elapsed(ev)
	if dt <= 0 {
		return
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	s.Emit(motion.Sample{
		Acceleration: ev.Z,
		DT:           dt,
		Timestamp:    ts,
		Backend:      motion.RawMotionEvent,
	})
}

// elapsed is the event interval in seconds, falling back to the gap
// between timestamps. It is zero when neither is known.
func (s *rawMotionSource) elapsed(ev MotionEvent) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.last
	if !ev.Timestamp.IsZero() {
		s.last = ev.Timestamp
	}
	if ev.Interval > 0 {
		return ev.Interval / 1000
	}
	if prev.IsZero() || ev.Timestamp.IsZero() || !ev.Timestamp.After(prev) {
		return 0
	}
	return ev.Timestamp.Sub(prev).Seconds()
}

func (s *rawMotionSource) Stop() {
	if !s.Halt() || s.client == nil {
		return
	}
	if token := s.client.Unsubscribe(s.topic); !token.WaitTimeout(time.Second) {
		log.Printf("motion events: unsubscribe %s timed out", s.topic)
	}
	s.client.Disconnect(250)
	log.Printf("motion events: disconnected")
}
