// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package notify surfaces user-visible failures to the web UI, MQTT and the
// log.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/ar_walk/internal/motion"
)

// Kind classifies an alert for the UI.
type Kind string

const (
	KindUnsupported      Kind = "unsupported"
	KindPermissionDenied Kind = "permission_denied"
	KindInitialization   Kind = "initialization"
	KindModelLoad        Kind = "model_load"
	KindError            Kind = "error"
)

// Alert is a blocking notification shown to the user.
type Alert struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
	Time    time.Time `json:"time"`
}

// FromError maps err onto the alert the user sees.
func FromError(err error, now time.Time) Alert {
	a := Alert{Kind: KindError, Message: "Something went wrong.", Time: now}
	if err != nil {
		a.Detail = err.Error()
	}
	switch {
	case errors.Is(err, motion.ErrUnsupported):
		a.Kind, a.Message = KindUnsupported, "Motion controls are not available on this device."
	case errors.Is(err, motion.ErrPermissionDenied):
		a.Kind, a.Message = KindPermissionDenied, "Motion access was denied. The scene stays available without walking."
	case errors.Is(err, motion.ErrInitialization):
		a.Kind, a.Message = KindInitialization, "The motion sensor could not be started."
	case errors.Is(err, motion.ErrModelLoad):
		a.Kind, a.Message = KindModelLoad, "The 3D model could not be loaded."
	}
	return a
}

// Sink delivers alerts somewhere the user will see them.
type Sink interface {
	Send(Alert) error
}

const recentLimit = 20

// Notifier fans alerts out to its sinks and always logs them.
type Notifier struct {
	now func() time.Time

	mu     sync.Mutex
	sinks  []Sink
	recent []Alert
}

func New(sinks ...Sink) *Notifier {
	return &Notifier{now: time.Now, sinks: sinks}
}

// AddSink registers another sink.
func (n *Notifier) AddSink(s Sink) {
	n.mu.Lock()
	n.sinks = append(n.sinks, s)
	n.mu.Unlock()
}

// Alert implements motion.Notifier. A nil error is ignored.
func (n *Notifier) Alert(err error) {
	if err == nil {
		return
	}
	a := FromError(err, n.now())
	log.Printf("notify: %s: %s (%s)", a.Kind, a.Message, a.Detail)

	n.mu.Lock()
	n.recent = append(n.recent, a)
	if len(n.recent) > recentLimit {
		n.recent = n.recent[len(n.recent)-recentLimit:]
	}
	sinks := append([]Sink(nil), n.sinks...)
	n.mu.Unlock()

	for _, s := range sinks {
		if err := s.Send(a); err != nil {
			log.Printf("notify: sink error: %v", err)
		}
	}
}

// Recent returns the latest alerts, oldest first.
func (n *Notifier) Recent() []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Alert(nil), n.recent...)
}

// MQTTSink publishes alerts as JSON on a topic.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

func NewMQTTSink(client mqtt.Client, topic string) *MQTTSink {
	return &MQTTSink{client: client, topic: topic}
}

func (s *MQTTSink) Send(a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alert marshal: %w", err)
	}
	token := s.client.Publish(s.topic, 0, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("alert publish: %w", token.Error())
	}
	return nil
}
