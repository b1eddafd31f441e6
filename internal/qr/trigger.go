// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package qr turns decoded QR payloads into scene activation.
package qr

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Scanner commands published on the scan command topic.
const (
	ScanStart = "start"
	ScanStop  = "stop"
)

// Trigger activates the scene when a decoded payload equals the target
// identifier. Nothing else about the payload is interpreted.
type Trigger struct {
	target   string
	activate func(context.Context) error
	onMatch  func()

	mu      sync.Mutex
	matches uint64
	misses  uint64
}

// NewTrigger returns a Trigger for target. onMatch, if not nil, runs after
// every match (the viewer uses it to stop the scanner).
func NewTrigger(target string, activate func(context.Context) error, onMatch func()) *Trigger {
	return &Trigger{target: target, activate: activate, onMatch: onMatch}
}

// Handle checks one decoded payload. Surrounding whitespace left by the
// scanner is ignored. It reports whether the payload matched.
func (t *Trigger) Handle(ctx context.Context, payload string) (bool, error) {
	payload = strings.TrimSpace(payload)
	if t.target == "" || payload != t.target {
		t.mu.Lock()
		t.misses++
		t.mu.Unlock()
		log.Printf("qr: ignoring payload %q", payload)
		return false, nil
	}

	t.mu.Lock()
	t.matches++
	t.mu.Unlock()
	log.Printf("qr: matched target %q", payload)

	if t.onMatch != nil {
		t.onMatch()
	}
	if err := t.activate(ctx); err != nil {
		return true, fmt.Errorf("qr: activate: %w", err)
	}
	return true, nil
}

// Counts returns how many payloads matched and how many were ignored.
func (t *Trigger) Counts() (matches, misses uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.matches, t.misses
}

// Subscribe feeds payloads published on topic into the trigger.
func (t *Trigger) Subscribe(ctx context.Context, client mqtt.Client, topic string) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if _, err := t.Handle(ctx, string(msg.Payload())); err != nil {
			log.Printf("qr: %v", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("qr: subscribe %s: %w", topic, token.Error())
	}
	log.Printf("qr: subscribed to MQTT topic %s", topic)
	return nil
}

// Scanner drives the external QR scanner through its command topic.
type Scanner struct {
	client mqtt.Client
	topic  string
}

func NewScanner(client mqtt.Client, topic string) *Scanner {
	return &Scanner{client: client, topic: topic}
}

func (s *Scanner) Start() error { return s.send(ScanStart) }

func (s *Scanner) Stop() error { return s.send(ScanStop) }

func (s *Scanner) send(cmd string) error {
	token := s.client.Publish(s.topic, 1, false, cmd)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("qr: publish %s command: %w", cmd, token.Error())
	}
	log.Printf("qr: scanner %s", cmd)
	return nil
}
