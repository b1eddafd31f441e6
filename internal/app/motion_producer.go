// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/ar_walk/internal/config"
	"github.com/relabs-tech/ar_walk/internal/sensors"
)

// accelGenerator yields forward/back acceleration in m/s².
type accelGenerator interface {
	Next(now time.Time) (float64, error)
}

// mockWalk produces smooth forward pushes: a half-wave rectified sine, so
// the walker keeps moving forward and pauses between steps.
type mockWalk struct {
	start     time.Time
	amplitude float64 // m/s²
	period    float64 // seconds per step
}

func newMockWalk(start time.Time) *mockWalk {
	return &mockWalk{start: start, amplitude: 1.5, period: 2}
}

func (m *mockWalk) Next(now time.Time) (float64, error) {
	elapsed := now.Sub(m.start).Seconds()
	s := math.Sin(2 * math.Pi * elapsed / m.period)
	if s < 0 {
		s = 0
	}
	// negative is forward
	return -m.amplitude * s, nil
}

// imuWalk reads the MPU9250 forward axis with gravity removed.
type imuWalk struct {
	reader     sensors.AccelReader
	accelRange byte
	bias       float64
}

func (w *imuWalk) Next(time.Time) (float64, error) {
	raw, err := w.reader.ReadAccelZ()
	if err != nil {
		return 0, err
	}
	return sensors.CountsToAccel(raw, w.accelRange) - w.bias, nil
}

// runMotionLoop turns each tick into a motion event. The interval carried
// by an event is the real time since the previous tick.
func runMotionLoop(ctx context.Context, ticks <-chan time.Time, nominal time.Duration, gen accelGenerator, publish func(sensors.MotionEvent) error) error {
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticks:
			interval := nominal
			if !last.IsZero() {
				interval = t.Sub(last)
			}
			last = t

			z, err := gen.Next(t)
			if err != nil {
				log.Printf("motion producer: read error: %v", err)
				continue
			}
			ev := sensors.MotionEvent{
				Z:         z,
				Interval:  float64(interval) / float64(time.Millisecond),
				Timestamp: t,
			}
			if err := publish(ev); err != nil {
				log.Printf("motion producer: %v", err)
			}
		}
	}
}

// RunMotionProducer publishes motion events for the RawMotionEvent backend
// from a mock waveform or the MPU9250.
func RunMotionProducer() error {
	cfg := config.Get()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := time.Duration(cfg.ProducerSampleInterval) * time.Millisecond

	var gen accelGenerator
	switch cfg.ProducerMode {
	case "mock":
		log.Println("motion producer: using mock walk waveform")
		gen = newMockWalk(time.Now())
	case "imu":
		reader, err := sensors.OpenMPU9250(cfg.IMUSPIDevice, cfg.IMUCSPin, cfg.IMUAccelRange)
		if err != nil {
			return err
		}
		bias, err := sensors.EstimateBias(ctx, reader, cfg.IMUAccelRange, 32, interval)
		if err != nil {
			return err
		}
		log.Printf("motion producer: using IMU on %s, bias %.3f m/s²", cfg.IMUSPIDevice, bias)
		gen = &imuWalk{reader: reader, accelRange: cfg.IMUAccelRange, bias: bias}
	default:
		return fmt.Errorf("unknown producer mode %q", cfg.ProducerMode)
	}

	client, err := connectMQTT(cfg, cfg.MQTTClientIDProducer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("motion producer: publishing to %s every %s", cfg.TopicMotion, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	return runMotionLoop(ctx, ticker.C, interval, gen, func(ev sensors.MotionEvent) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("json marshal error: %w", err)
		}
		if token := client.Publish(cfg.TopicMotion, 0, false, payload); token.Wait() && token.Error() != nil {
			return fmt.Errorf("MQTT publish error: %w", token.Error())
		}
		return nil
	})
}
