// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/ar_walk/internal/config"
	"github.com/relabs-tech/ar_walk/internal/location"
	"github.com/relabs-tech/ar_walk/internal/motion"
	"github.com/relabs-tech/ar_walk/internal/notify"
	"github.com/relabs-tech/ar_walk/internal/sensors"
)

// consoleLine formats one message from topic for the terminal. It reports
// false for topics the console does not follow.
func consoleLine(cfg *config.Config, topic string, payload []byte) (string, bool, error) {
	switch topic {
	case cfg.TopicSnapshot:
		var s motion.Snapshot
		if err := json.Unmarshal(payload, &s); err != nil {
			return "", true, err
		}
		return fmt.Sprintf("[VIEW] active=%t backend=%s perm=%s source=%s v=%+.3f pos=(%.2f, %.2f, %.2f) samples=%d",
			s.Active, s.Backend, s.Permission, s.Source, s.VelocityZ,
			s.Position[0], s.Position[1], s.Position[2], s.Samples), true, nil

	case cfg.TopicAlerts:
		var a notify.Alert
		if err := json.Unmarshal(payload, &a); err != nil {
			return "", true, err
		}
		return fmt.Sprintf("[ALRT] %s: %s (%s)", a.Kind, a.Message, a.Detail), true, nil

	case cfg.TopicMotion:
		var ev sensors.MotionEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return "", true, err
		}
		return fmt.Sprintf("[MOVE] z=%+6.2f interval=%5.1fms", ev.Z, ev.Interval), true, nil

	case cfg.TopicGPS:
		var f location.Fix
		if err := json.Unmarshal(payload, &f); err != nil {
			return "", true, err
		}
		return fmt.Sprintf("[GPS ] time=%s date=%s lat=%.6f lon=%.6f alt=%.1fm valid=%t",
			f.Time, f.Date, f.Latitude, f.Longitude, f.Altitude, f.Valid), true, nil

	case cfg.TopicQR:
		return fmt.Sprintf("[QR  ] %q", string(payload)), true, nil
	}
	return "", false, nil
}

// RunConsoleMQTT prints everything the viewer and producers publish until
// Ctrl+C.
func RunConsoleMQTT(out io.Writer) error {
	cfg := config.Get()
	client, err := connectMQTT(cfg, cfg.MQTTClientIDViewer+"-console")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		line, ok, err := consoleLine(cfg, msg.Topic(), msg.Payload())
		if err != nil {
			log.Printf("console: %s unmarshal error: %v", msg.Topic(), err)
			return
		}
		if ok {
			fmt.Fprintln(out, line)
		}
	}

	for _, topic := range []string{cfg.TopicSnapshot, cfg.TopicAlerts, cfg.TopicMotion, cfg.TopicGPS, cfg.TopicQR} {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", topic)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	return nil
}
