// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors implements the motion backends: MQTT motion events, a
// polled MPU9250 and a websocket sensor-fusion service.
package sensors

import (
	"fmt"

	"github.com/relabs-tech/ar_walk/internal/config"
	"github.com/relabs-tech/ar_walk/internal/motion"
)

// Drivers builds the configured backends in preference order.
func Drivers(cfg *config.Config) ([]motion.Driver, error) {
	drivers := make([]motion.Driver, 0, len(cfg.MotionBackends))
	for _, name := range cfg.MotionBackends {
		switch name {
		case "fusion":
			drivers = append(drivers, NewFusionDriver(FusionConfig{
				URL:   cfg.FusionURL,
				Token: cfg.FusionToken,
			}))
		case "generic":
			drivers = append(drivers, NewGenericIMUDriver(GenericIMUConfig{
				SPIDevice:  cfg.IMUSPIDevice,
				CSPin:      cfg.IMUCSPin,
				AccelRange: cfg.IMUAccelRange,
				Frequency:  cfg.IMUSampleFrequency,
			}))
		case "raw":
			drivers = append(drivers, NewRawMotionDriver(RawMotionConfig{
				Broker:   cfg.MQTTBroker,
				Username: cfg.MQTTUsername,
				Password: cfg.MQTTPassword,
				ClientID: cfg.MQTTClientIDMotion,
				Topic:    cfg.TopicMotion,
			}))
		default:
			return nil, fmt.Errorf("unknown motion backend %q", name)
		}
	}
	return drivers, nil
}
