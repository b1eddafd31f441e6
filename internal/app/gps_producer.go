// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/ar_walk/internal/config"
	"github.com/relabs-tech/ar_walk/internal/location"
)

// scanNMEA reads NMEA lines from r and publishes a fix for every RMC
// sentence until r is exhausted.
func scanNMEA(r io.Reader, tracker *location.Tracker, publish func(location.Fix) error) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			// parse errors are noisy GPS or partial sentences
			if fix, ok, perr := tracker.Update(line); perr == nil && ok {
				if err := publish(fix); err != nil {
					log.Printf("GPS publish error: %v", err)
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("GPS read error: %w", err)
		}
	}
}

// RunGPSProducer opens the GPS serial port, parses NMEA sentences, and
// publishes combined fixes as JSON for the map view.
func RunGPSProducer() error {
	cfg := config.Get()

	client, err := connectMQTT(cfg, cfg.MQTTClientIDGPS)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	serialOpts := serial.OpenOptions{
		PortName:              cfg.GPSSerialPort,
		BaudRate:              uint(cfg.GPSBaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(serialOpts)
	if err != nil {
		return fmt.Errorf("GPS serial open %s: %w", cfg.GPSSerialPort, err)
	}
	defer port.Close()
	log.Printf("GPS serial port opened on %s at %d baud", serialOpts.PortName, serialOpts.BaudRate)

	tracker := &location.Tracker{}
	return scanNMEA(port, tracker, func(fix location.Fix) error {
		payload, err := json.Marshal(fix)
		if err != nil {
			return err
		}
		token := client.Publish(cfg.TopicGPS, 0, true, payload)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("published GPS fix: %+v", fix)
		return nil
	})
}
