// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package location tracks the device position from NMEA sentences and
// describes the asset shown on the map.
package location

import (
	"fmt"
	"strings"
	"sync"

	nmea "github.com/adrianmo/go-nmea"
)

// Fix is the combined GPS fix published for the map UI.
type Fix struct {
	Time       string  `json:"time"`
	Date       string  `json:"date"`
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	Altitude   float64 `json:"alt"`
	SpeedKnots float64 `json:"speed_knots"`
	CourseDeg  float64 `json:"course_deg"`
	Satellites int64   `json:"satellites"`
	Valid      bool    `json:"valid"`
}

// Asset is the entity a QR code points at, placed on the map by its marker.
type Asset struct {
	ID          string  `json:"id"`
	Name        string  `json:"entidade"`
	Description string  `json:"descricao"`
	Longitude   float64 `json:"lon"`
	Latitude    float64 `json:"lat"`
}

// Tracker merges RMC and GGA sentences into one Fix.
type Tracker struct {
	mu   sync.Mutex
	fix  Fix
	have bool
}

// Update parses one NMEA line. It reports true when the line completed a
// fix worth publishing (an RMC sentence); lines that are not NMEA or not
// understood are skipped without error.
func (t *Tracker) Update(line string) (Fix, bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false, nil
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, false, fmt.Errorf("nmea parse: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		t.fix.Time = m.Time.String()
		t.fix.Date = m.Date.String()
		t.fix.Latitude = m.Latitude
		t.fix.Longitude = m.Longitude
		t.fix.SpeedKnots = m.Speed
		t.fix.CourseDeg = m.Course
		t.fix.Valid = m.Validity == nmea.ValidRMC
		t.have = true
		return t.fix, true, nil

	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		t.fix.Altitude = m.Altitude
		t.fix.Satellites = m.NumSatellites
		if m.FixQuality != nmea.Invalid {
			t.fix.Latitude = m.Latitude
			t.fix.Longitude = m.Longitude
		}
	}
	return Fix{}, false, nil
}

// Fix returns the latest fix and whether any RMC has been seen.
func (t *Tracker) Fix() (Fix, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fix, t.have
}

// Set replaces the current fix, e.g. with one received over MQTT.
func (t *Tracker) Set(f Fix) {
	t.mu.Lock()
	t.fix = f
	t.have = true
	t.mu.Unlock()
}
