// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/ar_walk/internal/config"
	"github.com/relabs-tech/ar_walk/internal/location"
	"github.com/relabs-tech/ar_walk/internal/motion"
)

// DisplayData holds the latest data for display
type DisplayData struct {
	mu sync.RWMutex

	snapshot     motion.Snapshot
	haveSnapshot bool

	fix     location.Fix
	haveFix bool
}

// snapshotLines formats what the 128x64 panel shows: four lines of at most
// 18 characters.
func snapshotLines(snap *motion.Snapshot, fix *location.Fix) []string {
	if snap == nil || !snap.Active {
		lines := []string{"AR Walk", "Scan the QR code"}
		if fix != nil {
			lines = append(lines, latLine(fix.Latitude), lonLine(fix.Longitude))
		} else {
			lines = append(lines, "", "No GPS yet")
		}
		return lines
	}

	backend := snap.Backend
	if backend == "" {
		backend = "none"
	}
	return []string{
		fmt.Sprintf("%s %s", backend, snap.Source),
		fmt.Sprintf("perm %s", snap.Permission),
		fmt.Sprintf("v %+.3f m/s", snap.VelocityZ),
		fmt.Sprintf("z %+.2f m", snap.Position[2]),
	}
}

func latLine(lat float64) string {
	dir := "N"
	if lat < 0 {
		dir = "S"
		lat = -lat
	}
	return fmt.Sprintf("%.4f%s", lat, dir)
}

func lonLine(lon float64) string {
	dir := "E"
	if lon < 0 {
		dir = "W"
		lon = -lon
	}
	return fmt.Sprintf("%.4f%s", lon, dir)
}

// renderLines draws up to four text lines onto a blank panel image.
func renderLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if i >= 4 {
			break
		}
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawBytes([]byte(line))
	}
	return img
}

func drawLines(dev *ssd1306.Dev, lines []string) error {
	return dev.Draw(dev.Bounds(), renderLines(lines), image.Point{})
}

func subscribeDisplay(client mqtt.Client, cfg *config.Config, data *DisplayData) error {
	token := client.Subscribe(cfg.TopicSnapshot, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var snap motion.Snapshot
		if err := json.Unmarshal(msg.Payload(), &snap); err != nil {
			log.Printf("display: snapshot unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.snapshot = snap
		data.haveSnapshot = true
		data.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicSnapshot)

	token = client.Subscribe(cfg.TopicGPS, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var fix location.Fix
		if err := json.Unmarshal(msg.Payload(), &fix); err != nil {
			log.Printf("display: gps unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.fix = fix
		data.haveFix = true
		data.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicGPS)
	return nil
}

// lines reads the latest data without holding the lock while drawing.
func (d *DisplayData) lines() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var snap *motion.Snapshot
	if d.haveSnapshot {
		s := d.snapshot
		snap = &s
	}
	var fix *location.Fix
	if d.haveFix {
		f := d.fix
		fix = &f
	}
	return snapshotLines(snap, fix)
}

// RunDisplay shows the viewer state on an SSD1306 panel.
func RunDisplay() error {
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Println("display: initialized")

	if err := drawLines(dev, []string{"", "  AR Walk", "  starting..."}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	client, err := connectMQTT(cfg, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	data := &DisplayData{}
	if err := subscribeDisplay(client, cfg, data); err != nil {
		return fmt.Errorf("display: subscribe: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()
	log.Println("display: starting update loop")

	for {
		select {
		case <-sigCh:
			log.Println("display: shutting down")
			return dev.Halt()
		case <-ticker.C:
			if err := drawLines(dev, data.lines()); err != nil {
				log.Printf("display: error updating display: %v", err)
			}
		}
	}
}
