// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/ar_walk/internal/config"
	"github.com/relabs-tech/ar_walk/internal/location"
	"github.com/relabs-tech/ar_walk/internal/motion"
	"github.com/relabs-tech/ar_walk/internal/notify"
	"github.com/relabs-tech/ar_walk/internal/qr"
	"github.com/relabs-tech/ar_walk/internal/scene"
	"github.com/relabs-tech/ar_walk/internal/sensors"
)

const snapshotInterval = 100 * time.Millisecond

// connectMQTT connects a client with the configured broker and credentials.
func connectMQTT(cfg *config.Config, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID).
		SetAutoReconnect(true)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername).SetPassword(cfg.MQTTPassword)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect %s: %w", cfg.MQTTBroker, token.Error())
	}
	log.Printf("connected to MQTT broker at %s as %s", cfg.MQTTBroker, clientID)
	return client, nil
}

// motionParams reads the integrator constants from cfg.
func motionParams(cfg *config.Config) motion.Params {
	return motion.Params{
		Threshold:   cfg.MotionThreshold,
		Damping:     cfg.MotionDamping,
		Epsilon:     cfg.MotionEpsilon,
		MaxSampleDT: cfg.MotionMaxSampleDT,
	}
}

// sceneFactory builds a camera placed CameraDistance in front of the model
// and looking at it, plus a render loop at RenderFPS.
func sceneFactory(cfg *config.Config) func() (motion.Scene, motion.Engine) {
	return func() (motion.Scene, motion.Engine) {
		cam := scene.NewCamera(r3.Vec{Z: -cfg.CameraDistance})
		cam.LookAt(r3.Vec{})
		return scene.New(cam), scene.NewLoop(cfg.RenderFPS)
	}
}

func assetFromConfig(cfg *config.Config) location.Asset {
	return location.Asset{
		ID:          cfg.TargetAssetID,
		Name:        cfg.AssetName,
		Description: cfg.AssetDescription,
		Longitude:   cfg.AssetLongitude,
		Latitude:    cfg.AssetLatitude,
	}
}

// pumpSnapshots publishes the controller state every interval until ctx is
// done.
func pumpSnapshots(ctx context.Context, interval time.Duration, c Controller, publish func(motion.Snapshot)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publish(c.Snapshot())
		}
	}
}

// RunViewer runs the AR walk viewer until SIGINT/SIGTERM.
func RunViewer() error {
	cfg := config.Get()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := connectMQTT(cfg, cfg.MQTTClientIDViewer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	notifier := notify.New(notify.NewMQTTSink(client, cfg.TopicAlerts))

	drivers, err := sensors.Drivers(cfg)
	if err != nil {
		return err
	}
	mgr, err := motion.NewManager(motion.Options{
		Params:    motionParams(cfg),
		Drivers:   drivers,
		NewScene:  sceneFactory(cfg),
		Notifier:  notifier,
		ModelPath: cfg.ModelPath,
	})
	if err != nil {
		return err
	}
	defer mgr.Teardown()

	scanner := qr.NewScanner(client, cfg.TopicScanCommand)
	trigger := qr.NewTrigger(cfg.TargetAssetID, mgr.Activate, func() {
		if err := scanner.Stop(); err != nil {
			log.Printf("viewer: %v", err)
		}
	})

	tracker := &location.Tracker{}
	srv := &Server{
		Controller: mgr,
		QR:         trigger,
		Scanner:    scanner,
		Tracker:    tracker,
		Asset:      assetFromConfig(cfg),
		Notifier:   notifier,
		StaticDir:  cfg.WebStaticDir,
	}
	srv.Hub = NewHub(srv.HandleAction)
	notifier.AddSink(srv.Hub)

	if err := trigger.Subscribe(ctx, client, cfg.TopicQR); err != nil {
		return err
	}
	token := client.Subscribe(cfg.TopicGPS, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var fix location.Fix
		if err := json.Unmarshal(msg.Payload(), &fix); err != nil {
			log.Printf("viewer: gps unmarshal error: %v", err)
			return
		}
		tracker.Set(fix)
		srv.Hub.Broadcast(WSResponse{Type: "position", Position: &fix})
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("viewer: subscribed to MQTT topic %s", cfg.TopicGPS)

	go pumpSnapshots(ctx, snapshotInterval, mgr, func(snap motion.Snapshot) {
		srv.Hub.Broadcast(WSResponse{Type: "snapshot", Snapshot: &snap})
		payload, err := json.Marshal(snap)
		if err != nil {
			log.Printf("viewer: snapshot marshal error: %v", err)
			return
		}
		client.Publish(cfg.TopicSnapshot, 0, true, payload)
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: srv.Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Println("viewer: shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
