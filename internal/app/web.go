// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/relabs-tech/ar_walk/internal/location"
	"github.com/relabs-tech/ar_walk/internal/motion"
	"github.com/relabs-tech/ar_walk/internal/notify"
)

// Controller is the part of motion.Manager the web layer drives.
type Controller interface {
	Activate(ctx context.Context) error
	Teardown()
	Snapshot() motion.Snapshot
}

// QRHandler checks decoded payloads against the target.
type QRHandler interface {
	Handle(ctx context.Context, payload string) (bool, error)
}

// Scanner drives the external QR scanner.
type Scanner interface {
	Start() error
	Stop() error
}

// Server serves the viewer's JSON API, the websocket stream and the static
// page.
type Server struct {
	Controller Controller
	QR         QRHandler
	Scanner    Scanner
	Tracker    *location.Tracker
	Asset      location.Asset
	Notifier   *notify.Notifier
	Hub        *Hub
	StaticDir  string
}

// qrRequest is the body of POST /api/qr.
type qrRequest struct {
	Payload string `json:"payload"`
}

type qrResponse struct {
	Matched bool   `json:"matched"`
	Error   string `json:"error,omitempty"`
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/session/stop", s.handleStop)
	mux.HandleFunc("GET /api/asset", s.handleAsset)
	mux.HandleFunc("GET /api/position", s.handlePosition)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("POST /api/qr", s.handleQR)
	mux.HandleFunc("POST /api/scan/start", s.handleScanStart)
	if s.Hub != nil {
		mux.Handle("GET /ws", s.Hub)
	}
	if s.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.StaticDir)))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Controller.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.stop()
	writeJSON(w, http.StatusOK, s.Controller.Snapshot())
}

func (s *Server) stop() {
	s.Controller.Teardown()
	if s.Scanner != nil {
		if err := s.Scanner.Stop(); err != nil {
			log.Printf("web: %v", err)
		}
	}
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Asset)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	if s.Tracker == nil {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	fix, ok := s.Tracker.Fix()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, fix)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := []notify.Alert{}
	if s.Notifier != nil {
		alerts = append(alerts, s.Notifier.Recent()...)
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleQR accepts either {"payload": "..."} or the bare payload as text.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	payload := string(body)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req qrRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		payload = req.Payload
	}

	resp := qrResponse{}
	resp.Matched, err = s.QR.Handle(context.WithoutCancel(r.Context()), payload)
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	if s.Scanner == nil {
		http.Error(w, "no scanner", http.StatusServiceUnavailable)
		return
	}
	if err := s.Scanner.Start(); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleAction runs an action sent by a page over the websocket.
func (s *Server) HandleAction(msg WSMessage) error {
	switch msg.Action {
	case "qr":
		_, err := s.QR.Handle(context.Background(), msg.Payload)
		if err != nil && !errors.Is(err, motion.ErrUnsupported) {
			return err
		}
		return nil
	case "scan":
		if s.Scanner == nil {
			return errors.New("no scanner")
		}
		return s.Scanner.Start()
	case "stop":
		s.stop()
		return nil
	default:
		return fmt.Errorf("unknown action %q", msg.Action)
	}
}
