// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api exposes the Orchestrator over the bidirectional event
// channel spec §6 describes: a WebSocket connection per session carrying
// inbound {chat_message, approve_plan, reject_plan} frames and outbound
// Event envelopes, plus a couple of plain REST endpoints for health and
// metrics.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kraklabs/forge/pkg/docproc"
	"github.com/kraklabs/forge/pkg/orchestrator"
)

// inboundMessage is one frame a client sends over the WebSocket
// connection (spec §6: "chat_message", "approve_plan", "reject_plan").
type inboundMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	RepoURL string `json:"repo_url,omitempty"`
	PlanID  string `json:"plan_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Server wires an Orchestrator into an HTTP handler.
type Server struct {
	orch     *orchestrator.Orchestrator
	docproc  docproc.Processor
	logger   *slog.Logger
	router   chi.Router
	upgrader websocket.Upgrader
}

// NewServer builds a Server that drives sessions through orch. The
// document-processing boundary (spec §6, out of scope) is served by the
// stub docproc.LocalProcessor so the /docproc route has a real
// implementation behind it without doing OCR or table/image extraction.
func NewServer(orch *orchestrator.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:    orch,
		docproc: docproc.NewLocalProcessor(),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRouter()
	return s
}

// setupRouter configures routes and middleware in the order the
// teacher's own API server applies them.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebSocket)
	r.Post("/docproc", s.handleDocProc)

	s.router = r
}

// Handler returns the HTTP handler, suitable for http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleDocProc is the HTTP face of the document-processing service
// boundary spec §6 requires be preserved (out of scope: OCR, table/image
// extraction, chunking). It accepts a single multipart file field named
// "file" and returns the docproc.Result JSON contract.
func (s *Server) handleDocProc(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	upload := docproc.Upload{
		Filename: header.Filename,
		Content:  content,
		Flags: docproc.Flags{
			OCR:           r.FormValue("ocr") == "true",
			OutputFormat:  r.FormValue("output_format"),
			ExtractTables: r.FormValue("extract_tables") == "true",
			ExtractImages: r.FormValue("extract_images") == "true",
		},
	}

	result, err := s.docproc.Process(r.Context(), upload)
	if err != nil {
		s.logger.Warn("api.docproc.process.failed", "filename", header.Filename, "err", err)
		http.Error(w, "document processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// handleWebSocket upgrades the connection and runs one session's
// lifetime: a read loop dispatching inbound frames to the Orchestrator,
// whose Emitter writes every resulting Event back over the same socket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("api.websocket.upgrade.failed", "err", err)
		return
	}
	defer conn.Close()

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	defer s.orch.Disconnect(sessionID)

	var writeMu sync.Mutex
	emit := func(e orchestrator.Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(e); err != nil {
			s.logger.Warn("api.websocket.write.failed", "session", sessionID, "err", err)
		}
	}

	ctx := r.Context()
	s.orch.Connect(sessionID, emit)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("api.websocket.read.failed", "session", sessionID, "err", err)
			}
			return
		}
		s.dispatch(ctx, sessionID, msg, emit)
	}
}

func (s *Server) dispatch(ctx context.Context, sessionID string, msg inboundMessage, emit orchestrator.Emitter) {
	switch msg.Type {
	case "chat_message":
		s.orch.HandleChatMessage(ctx, sessionID, msg.Message, msg.RepoURL, emit)
	case "approve_plan":
		s.orch.ApprovePlan(ctx, sessionID, msg.PlanID, emit)
	case "reject_plan":
		s.orch.RejectPlan(sessionID, msg.PlanID, msg.Reason, emit)
	default:
		emit(orchestrator.Event{
			Type:      orchestrator.EventError,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Stage:     "dispatch",
			Data:      map[string]any{"message": "unrecognized message type: " + msg.Type},
			SessionID: sessionID,
		})
	}
}
