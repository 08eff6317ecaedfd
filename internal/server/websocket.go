package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phandanh111/ocr-cccd-card/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks are handled by the deployment proxy.
		return true
	},
}

// wsRequest is a card OCR request sent over WebSocket. The image travels
// base64-encoded in a text frame; a raw binary frame is also accepted.
type wsRequest struct {
	Image    string  `json:"image"`
	Filename string  `json:"filename,omitempty"`
	CropConf float64 `json:"crop_conf,omitempty"`
	OCRConf  float64 `json:"ocr_conf,omitempty"`
}

// wsResponse is a message sent back to the WebSocket client.
type wsResponse struct {
	Type     string      `json:"type"`
	Status   string      `json:"status"` // "processing", "completed", "error"
	Progress float64     `json:"progress,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// wsWriter is the subset of *websocket.Conn the senders need.
type wsWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// ocrWebSocketHandler handles WebSocket connections for interactive card OCR.
func (s *Server) ocrWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(conn)
}

func (s *Server) handleWebSocketConnection(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Ping to keep idle connections alive.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{},
					time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			return
		}

		websocketMessagesTotal.WithLabelValues("received").Inc()

		switch messageType {
		case websocket.TextMessage:
			var req wsRequest
			if err := json.Unmarshal(data, &req); err != nil {
				s.sendWebSocketError(conn, fmt.Sprintf("failed to parse request: %v", err))
				continue
			}
			imageData, err := base64.StdEncoding.DecodeString(req.Image)
			if err != nil {
				s.sendWebSocketError(conn, "image must be base64-encoded")
				continue
			}
			s.processWebSocketImage(conn, imageData, pipeline.Options{
				CropConfidence:        req.CropConf,
				RecognitionConfidence: req.OCRConf,
				InputFilename:         req.Filename,
			})
		case websocket.BinaryMessage:
			s.processWebSocketImage(conn, data, pipeline.Options{})
		}
	}
}

// processWebSocketImage runs one card through the pipeline and streams
// progress plus the final record back to the client.
func (s *Server) processWebSocketImage(conn wsWriter, imageData []byte, opts pipeline.Options) {
	if len(imageData) == 0 {
		s.sendWebSocketError(conn, "no image data provided")
		return
	}

	s.sendWebSocketResponse(conn, wsResponse{
		Type:     "ocr_response",
		Status:   "processing",
		Progress: 0.0,
	})

	start := time.Now()
	rec, err := s.pipeline.RunBytes(context.Background(), imageData, opts)
	if err != nil {
		ocrRequestsTotal.WithLabelValues("websocket", "error").Inc()
		s.sendWebSocketError(conn, err.Error())
		return
	}

	if err := s.store.Save(rec); err != nil {
		slog.Error("failed to save record to history", "record_id", rec.ID, "error", err)
	}

	ocrRequestsTotal.WithLabelValues("websocket", "success").Inc()
	ocrProcessingDuration.WithLabelValues("websocket").Observe(time.Since(start).Seconds())
	ocrFieldsExtracted.WithLabelValues("websocket").Observe(float64(len(rec.Fields)))

	s.sendWebSocketResponse(conn, wsResponse{
		Type:     "ocr_response",
		Status:   "completed",
		Progress: 1.0,
		Data:     recordData(rec),
	})
}

func (s *Server) sendWebSocketResponse(conn wsWriter, response wsResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("failed to send WebSocket message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

func (s *Server) sendWebSocketError(conn wsWriter, message string) {
	s.sendWebSocketResponse(conn, wsResponse{
		Type:   "error",
		Status: "error",
		Error:  message,
	})
}
