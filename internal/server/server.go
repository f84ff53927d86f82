package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"flowmap-stream-go/internal/client"
	"flowmap-stream-go/internal/protocol"
	"flowmap-stream-go/internal/store"
)

// Controller is the part of the client the status server drives.
type Controller interface {
	Status() client.Status
	Subscribe(client.Listener) func()
	Send(cmd protocol.Command, payload []byte) error
	Store() *store.Store
}

type Server struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.Mutex

	ctrl     Controller
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	messages chan any
	router   chi.Router
}

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	maxCommandBody = 32 << 20
	messageBuffer  = 64
)

// New builds the HTTP surface for ctrl. A nil gatherer serves the default
// Prometheus registry.
func New(ctrl Controller, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		ctrl:     ctrl,
		gatherer: gatherer,
		logger:   logger,
		messages: make(chan any, messageBuffer),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/snapshot/{class}", s.handleSnapshot)
	r.Get("/ws", s.handleWS)
	r.Post("/commands/{name}", s.handleCommand)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, forwarding client events to
// websocket clients.
func (s *Server) Run(ctx context.Context, addr string) error {
	unsubscribe := s.ctrl.Subscribe(s.OnEvent)
	defer unsubscribe()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go s.broadcast(ctx)

	s.logger.Info("status server listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// OnEvent queues ev for websocket clients. Events are dropped while the
// queue is full.
func (s *Server) OnEvent(ev client.Event) {
	msg := eventMessage(ev)
	if msg == nil {
		return
	}
	select {
	case s.messages <- msg:
	default:
	}
}

func eventMessage(ev client.Event) map[string]any {
	switch ev.Kind {
	case client.EventConnectionChanged:
		return map[string]any{
			"type":      "connection",
			"connected": ev.Connected,
			"session":   ev.Session,
			"address":   ev.Address,
			"reason":    ev.Reason,
			"at":        ev.At,
		}
	case client.EventConnectFailed:
		msg := map[string]any{
			"type":    "connect_failed",
			"address": ev.Address,
			"at":      ev.At,
		}
		if ev.Err != nil {
			msg["error"] = ev.Err.Error()
		}
		return msg
	case client.EventImageReceived:
		msg := map[string]any{
			"type":     "image",
			"class":    ev.Class.String(),
			"sequence": ev.Sequence,
			"session":  ev.Session,
			"at":       ev.At,
		}
		if ev.Image != nil {
			msg["format"] = ev.Image.Format
			msg["width"] = ev.Image.Width
			msg["height"] = ev.Image.Height
			msg["bytes"] = len(ev.Image.Encoded)
		}
		return msg
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.mu.Lock()
	writeMu := &sync.Mutex{}
	s.clients[conn] = writeMu
	s.mu.Unlock()

	_ = s.writeJSON(conn, writeMu, map[string]any{
		"type":   "status",
		"status": s.ctrl.Status(),
	})

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var request map[string]any
			if err := json.Unmarshal(payload, &request); err != nil {
				continue
			}
			if request["type"] == "status_request" {
				_ = s.writeJSON(conn, writeMu, map[string]any{
					"type":   "status",
					"status": s.ctrl.Status(),
				})
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"client":     s.ctrl.Status(),
		"ws_clients": s.clientCount(),
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	class, err := store.ParseClass(chi.URLParam(r, "class"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	img := s.ctrl.Store().Latest(class)
	if img == nil {
		writeError(w, http.StatusNotFound, errors.New("no image received"))
		return
	}
	if ct := mime.TypeByExtension("." + img.Format); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img.Encoded)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := protocol.ParseCommand(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	payload, err := commandPayload(cmd, r.Header.Get("Content-Type"), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = s.ctrl.Send(cmd, payload)
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, map[string]any{"sent": cmd.String(), "bytes": len(payload)})
	case errors.Is(err, client.ErrNotConnected):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, protocol.ErrUnsupportedCommand), errors.Is(err, client.ErrEmptyPayload):
		writeError(w, http.StatusBadRequest, err)
	default:
		s.logger.Warn("command failed", zap.Stringer("command", cmd), zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
	}
}

// commandPayload accepts JSON point and vector lists and passes any other
// body through unchanged.
func commandPayload(cmd protocol.Command, contentType string, body []byte) ([]byte, error) {
	if !cmd.HasPayload() {
		return nil, nil
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != "application/json" {
		return body, nil
	}
	switch cmd {
	case protocol.CommandAnnotationPoints:
		var points []protocol.Point
		if err := json.Unmarshal(body, &points); err != nil {
			return nil, err
		}
		return protocol.FormatPoints(points), nil
	case protocol.CommandWaterJetVectors:
		var vectors []protocol.Vector
		if err := json.Unmarshal(body, &vectors); err != nil {
			return nil, err
		}
		return protocol.FormatVectors(vectors), nil
	}
	return body, nil
}

func (s *Server) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-s.messages:
			payload, err := json.Marshal(message)
			if err != nil {
				continue
			}
			var stale []*websocket.Conn
			s.mu.Lock()
			for conn, writeMu := range s.clients {
				if err := s.writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			s.mu.Unlock()
			for _, conn := range stale {
				s.removeClient(conn)
			}
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}

func writeJSONResponse(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSONResponse(w, code, map[string]string{"error": err.Error()})
}
