package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"resona/config"
	"resona/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Remotes pair with a PIN; origin checks add nothing on a LAN device.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the optional remote-control surface. When the configured address
// is empty the player simply runs without one.
type Server struct {
	auth *Authenticator
	hub  *Hub
	srv  *http.Server
}

// NewServer wires the control API around a transport.
func NewServer(cfg *config.Config, transport Transport) *Server {
	auth := NewAuthenticator(cfg.ControlPINHash, cfg.ControlSecret)
	hub := NewHub(transport)

	s := &Server{auth: auth, hub: hub}

	router := mux.NewRouter()
	router.HandleFunc("/api/pair", s.pairHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/state", s.requireToken(s.stateHandler)).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.wsHandler).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         cfg.ControlAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Hub exposes the notifier side for the controller wiring.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start serves in the background. A listen failure is logged, not fatal: the
// player keeps working without its remote surface.
func (s *Server) Start() {
	go s.hub.Run()
	go func() {
		logger.Info("remote control listening", logger.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("remote control server failed", logger.ErrorField(err))
		}
	}()
}

// Shutdown stops the HTTP server and disconnects all remotes.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.hub.Close()
	return err
}

func (s *Server) pairHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	token, err := s.auth.Pair(req.PIN)
	if err != nil {
		logger.Warn("pairing attempt rejected")
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	logger.Info("remote paired")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Token string `json:"token"`
	}{Token: token})
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.hub.transport.Snapshot())
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on websocket dials, so the token rides in
	// the query string here.
	if err := s.auth.Verify(r.URL.Query().Get("token")); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	s.hub.serve(conn)
}

// requireToken guards an HTTP endpoint with the pairing token.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if err := s.auth.Verify(token); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
