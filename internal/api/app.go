package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/collabcode/relay/internal/config"
	"github.com/collabcode/relay/internal/relay"
	"github.com/collabcode/relay/internal/store"
	"github.com/gorilla/handlers"
)

// RelayApp is the HTTP surface of the relay: the websocket upgrade
// endpoint, the health endpoint for orchestration, and /debug/vars
// (registered by the stats updater on the shared mux).
type RelayApp struct {
	log            *log.Logger
	rs             *relay.RelayServer
	store          store.Store
	mux            *http.Server
	signingKey     []byte
	allowedOrigins []string
	startTime      time.Time
}

func NewRelayApp(mux *http.ServeMux, logger *log.Logger, rs *relay.RelayServer, st store.Store, cfg *config.Config) *RelayApp {
	s := &RelayApp{
		log:            logger,
		rs:             rs,
		store:          st,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		startTime:      time.Now(),
	}

	mux.HandleFunc("GET /health", s.healthCheck)
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *RelayApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RelayApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
