// Package server provides HTTP server setup and routing.
package server

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"time"

	"corpus_dashboard/auth"
	"corpus_dashboard/config"
	"corpus_dashboard/handlers"
	"corpus_dashboard/templates"
	"corpus_dashboard/websocket"
)

// shutdownTimeout bounds how long Run waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// Config holds server configuration options.
type Config struct {
	Listen        string
	StaticDir     string           // Used when StaticFS is nil
	StaticFS      fs.FS            // Embedded static filesystem
	DocsFS        fs.FS            // Embedded docs filesystem
	AuthProvider  *auth.Provider   // nil when authentication is disabled
	WebSocketHub  *websocket.Hub   // nil disables /ws
	TemplateStore *templates.Store // nil disables the template routes
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    config.DefaultListen,
		StaticDir: "static",
	}
}

// Server represents the HTTP server.
type Server struct {
	config *Config
	mux    *http.ServeMux
}

// New creates a new Server with the given configuration.
func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListen
	}

	s := &Server{
		config: cfg,
		mux:    http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Static assets stay public so the login page can be styled
	if s.config.StaticFS != nil {
		fileServer := http.FileServer(http.FS(s.config.StaticFS))
		s.mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	} else {
		fileServer := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	}

	handlers.SetEmbeddedFS(s.config.StaticFS, s.config.DocsFS)
	handlers.SetTemplateStore(s.config.TemplateStore)

	// Auth routes (always public)
	if p := s.config.AuthProvider; p != nil {
		s.mux.HandleFunc("/login", p.LoginHandler)
		s.mux.HandleFunc(p.CallbackPath(), p.CallbackHandler)
		s.mux.HandleFunc("/logout", p.LogoutHandler)
		s.mux.HandleFunc("/auth/status", p.StatusHandler)
	} else {
		s.mux.HandleFunc("/auth/status", auth.NoAuthStatusHandler)
	}

	s.mux.Handle("/", s.protect(http.HandlerFunc(handlers.IndexHandler)))

	// Query compilation
	s.mux.Handle("POST /api/query/serialize", s.protect(http.HandlerFunc(handlers.SerializeHandler)))
	s.mux.Handle("GET /api/query/parse", s.protect(http.HandlerFunc(handlers.ParseHandler)))
	s.mux.Handle("GET /api/query/validate", s.protect(http.HandlerFunc(handlers.ValidateHandler)))
	s.mux.Handle("GET /api/docs/query", s.protect(http.HandlerFunc(handlers.QueryDocsHandler)))

	// Templates; writes need the editor role
	if s.config.TemplateStore != nil {
		s.mux.Handle("GET /api/templates", s.protect(http.HandlerFunc(handlers.ListTemplatesHandler)))
		s.mux.Handle("GET /api/templates/{name}", s.protect(http.HandlerFunc(handlers.GetTemplateHandler)))
		s.mux.Handle("POST /api/templates", s.protect(auth.RequireEditor(http.HandlerFunc(handlers.SaveTemplateHandler))))
		s.mux.Handle("DELETE /api/templates/{name}", s.protect(auth.RequireEditor(http.HandlerFunc(handlers.DeleteTemplateHandler))))
	}

	if s.config.WebSocketHub != nil {
		s.mux.Handle("/ws", s.protect(s.config.WebSocketHub.Handler()))
	}
}

// protect wraps h with the auth middleware when authentication is enabled.
func (s *Server) protect(h http.Handler) http.Handler {
	if s.config.AuthProvider != nil {
		return s.config.AuthProvider.Middleware(h)
	}
	return h
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server and blocks until it fails.
func (s *Server) ListenAndServe() error {
	return s.Run(context.Background())
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", s.config.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
