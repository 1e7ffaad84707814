// Package server is the HTTP API of `hanabi serve`. It answers single
// questions on /api/generate and streams AG-UI events on /api/chat, which
// makes every hanabi server usable as a peer agent of another one.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/chat"
	"github.com/spetersoncode/hanabi/client"
	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/internal/logging"
	"github.com/spetersoncode/hanabi/workflow"
)

// ModelFactory builds the chat model for a configuration.
type ModelFactory func(ctx context.Context, cfg *config.Config) (hanabi.ChatProvider, error)

// Server serves the hanabi HTTP API.
type Server struct {
	cfg            atomic.Pointer[config.Config]
	tools          chat.ToolSource
	newModel       ModelFactory
	workDir        string
	dispatcherOpts []workflow.Option
	log            zerolog.Logger
	router         chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithModelFactory replaces client.FromConfig.
func WithModelFactory(f ModelFactory) Option {
	return func(s *Server) { s.newModel = f }
}

// WithWorkDir sets the directory of the shell tool and the prompt file.
func WithWorkDir(dir string) Option {
	return func(s *Server) { s.workDir = dir }
}

// WithDispatcherOptions passes options to the multi-agent dispatcher.
func WithDispatcherOptions(opts ...workflow.Option) Option {
	return func(s *Server) { s.dispatcherOpts = append(s.dispatcherOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a Server. tools may be nil.
func New(cfg *config.Config, tools chat.ToolSource, opts ...Option) *Server {
	s := &Server{
		tools:   tools,
		workDir: config.WorkDir(),
		log:     logging.Component("server"),
		newModel: func(ctx context.Context, cfg *config.Config) (hanabi.ChatProvider, error) {
			return client.FromConfig(ctx, cfg)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg.Store(cfg)
	s.routes()
	return s
}

// Config returns the configuration requests currently see.
func (s *Server) Config() *config.Config {
	return s.cfg.Load()
}

// SetConfig replaces the configuration for subsequent requests.
func (s *Server) SetConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
	if r, ok := s.tools.(interface {
		SetServers(map[string]config.ServerDescriptor)
	}); ok {
		r.SetServers(cfg.MCPServers)
	}
}

// Watch applies configuration file changes until ctx is done.
func (s *Server) Watch(ctx context.Context, paths config.Paths) error {
	return paths.Watch(ctx, s.SetConfig)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", s.getConfig)
		r.Get("/model", s.getModel)
		r.Post("/generate", s.generate)
		r.Post("/chat", s.streamChat)
	})
	s.router = r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: chat responses are long-lived streams.
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
