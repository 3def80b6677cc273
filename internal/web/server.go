// Package web exposes intake sessions over HTTP.
//
// Each session owns one intake engine. Clients add files through the
// selection, drop and import endpoints, start upload runs, and follow state
// changes over Server-Sent Events.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/intake/internal/config"
	"github.com/JonMunkholm/intake/internal/intake"
	"github.com/JonMunkholm/intake/internal/logging"
	webmw "github.com/JonMunkholm/intake/internal/web/middleware"
)

// DefaultMaxRequestBytes caps multipart bodies when Options leaves it unset.
const DefaultMaxRequestBytes = 512 << 20

// Options configures a Server.
type Options struct {
	// Constraints are applied to every new session unless the client overrides them.
	Constraints intake.Constraints
	// EngineOptions are passed to every session engine.
	EngineOptions []intake.Option

	Upload      intake.UploadFunc
	BatchUpload intake.BatchUploadFunc

	// Limiter bounds concurrent upload runs across sessions.
	Limiter *intake.RunLimiter

	SessionTTL      time.Duration
	MaxRequestBytes int64
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit      int
	TrustedProxies []string
}

// Server is the HTTP server for intake sessions.
type Server struct {
	opts     Options
	sessions *Sessions
	limiter  *intake.RunLimiter
	router   *chi.Mux

	mu     sync.Mutex
	server *http.Server

	// closing is closed when shutdown begins and ends every event stream.
	closing     chan struct{}
	closingOnce sync.Once

	// runCtx is handed to background upload runs and cancelled when a
	// shutdown gives up waiting for them.
	runCtx    context.Context
	cancelRun context.CancelFunc

	rateLimiter *rateLimiter
	stopOnce    sync.Once
	stopJanitor context.CancelFunc
}

// NewServer creates a new Server instance.
func NewServer(opts Options) *Server {
	if opts.Limiter == nil {
		opts.Limiter = intake.NewRunLimiter(intake.DefaultMaxConcurrentRuns, intake.DefaultMaxWaitTime)
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if opts.Constraints.MaxFiles <= 0 {
		opts.Constraints.MaxFiles = intake.DefaultMaxFiles
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	s := &Server{
		opts:      opts,
		limiter:   opts.Limiter,
		router:    chi.NewRouter(),
		closing:   make(chan struct{}),
		runCtx:    runCtx,
		cancelRun: cancelRun,
	}
	s.sessions = NewSessions(opts.SessionTTL, s.newEngine)

	janitorCtx, stop := context.WithCancel(context.Background())
	s.stopJanitor = stop
	go s.sessions.Run(janitorCtx, sweepInterval(opts.SessionTTL))

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) newEngine(sessionID string, c intake.Constraints) *intake.Engine {
	opts := append([]intake.Option{}, s.opts.EngineOptions...)
	opts = append(opts, intake.WithLogger(logging.WithSession(sessionID)))
	return intake.New(c, opts...)
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmw.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	if s.opts.RateLimit > 0 {
		s.rateLimiter = newRateLimiter(s.opts.RateLimit, time.Minute)
		s.router.Use(s.rateLimiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/reset", s.handleReset)
			r.Put("/constraints", s.handleSetConstraints)

			// Intake adapters
			r.Post("/select", s.handleSelect)
			r.Post("/drop", s.handleDrop)
			r.Post("/import", s.handleImport)

			// Upload runs
			r.Post("/upload", s.handleUpload)

			// Descriptors
			r.Patch("/entries/{entryID}", s.handleUpdateEntry)
			r.Delete("/entries/{entryID}", s.handleRemoveEntry)

			// Observation
			r.Get("/events", s.handleEvents)
			r.Get("/previews/{token}", s.handlePreview)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(cfg config.ServerConfig) error {
	l, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	return s.Serve(l, cfg)
}

// Serve accepts HTTP requests on l until Shutdown is called.
func (s *Server) Serve(l net.Listener, cfg config.ServerConfig) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: 0, // Disabled for SSE
		IdleTimeout:  cfg.IdleTimeout,
	}
	srv.RegisterOnShutdown(s.closeStreams)

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	slog.Info("starting server", "addr", l.Addr().String())
	return srv.Serve(l)
}

// Shutdown ends open event streams, stops accepting requests, waits for
// running uploads to finish and releases every session. Uploads still running
// when ctx expires are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeStreams()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	if drainErr := s.limiter.WaitForDrain(ctx); drainErr != nil {
		slog.Warn("upload runs still active at shutdown", "active", s.limiter.ActiveCount())
		if err == nil {
			err = drainErr
		}
	}

	s.stopOnce.Do(func() {
		s.cancelRun()
		s.stopJanitor()
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		s.sessions.Close()
	})
	return err
}

func (s *Server) closeStreams() {
	s.closingOnce.Do(func() { close(s.closing) })
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Sessions returns the session registry.
func (s *Server) Sessions() *Sessions {
	return s.sessions
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; img-src 'self'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// rateLimiter implements a simple fixed-window limiter per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
	done     chan struct{}
	once     sync.Once
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a rate limiter with the specified rate per window.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		done:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// cleanup removes stale visitor entries until stop is called.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
		}

		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) stop() {
	rl.once.Do(func() { close(rl.done) })
}

// allow checks if the request should be allowed and consumes a token if so.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists || time.Since(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: time.Now()}
		return true
	}

	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

// middleware returns an HTTP middleware that rate limits by IP.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeJSONStatus(w, http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate limit exceeded",
				Message: "Too many requests",
				Action:  "Please wait a moment and try again",
				Code:    "RATE001",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
