// Package server is the HTTP boundary: the WhatsApp webhook, health and
// metrics endpoints, and optional debug routes.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"hkbot/internal/agent"
	"hkbot/internal/domain"
	"hkbot/internal/metrics"
	"hkbot/internal/pipeline"
)

const maxWebhookBody = 1 << 20

// AgentRunner answers a message without touching stored history.
type AgentRunner interface {
	RunDirect(ctx context.Context, agentName, input string, prior []domain.Turn) agent.Outcome
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr              string
	WebhookPath       string
	VerifyToken       string
	AppSecret         string // empty disables signature checks
	DefaultBusinessID string
	MetricsPath       string
	MediaDir          string // served under /media/ when set
	DebugRoutes       bool

	// Enqueue hands a validated delivery to background processing.
	Enqueue func(d *pipeline.Delivery) error

	Agent   AgentRunner   // debug /agent
	Sender  domain.Sender // debug /send_message
	Store   Pinger        // optional, checked by /health
	Metrics *metrics.Pipeline
	Logger  *slog.Logger
}

type Server struct {
	cfg    Config
	router *mux.Router
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg Config) *Server {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger, now: time.Now}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc(s.cfg.WebhookPath, s.handleVerify).Methods(http.MethodGet)
	r.HandleFunc(s.cfg.WebhookPath, s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle(s.cfg.MetricsPath, s.cfg.Metrics.Handler()).Methods(http.MethodGet)

	if s.cfg.MediaDir != "" {
		r.PathPrefix("/media/").Handler(http.StripPrefix("/media/", http.FileServer(http.Dir(s.cfg.MediaDir)))).Methods(http.MethodGet)
	}
	if s.cfg.DebugRoutes {
		r.HandleFunc("/agent", s.handleAgent).Methods(http.MethodPost)
		r.HandleFunc("/send_message", s.handleSendMessage).Methods(http.MethodPost)
		s.logger.Warn("debug routes enabled", "routes", []string{"/agent", "/send_message"})
	}
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "err", err)
		}
	}()

	s.logger.Info("http server listening", "addr", s.cfg.Addr, "webhook", s.cfg.WebhookPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
