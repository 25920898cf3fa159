// Package server is the HTTP transport: it authenticates callers, parses
// POST /notify bodies and hands them to the notification service.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/toastd/toastd/internal/authgate"
	"github.com/toastd/toastd/internal/health"
	"github.com/toastd/toastd/internal/logging"
	"github.com/toastd/toastd/internal/notify"
)

var log = logging.L("server")

type Options struct {
	Addr string
	// MaxBodyBytes caps a /notify request body.
	MaxBodyBytes int64
	// RateLimit and RateBurst configure the per-IP bucket on /notify. A
	// zero RateLimit disables throttling.
	RateLimit float64
	RateBurst int
	// MaxConnections caps concurrent connections. Zero means unlimited.
	MaxConnections int
}

type Server struct {
	svc     *notify.Service
	gate    *authgate.Gate
	monitor *health.Monitor
	maxBody int64
	maxConn int

	http   *http.Server
	cancel context.CancelFunc
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	health.Report
	Ready   bool                `json:"ready"`
	Pending int                 `json:"pending"`
	Process health.ProcessStats `json:"process"`
}

func New(opts Options, svc *notify.Service, gate *authgate.Gate, monitor *health.Monitor) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 << 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		svc:     svc,
		gate:    gate,
		monitor: monitor,
		maxBody: opts.MaxBodyBytes,
		maxConn: opts.MaxConnections,
		cancel:  cancel,
	}

	var limiter *rateLimiter
	if opts.RateLimit > 0 {
		limiter = newRateLimiter(ctx, rate.Limit(opts.RateLimit), opts.RateBurst)
	}

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(limiter),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes(limiter *rateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(metricsMiddleware)
	r.Use(s.gate.Middleware(rejectAuth))

	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.limit)
		}
		r.Post("/notify", s.handleNotify)
	})
	r.Get("/healthz", s.handleHealth)
	r.Get("/events", s.handleEvents)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if s.maxConn > 0 {
		ln = netutil.LimitListener(ln, s.maxConn)
	}
	log.Info("listening", "addr", ln.Addr().String(), "maxConnections", s.maxConn)
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Ready:   s.svc.Ready(),
		Pending: s.svc.Pending(),
		Process: health.CurrentProcess(),
	}
	if s.monitor != nil {
		resp.Report = s.monitor.Report()
	}
	status := http.StatusOK
	if !resp.Ready || resp.Status == health.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func rejectAuth(w http.ResponseWriter, _ *http.Request, err error) {
	if errors.Is(err, authgate.ErrTooManyFailures) {
		writeError(w, http.StatusTooManyRequests, "too many failed login attempts")
		return
	}
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := log.With(logging.KeyRequestID, chimiddleware.GetReqID(r.Context()))
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(logging.NewContext(r.Context(), l)))
		l.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"remote", r.RemoteAddr,
			logging.KeyDurationMs, time.Since(start).Milliseconds())
	})
}
