package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/cors"

	"jobdesk/internal/log"
	"jobdesk/internal/services"
)

type ServerConfig struct {
	Addr         string
	CORSOrigins  []string
	RateLimitRPM int
	// Ready reports whether dependencies are reachable; nil means always ready.
	Ready func(context.Context) error
}

type Server struct {
	http.Server
	schedule    *services.ScheduleService
	invoices    *services.InvoiceService
	ready       func(context.Context) error
	logger      *log.Logger
	rateLimiter *rateLimiter
	metrics     *securityMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(cfg ServerConfig, schedule *services.ScheduleService, invoices *services.InvoiceService, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		schedule:    schedule,
		invoices:    invoices,
		ready:       cfg.Ready,
		logger:      logger,
		rateLimiter: newRateLimiter(cfg.RateLimitRPM),
		metrics:     &securityMetrics{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/schedulable", s.handleSchedulable)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/jobs/{id}/schedule", s.handleScheduleJob)

	mux.HandleFunc("GET /api/calendar", s.handleCalendar)
	mux.HandleFunc("GET /api/calendar/day", s.handleCalendarDay)

	mux.HandleFunc("GET /api/jobs/{id}/invoice", s.handleGetInvoice)
	mux.HandleFunc("DELETE /api/jobs/{id}/invoice", s.handleDiscardInvoice)
	mux.HandleFunc("POST /api/jobs/{id}/invoice/charges", s.handleAddCharge)
	mux.HandleFunc("DELETE /api/jobs/{id}/invoice/charges/{chargeID}", s.handleRemoveCharge)
	mux.HandleFunc("PUT /api/jobs/{id}/invoice/paid", s.handleSetPaid)
	mux.HandleFunc("POST /api/jobs/{id}/invoice/submit", s.handleSubmitInvoice)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	})

	var handler http.Handler = mux
	handler = s.withSecurityHeaders(handler)
	handler = log.RequestIDMiddleware(func(r *http.Request) string { return r.Header.Get(requestIDHeader) })(handler)
	handler = withRequestID(handler)
	handler = log.Middleware(logger)(handler)
	handler = c.Handler(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

const requestIDHeader = "X-Request-ID"

// withRequestID keeps a caller supplied request id when it looks sane and
// generates one otherwise. The id is echoed in the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sanitizeInput(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 64 {
			id = generateRequestID()
		}
		r.Header.Set(requestIDHeader, id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// withSecurityHeaders adds security headers, rate limiting, and request logging to responses
func (s *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		clientIP := extractClientIP(r)

		if detectSuspiciousRequest(r, s.metrics) {
			log.FromContext(ctx).WithComponent(log.ComponentSecurity).WarnContext(ctx, "Suspicious request",
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		if isMutating(r.Method) && !s.rateLimiter.allow(clientIP, s.metrics) {
			log.FromContext(ctx).WithComponent(log.ComponentRateLimit).WarnContext(ctx, "Rate limit exceeded",
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
			rw.Header().Set("Retry-After", strconv.Itoa(60))
			writeError(rw, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
		} else {
			next.ServeHTTP(rw, r)
		}

		log.NewStructuredLogger(log.FromContext(ctx)).
			LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds(), clientIP)
	})
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
