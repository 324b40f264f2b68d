package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/mattjoyce/arbor/internal/apperr"
	"github.com/mattjoyce/arbor/internal/auth"
)

// loggingMiddleware logs HTTP requests and records request metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.metrics.RequestsInFlight.Inc()
		defer s.metrics.RequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		s.metrics.RequestsTotal.WithLabelValues(r.Method, code).Inc()
		s.metrics.RequestDuration.WithLabelValues(r.Method, code).Observe(time.Since(start).Seconds())

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware resolves the bearer token into a principal. With no
// credentials configured every caller is an admin.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.config.authEnabled() {
			p := auth.Principal{Scopes: map[string]struct{}{auth.ScopeAll: {}}}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
			return
		}

		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.metrics.AuthFailures.WithLabelValues("missing_token").Inc()
			s.writeError(w, apperr.NotAuthorized("%v", err))
			return
		}
		p, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
			s.writeError(w, apperr.NotAuthorized("invalid API key"))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// requireScopes rejects principals holding none of scopes.
func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.hasScope(r, scopes...) {
				s.writeError(w, apperr.Forbidden("insufficient scope"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) hasScope(r *http.Request, scopes ...string) bool {
	p, _ := auth.PrincipalFromContext(r.Context())
	if auth.HasAnyScope(p, scopes...) {
		return true
	}
	s.metrics.AuthFailures.WithLabelValues("insufficient_scope").Inc()
	return false
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientKey(r)) {
			s.metrics.RateLimitHits.Inc()
			w.Header().Set("Retry-After", "1")
			s.writeError(w, apperr.TooManyRequests("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller: its token when authenticated, otherwise
// the remote host.
func clientKey(r *http.Request) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && p.Token != "" {
		return "token:" + p.Token
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

const maxLimiterClients = 10000

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client.
type clientLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	clients map[string]*limiterEntry
	now     func() time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

func (l *clientLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxLimiterClients {
			l.evictLocked(now)
		}
		e = &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// evictLocked drops clients idle for over a minute.
func (l *clientLimiter) evictLocked(now time.Time) {
	for k, e := range l.clients {
		if now.Sub(e.lastSeen) > time.Minute {
			delete(l.clients, k)
		}
	}
}
