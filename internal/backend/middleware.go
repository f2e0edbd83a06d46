package backend

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chmw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/abusegal/telefeed/internal/monitoring"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// RequestLogger logs basic request info and feeds the request counter.
// Requests to the listed paths are downgraded to debug on success.
func RequestLogger(l *logrus.Logger, debugPaths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			if lrw.status == 0 {
				lrw.status = http.StatusOK
			}

			var route string
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			if route == "" {
				route = r.URL.Path
			}
			monitoring.IncHTTP(r.Method, route, strconv.Itoa(lrw.status))

			isDebugPath := false
			for _, p := range debugPaths {
				if r.URL.Path == p {
					isDebugPath = true
					break
				}
			}

			entry := l.WithContext(r.Context()).WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"route":       route,
				"status":      lrw.status,
				"size":        lrw.size,
				"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
				"request_id":  chmw.GetReqID(r.Context()),
			})
			if lrw.status < 400 && isDebugPath {
				entry.Debug("request")
			} else {
				entry.Info("request")
			}
		})
	}
}

// SecurityHeaders adds common security-related headers to all responses.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			csp := strings.Join([]string{
				"default-src 'self'",
				"base-uri 'self'",
				"form-action 'self'",
				"script-src 'self' 'unsafe-inline'",
				"style-src 'self' 'unsafe-inline'",
				"img-src 'self' data: https:",
				"frame-ancestors 'none'",
			}, "; ")
			w.Header().Set("Content-Security-Policy", csp)
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")

			next.ServeHTTP(w, r)
		})
	}
}

// langFromRequest picks the feed language from the Accept-Language header,
// keeping only the primary subtag.
func langFromRequest(r *http.Request, fallback string) string {
	lang := r.Header.Get("Accept-Language")
	if lang == "" {
		return fallback
	}
	if i := strings.IndexAny(lang, ",;-"); i >= 0 {
		lang = lang[:i]
	}
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return fallback
	}
	return strings.ToLower(lang)
}
