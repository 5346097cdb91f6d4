package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const ctxTenantID ctxKey = iota

// loggingMiddleware logs HTTP requests and records API metrics
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", elapsed,
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
		)

		if s.deps.Metrics != nil {
			s.deps.Metrics.APIRequestsTotal.WithLabelValues(
				r.Method, r.URL.Path, strconv.Itoa(ww.Status())).Inc()
			s.deps.Metrics.APIRequestDurationSeconds.WithLabelValues(
				r.Method, r.URL.Path).Observe(elapsed.Seconds())
		}
	})
}

// tenantMiddleware resolves the tenant from the X-Tenant-ID header,
// falling back to the configured default.
func (s *Server) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get("X-Tenant-ID")
		if tenant == "" {
			tenant = s.config.Tenant.DefaultID
		}
		ctx := context.WithValue(r.Context(), ctxTenantID, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) tenantID(r *http.Request) string {
	if t, ok := r.Context().Value(ctxTenantID).(string); ok && t != "" {
		return t
	}
	return s.config.Tenant.DefaultID
}
