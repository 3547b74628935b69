package apiapp

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	authsvc "github.com/MadarauchiaM/rouzer3.0/internal/services/auth"
	httperrors "github.com/MadarauchiaM/rouzer3.0/internal/transport/http/errors"
)

const adminTokenHeader = "X-Admin-Token"

func ApplyMiddlewares(r chiRouter, log *zap.Logger, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(timeout))
	r.Use(requestLogger(log))
}

// IdentityMiddleware marks callers presenting the admin token as privileged.
// Requests without the header pass through as anonymous.
func IdentityMiddleware(adminToken *authsvc.AdminToken, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			privileged, err := adminToken.Check(r.Header.Get(adminTokenHeader))
			if err != nil {
				if log != nil {
					log.Debug("admin token rejected", zap.String("remote_addr", r.RemoteAddr))
				}
				httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{
					Code:    "UNAUTHORIZED",
					Message: "invalid admin token",
				})
				return
			}

			ctx := authsvc.WithIdentity(r.Context(), authsvc.Identity{
				Privileged: privileged,
				RemoteAddr: r.RemoteAddr,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if log != nil {
				log.Info("http_request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.String("request_id", chimiddleware.GetReqID(r.Context())),
					zap.Duration("duration", time.Since(start)),
				)
			}
		})
	}
}

type chiRouter interface {
	Use(middlewares ...func(http.Handler) http.Handler)
}
