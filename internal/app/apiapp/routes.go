package apiapp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MadarauchiaM/rouzer3.0/internal/config"
	authsvc "github.com/MadarauchiaM/rouzer3.0/internal/services/auth"
	"github.com/MadarauchiaM/rouzer3.0/internal/transport/http/handlers"
)

type Dependencies struct {
	MediaService handlers.MediaService
	AdminToken   *authsvc.AdminToken
	HealthChecks []handlers.HealthCheck
	Metrics      http.Handler
	Logger       *zap.Logger
	Config       config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler(deps.Logger, deps.HealthChecks...)
	mediaHandler := handlers.NewMediaHandler(deps.MediaService, handlers.UploadLimits{
		MaxUploadBytes:           deps.Config.Media.MaxUploadBytes,
		PrivilegedMaxUploadBytes: deps.Config.Media.PrivilegedMaxUploadBytes,
	}, deps.Logger)
	identityMW := IdentityMiddleware(deps.AdminToken, deps.Logger)

	r.Get("/healthz", healthHandler.Get)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/media", func(r chi.Router) {
		r.Use(identityMW)
		r.Post("/upload", mediaHandler.Upload)
		r.Post("/url", mediaHandler.IngestURL)
		r.Delete("/{id}", mediaHandler.Delete)
		r.Get("/{id}/{variant}", mediaHandler.Open)
	})
}
