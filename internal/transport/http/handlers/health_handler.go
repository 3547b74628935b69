package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/MadarauchiaM/rouzer3.0/internal/transport/http/dto"
	httperrors "github.com/MadarauchiaM/rouzer3.0/internal/transport/http/errors"
)

const healthCheckTimeout = 2 * time.Second

type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthHandler struct {
	checks []HealthCheck
	logger *zap.Logger
}

func NewHealthHandler(logger *zap.Logger, checks ...HealthCheck) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{checks: checks, logger: logger}
}

func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	var failed []string
	for _, check := range h.checks {
		if check.Check == nil {
			continue
		}
		if err := check.Check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("check", check.Name), zap.Error(err))
			failed = append(failed, check.Name)
		}
	}

	if len(failed) > 0 {
		httperrors.Write(w, http.StatusServiceUnavailable, dto.HealthResponse{Status: "degraded", Failed: failed})
		return
	}
	httperrors.Write(w, http.StatusOK, dto.HealthResponse{Status: "ok"})
}
