package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MadarauchiaM/rouzer3.0/internal/domain/model"
	"github.com/MadarauchiaM/rouzer3.0/internal/services/auth"
	"github.com/MadarauchiaM/rouzer3.0/internal/services/blobstore"
	mediasvc "github.com/MadarauchiaM/rouzer3.0/internal/services/media"
	"github.com/MadarauchiaM/rouzer3.0/internal/transport/http/dto"
	httperrors "github.com/MadarauchiaM/rouzer3.0/internal/transport/http/errors"
)

const (
	multipartOverhead  = 1 << 20
	multipartMemory    = 8 << 20
	maxURLRequestBytes = 8 << 10
)

type MediaService interface {
	IngestFromUpload(ctx context.Context, req mediasvc.UploadRequest, privileged bool) (model.MediaAsset, error)
	IngestFromURL(ctx context.Context, rawURL string, privileged bool) (model.MediaAsset, error)
	Remove(ctx context.Context, id string) error
	Open(ctx context.Context, id string, variant mediasvc.Variant, w io.Writer) error
}

type UploadLimits struct {
	MaxUploadBytes           int64
	PrivilegedMaxUploadBytes int64
}

func (l UploadLimits) forCaller(privileged bool) int64 {
	if privileged && l.PrivilegedMaxUploadBytes > l.MaxUploadBytes {
		return l.PrivilegedMaxUploadBytes
	}
	return l.MaxUploadBytes
}

type MediaHandler struct {
	service MediaService
	limits  UploadLimits
	logger  *zap.Logger
}

func NewMediaHandler(service MediaService, limits UploadLimits, logger *zap.Logger) *MediaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaHandler{service: service, limits: limits, logger: logger}
}

func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "MEDIA_SERVICE_UNAVAILABLE", "media service is unavailable")
		return
	}

	privileged := auth.IsPrivileged(r.Context())
	limit := h.limits.forCaller(privileged)

	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.handleMediaError(w, mediasvc.ErrPayloadTooLarge)
			return
		}
		writeBadRequest(w, "VALIDATION_ERROR", "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "file is required")
		return
	}

	if header == nil || header.Size <= 0 {
		_ = file.Close()
		writeBadRequest(w, "VALIDATION_ERROR", "file is empty")
		return
	}

	asset, err := h.service.IngestFromUpload(r.Context(), mediasvc.UploadRequest{
		Body:        file,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}, privileged)
	if err != nil {
		h.handleMediaError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, toMediaAssetResponse(asset))
}

func (h *MediaHandler) IngestURL(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "MEDIA_SERVICE_UNAVAILABLE", "media service is unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxURLRequestBytes)
	var req dto.IngestURLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid json body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeBadRequest(w, "VALIDATION_ERROR", "url is required")
		return
	}

	asset, err := h.service.IngestFromURL(r.Context(), req.URL, auth.IsPrivileged(r.Context()))
	if err != nil {
		h.handleMediaError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, toMediaAssetResponse(asset))
}

// Delete is moderator-only.
func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !auth.IsPrivileged(r.Context()) {
		writeUnauthorized(w, "UNAUTHORIZED", "admin token required")
		return
	}
	if h.service == nil {
		writeInternal(w, "MEDIA_SERVICE_UNAVAILABLE", "media service is unavailable")
		return
	}

	if err := h.service.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleMediaError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MediaHandler) Open(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "MEDIA_SERVICE_UNAVAILABLE", "media service is unavailable")
		return
	}

	variant, ok := mediasvc.ParseVariant(chi.URLParam(r, "variant"))
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "unknown variant")
		return
	}

	id := chi.URLParam(r, "id")
	tw := &trackingWriter{ResponseWriter: w}
	tw.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if err := h.service.Open(r.Context(), id, variant, tw); err != nil {
		if tw.wrote {
			h.logger.Warn("media stream interrupted",
				zap.String("digest", id),
				zap.String("variant", string(variant)),
				zap.Error(err),
			)
			return
		}
		tw.Header().Del("Cache-Control")
		h.handleMediaError(w, err)
	}
}

func (h *MediaHandler) handleMediaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mediasvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid media request")
	case errors.Is(err, mediasvc.ErrStreamUnreadable):
		writeBadRequest(w, "STREAM_UNREADABLE", "media stream could not be read")
	case errors.Is(err, mediasvc.ErrPayloadTooLarge):
		httperrors.Write(w, http.StatusRequestEntityTooLarge, httperrors.APIError{
			Code:    "PAYLOAD_TOO_LARGE",
			Message: "media exceeds the size limit",
		})
	case errors.Is(err, mediasvc.ErrUnsupportedContentType):
		httperrors.Write(w, http.StatusUnsupportedMediaType, httperrors.APIError{
			Code:    "UNSUPPORTED_CONTENT_TYPE",
			Message: "content type is not allowed",
		})
	case errors.Is(err, mediasvc.ErrUnsupportedMedia):
		httperrors.Write(w, http.StatusUnsupportedMediaType, httperrors.APIError{
			Code:    "UNSUPPORTED_MEDIA",
			Message: "media could not be decoded",
		})
	case errors.Is(err, mediasvc.ErrNotFound), errors.Is(err, blobstore.ErrNotFound):
		httperrors.Write(w, http.StatusNotFound, httperrors.APIError{
			Code:    "NOT_FOUND",
			Message: "media not found",
		})
	case errors.Is(err, mediasvc.ErrRemoteFetchFailed):
		h.logger.Info("remote fetch failed", zap.Error(err))
		httperrors.Write(w, http.StatusBadGateway, httperrors.APIError{
			Code:    "REMOTE_FETCH_FAILED",
			Message: "remote media could not be fetched",
		})
	case errors.Is(err, mediasvc.ErrUploadFailed):
		h.logger.Error("blob upload failed", zap.Error(err))
		httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{
			Code:    "UPLOAD_FAILED",
			Message: "media storage is unavailable, try again later",
		})
	case errors.Is(err, context.DeadlineExceeded):
		httperrors.Write(w, http.StatusGatewayTimeout, httperrors.APIError{
			Code:    "TIMEOUT",
			Message: "media operation timed out",
		})
	default:
		h.logger.Error("media operation failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "media operation failed")
	}
}

func toMediaAssetResponse(asset model.MediaAsset) dto.MediaAssetResponse {
	resp := dto.MediaAssetResponse{
		ID:          asset.ID,
		Kind:        string(asset.Kind),
		DisplayURL:  asset.DisplayURL,
		SourceURL:   asset.SourceURL,
		ContentType: asset.ContentType,
		SizeBytes:   asset.SizeBytes,
		Width:       asset.Width,
		Height:      asset.Height,
		CreatedAt:   asset.CreatedAt,
		RemovedAt:   asset.RemovedAt,
	}
	if asset.Remote != nil && !asset.IsRemoved() {
		if asset.Remote.PreviewRef != "" {
			resp.PreviewURL = "/media/" + asset.ID + "/" + string(mediasvc.VariantPreview)
		}
		if asset.Remote.SquarePreviewRef != "" {
			resp.SquareURL = "/media/" + asset.ID + "/" + string(mediasvc.VariantSquare)
		}
	}
	return resp
}

type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(p)
}
