package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MadarauchiaM/rouzer3.0/internal/domain/enums"
	"github.com/MadarauchiaM/rouzer3.0/internal/domain/model"
)

const (
	defaultMaxUploadBytes int64 = 12 << 20
	discardTimeout              = 30 * time.Second
)

type Variant string

const (
	VariantOriginal Variant = "original"
	VariantPreview  Variant = "preview"
	VariantSquare   Variant = "square"
)

func ParseVariant(value string) (Variant, bool) {
	switch Variant(strings.ToLower(strings.TrimSpace(value))) {
	case VariantOriginal:
		return VariantOriginal, true
	case VariantPreview:
		return VariantPreview, true
	case VariantSquare:
		return VariantSquare, true
	default:
		return "", false
	}
}

// Store persists media rows keyed by digest. FindByDigest returns nil, nil
// when nothing is stored. Create returns ErrDuplicateCreate when the digest
// is already taken.
type Store interface {
	FindByDigest(ctx context.Context, digest string) (*model.MediaAsset, error)
	Create(ctx context.Context, asset model.MediaAsset) (model.MediaAsset, error)
	MarkRemoved(ctx context.Context, id string, at time.Time) error
}

type BlobStore interface {
	Name() string
	Upload(ctx context.Context, r io.Reader, suggestedName string) (string, error)
	Download(ctx context.Context, token string, w io.Writer) error
}

type BlobDeleter interface {
	Delete(ctx context.Context, token string) error
}

type UploadRequest struct {
	Body        io.ReadCloser
	FileName    string
	ContentType string
}

type Config struct {
	MaxUploadBytes           int64
	PrivilegedMaxUploadBytes int64
}

type Dependencies struct {
	Store   Store
	Blobs   BlobStore
	Fetcher RemoteFetcher
	Frames  FrameExtractor
	Logger  *zap.Logger
	Metrics *Metrics
}

type Service struct {
	store   Store
	blobs   BlobStore
	fetcher RemoteFetcher
	frames  FrameExtractor
	logger  *zap.Logger
	metrics *Metrics
	cfg     Config
	now     func() time.Time
}

type source struct {
	original    []byte
	fileName    string
	contentType string
	sourceURL   string
	forcedKind  enums.MediaKind
}

func NewService(deps Dependencies, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Frames == nil {
		deps.Frames = NewFrameGrabber("")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.PrivilegedMaxUploadBytes < cfg.MaxUploadBytes {
		cfg.PrivilegedMaxUploadBytes = cfg.MaxUploadBytes
	}

	return &Service{
		store:   deps.Store,
		blobs:   deps.Blobs,
		fetcher: deps.Fetcher,
		frames:  deps.Frames,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		cfg:     cfg,
		now:     time.Now,
	}
}

// IngestFromUpload stores req once per distinct content. The body is always
// closed. Privileged callers get the larger upload cap.
func (s *Service) IngestFromUpload(ctx context.Context, req UploadRequest, privileged bool) (model.MediaAsset, error) {
	asset, deduped, err := s.ingestUpload(ctx, req, privileged)
	s.metrics.observeIngest(sourceUpload, err, deduped)
	return asset, err
}

func (s *Service) ingestUpload(ctx context.Context, req UploadRequest, privileged bool) (model.MediaAsset, bool, error) {
	if req.Body == nil {
		return model.MediaAsset{}, false, fmt.Errorf("%w: upload body is required", ErrValidation)
	}
	defer req.Body.Close()

	if err := s.ready(); err != nil {
		return model.MediaAsset{}, false, err
	}

	limit := s.cfg.MaxUploadBytes
	if privileged {
		limit = s.cfg.PrivilegedMaxUploadBytes
	}

	data, err := readCapped(req.Body, limit)
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			return model.MediaAsset{}, false, err
		}
		return model.MediaAsset{}, false, fmt.Errorf("%w: read upload: %v", ErrStreamUnreadable, err)
	}
	if len(data) == 0 {
		return model.MediaAsset{}, false, fmt.Errorf("%w: upload is empty", ErrValidation)
	}

	return s.ingest(ctx, source{
		original:    data,
		fileName:    req.FileName,
		contentType: sniffContentType(data, req.ContentType),
	})
}

// IngestFromURL fetches rawURL and stores it once per distinct content. The
// remote ceiling is fixed, so the privileged flag does not change it.
func (s *Service) IngestFromURL(ctx context.Context, rawURL string, _ bool) (model.MediaAsset, error) {
	asset, deduped, err := s.ingestURL(ctx, rawURL)
	s.metrics.observeIngest(sourceURL, err, deduped)
	return asset, err
}

func (s *Service) ingestURL(ctx context.Context, rawURL string) (model.MediaAsset, bool, error) {
	if err := s.ready(); err != nil {
		return model.MediaAsset{}, false, err
	}
	if s.fetcher == nil {
		return model.MediaAsset{}, false, fmt.Errorf("remote fetcher is not configured")
	}

	obj, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return model.MediaAsset{}, false, err
	}
	defer obj.Body.Close()

	data, err := readCapped(obj.Body, MaxRemoteBytes)
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) || errors.Is(err, ErrRemoteFetchFailed) {
			return model.MediaAsset{}, false, err
		}
		return model.MediaAsset{}, false, fmt.Errorf("%w: read remote body: %v", ErrRemoteFetchFailed, err)
	}
	if len(data) == 0 {
		return model.MediaAsset{}, false, fmt.Errorf("%w: remote body is empty", ErrRemoteFetchFailed)
	}

	return s.ingest(ctx, source{
		original:    data,
		fileName:    obj.FileName,
		contentType: sniffContentType(data, obj.ContentType),
		sourceURL:   obj.SourceURL,
		forcedKind:  obj.Kind,
	})
}

func (s *Service) ingest(ctx context.Context, src source) (model.MediaAsset, bool, error) {
	class := Classify(src.contentType, src.fileName)
	if src.forcedKind != "" {
		class = Classification{Kind: src.forcedKind}
	}

	digest, err := Hash(bytes.NewReader(src.original))
	if err != nil {
		return model.MediaAsset{}, false, err
	}

	existing, err := s.store.FindByDigest(ctx, digest)
	if err != nil {
		return model.MediaAsset{}, false, fmt.Errorf("find media by digest: %w", err)
	}
	if existing != nil {
		s.logger.Debug("media dedup hit", zap.String("digest", digest))
		return *existing, true, nil
	}

	stillBytes := src.original
	if class.Motion {
		stillBytes, err = s.extractStill(ctx, src)
		if err != nil {
			return model.MediaAsset{}, false, err
		}
	}

	still, err := DeriveStill(bytes.NewReader(stillBytes))
	if err != nil {
		return model.MediaAsset{}, false, err
	}
	set, err := Render(still)
	if err != nil {
		return model.MediaAsset{}, false, err
	}
	defer set.Release()

	ext := displayExtension(src.fileName, src.contentType)
	refs, err := s.uploadAll(ctx, digest, ext, src.original, set)
	if err != nil {
		s.logger.Warn("media upload failed", zap.String("digest", digest), zap.Error(err))
		return model.MediaAsset{}, false, err
	}

	asset := model.MediaAsset{
		ID:          digest,
		Kind:        class.Kind,
		DisplayURL:  digest + ext + "?t=" + url.QueryEscape(refs.PrimaryRef),
		Backend:     s.blobs.Name(),
		Remote:      &refs,
		SourceURL:   src.sourceURL,
		ContentType: src.contentType,
		SizeBytes:   int64(len(src.original)),
		Width:       set.Width(),
		Height:      set.Height(),
		CreatedAt:   s.now().UTC(),
	}

	created, err := s.store.Create(ctx, asset)
	if err == nil {
		return created, false, nil
	}

	s.discard(ctx, digest, refs.Tokens())
	if !errors.Is(err, ErrDuplicateCreate) {
		return model.MediaAsset{}, false, fmt.Errorf("create media record: %w", err)
	}

	winner, err := s.store.FindByDigest(ctx, digest)
	if err != nil {
		return model.MediaAsset{}, false, fmt.Errorf("load concurrent media record: %w", err)
	}
	if winner == nil {
		return model.MediaAsset{}, false, fmt.Errorf("concurrent media record %s vanished", digest)
	}
	s.logger.Info("media create race collapsed", zap.String("digest", digest))
	return *winner, true, nil
}

func (s *Service) extractStill(ctx context.Context, src source) ([]byte, error) {
	frame, err := s.frames.ExtractFrame(ctx, bytes.NewReader(src.original), src.fileName)
	if err != nil {
		return nil, fmt.Errorf("extract frame: %w", err)
	}
	defer frame.Close()

	data, err := io.ReadAll(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: read extracted frame: %v", ErrUnsupportedMedia, err)
	}
	return data, nil
}

func (s *Service) uploadAll(ctx context.Context, digest, ext string, original []byte, set *RenditionSet) (model.RemoteRefs, error) {
	var refs model.RemoteRefs
	jobs := []struct {
		name string
		data []byte
		dst  *string
	}{
		{name: digest + ext, data: original, dst: &refs.PrimaryRef},
		{name: digest + "_preview.jpg", data: set.Preview.Bytes(), dst: &refs.PreviewRef},
		{name: digest + "_square.jpg", data: set.SquarePreview.Bytes(), dst: &refs.SquarePreviewRef},
	}

	backend := s.blobs.Name()
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			token, err := s.blobs.Upload(gctx, bytes.NewReader(job.data), job.name)
			s.metrics.observeUpload(backend, err)
			if err != nil {
				return fmt.Errorf("upload %s: %w", job.name, err)
			}
			*job.dst = token
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.discard(ctx, digest, refs.Tokens())
		return model.RemoteRefs{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return refs, nil
}

// discard removes blobs this call uploaded but will not reference. It runs
// detached from ctx so a cancelled request still cleans up.
func (s *Service) discard(ctx context.Context, digest string, tokens []string) {
	if len(tokens) == 0 {
		return
	}
	deleter, ok := s.blobs.(BlobDeleter)
	if !ok {
		s.logger.Debug("blob store keeps orphaned refs", zap.String("digest", digest), zap.Int("refs", len(tokens)))
		return
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()

	for _, token := range tokens {
		if err := deleter.Delete(cleanupCtx, token); err != nil {
			s.logger.Warn("discard orphaned blob failed",
				zap.String("digest", digest),
				zap.String("token", token),
				zap.Error(err),
			)
		}
	}
}

// Remove tombstones the asset. Removing twice is a no-op.
func (s *Service) Remove(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: media id is required", ErrValidation)
	}
	if s.store == nil {
		return fmt.Errorf("media dependencies are not configured")
	}

	asset, err := s.store.FindByDigest(ctx, id)
	if err != nil {
		return fmt.Errorf("find media: %w", err)
	}
	if asset == nil {
		return ErrNotFound
	}
	if asset.IsRemoved() {
		return nil
	}

	if err := s.store.MarkRemoved(ctx, id, s.now().UTC()); err != nil {
		return fmt.Errorf("mark media removed: %w", err)
	}
	s.logger.Info("media removed", zap.String("digest", id), zap.String("backend", asset.Backend))
	return nil
}

// Open streams one stored variant into w. When w carries headers the
// content type is set before the first byte.
func (s *Service) Open(ctx context.Context, id string, variant Variant, w io.Writer) error {
	if err := s.ready(); err != nil {
		return err
	}

	asset, err := s.store.FindByDigest(ctx, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("find media: %w", err)
	}
	if asset == nil || asset.IsRemoved() || asset.Remote == nil {
		return ErrNotFound
	}

	token, contentType := variantRef(*asset, variant)
	if token == "" {
		return ErrNotFound
	}

	if hw, ok := w.(interface{ Header() http.Header }); ok {
		hw.Header().Set("Content-Type", contentType)
	}
	if err := s.blobs.Download(ctx, token, w); err != nil {
		return fmt.Errorf("download %s %s: %w", asset.ID, variant, err)
	}
	return nil
}

func variantRef(asset model.MediaAsset, variant Variant) (string, string) {
	switch variant {
	case VariantOriginal:
		contentType := asset.ContentType
		if contentType == "" {
			contentType = defaultContentType
		}
		return asset.Remote.PrimaryRef, contentType
	case VariantPreview:
		return asset.Remote.PreviewRef, "image/jpeg"
	case VariantSquare:
		return asset.Remote.SquarePreviewRef, "image/jpeg"
	default:
		return "", ""
	}
}

func (s *Service) ready() error {
	if s.store == nil || s.blobs == nil {
		return fmt.Errorf("media dependencies are not configured")
	}
	return nil
}

// readCapped reads r fully, failing once more than limit bytes arrive.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, limit)
	}
	return data, nil
}
