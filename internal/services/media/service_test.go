package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MadarauchiaM/rouzer3.0/internal/domain/enums"
	"github.com/MadarauchiaM/rouzer3.0/internal/domain/model"
)

type fakeStore struct {
	mu           sync.Mutex
	assets       map[string]model.MediaAsset
	creates      int
	beforeCreate func(asset model.MediaAsset)
}

func newFakeStore() *fakeStore {
	return &fakeStore{assets: make(map[string]model.MediaAsset)}
}

func (f *fakeStore) FindByDigest(_ context.Context, digest string) (*model.MediaAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	asset, ok := f.assets[digest]
	if !ok {
		return nil, nil
	}
	return &asset, nil
}

func (f *fakeStore) Create(_ context.Context, asset model.MediaAsset) (model.MediaAsset, error) {
	if f.beforeCreate != nil {
		f.beforeCreate(asset)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.assets[asset.ID]; exists {
		return model.MediaAsset{}, ErrDuplicateCreate
	}
	f.creates++
	f.assets[asset.ID] = asset
	return asset, nil
}

func (f *fakeStore) MarkRemoved(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	asset, ok := f.assets[id]
	if !ok {
		return ErrNotFound
	}
	asset.Kind = enums.MediaKindRemoved
	asset.RemovedAt = &at
	f.assets[id] = asset
	return nil
}

func (f *fakeStore) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

type fakeBlobs struct {
	mu      sync.Mutex
	calls   int
	failOn  int
	objects map[string][]byte
	names   []string
	deleted []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Name() string { return "fake" }

func (f *fakeBlobs) Upload(_ context.Context, r io.Reader, name string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failOn > 0 && f.calls == f.failOn {
		return "", errors.New("blob service unavailable")
	}
	token := fmt.Sprintf("tok-%d", f.calls)
	f.objects[token] = data
	f.names = append(f.names, name)
	return token, nil
}

func (f *fakeBlobs) Download(_ context.Context, token string, w io.Writer) error {
	f.mu.Lock()
	data, ok := f.objects[token]
	f.mu.Unlock()
	if !ok {
		return errors.New("no such blob")
	}
	_, err := w.Write(data)
	return err
}

func (f *fakeBlobs) Delete(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, token)
	delete(f.objects, token)
	return nil
}

func (f *fakeBlobs) uploadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBlobs) deletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

type fakeFetcher struct {
	calls       int
	data        []byte
	contentType string
	body        *trackingBody
	err         error
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*RemoteObject, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.body = newTrackingBody(f.data)
	return &RemoteObject{
		Body:          f.body,
		ContentType:   f.contentType,
		ContentLength: int64(len(f.data)),
		FileName:      "remote" + extensionFromContentType(f.contentType),
		SourceURL:     rawURL,
	}, nil
}

type fakeFrames struct {
	calls int
	frame []byte
	err   error
	last  *trackingBody
}

func (f *fakeFrames) ExtractFrame(_ context.Context, r io.Reader, _ string) (io.ReadCloser, error) {
	f.calls++
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	f.last = newTrackingBody(f.frame)
	return f.last, nil
}

func newTestService(store Store, blobs BlobStore, fetcher RemoteFetcher, frames FrameExtractor) *Service {
	return NewService(Dependencies{
		Store:   store,
		Blobs:   blobs,
		Fetcher: fetcher,
		Frames:  frames,
	}, Config{MaxUploadBytes: 12 << 20, PrivilegedMaxUploadBytes: 64 << 20})
}

func uploadOf(data []byte, name, contentType string) (UploadRequest, *trackingBody) {
	body := newTrackingBody(data)
	return UploadRequest{Body: body, FileName: name, ContentType: contentType}, body
}

func TestIngestFromUploadEndToEnd(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	svc := newTestService(store, blobs, nil, nil)
	pic := encodeJPEG(t, solidImage(500, 500))

	req, body := uploadOf(pic, "pic.jpg", "image/jpeg")
	asset, err := svc.IngestFromUpload(context.Background(), req, false)
	if err != nil {
		t.Fatalf("ingest upload: %v", err)
	}
	if !body.Closed() {
		t.Fatalf("upload body should be closed")
	}

	digest := HashBytes(pic)
	if asset.ID != digest {
		t.Fatalf("asset id should be the content digest")
	}
	if asset.Kind != enums.MediaKindImage {
		t.Fatalf("unexpected kind %s", asset.Kind)
	}
	if asset.Remote == nil {
		t.Fatalf("asset should carry remote refs")
	}
	if asset.DisplayURL != digest+".jpg?t="+asset.Remote.PrimaryRef {
		t.Fatalf("unexpected display url %q", asset.DisplayURL)
	}
	if asset.Width != 500 || asset.Height != 500 {
		t.Fatalf("unexpected dimensions %dx%d", asset.Width, asset.Height)
	}
	if asset.Backend != "fake" || asset.SizeBytes != int64(len(pic)) {
		t.Fatalf("unexpected backend/size: %s/%d", asset.Backend, asset.SizeBytes)
	}
	if blobs.uploadCalls() != 3 {
		t.Fatalf("expected 3 uploads, got %d", blobs.uploadCalls())
	}
	if !bytes.Equal(blobs.objects[asset.Remote.PrimaryRef], pic) {
		t.Fatalf("primary blob should hold the original bytes")
	}
	if w, h := jpegSize(t, blobs.objects[asset.Remote.PreviewRef]); w != 300 || h != 300 {
		t.Fatalf("unexpected preview size %dx%d", w, h)
	}
	if w, h := jpegSize(t, blobs.objects[asset.Remote.SquarePreviewRef]); w != 300 || h != 300 {
		t.Fatalf("unexpected square size %dx%d", w, h)
	}

	names := strings.Join(blobs.names, ",")
	for _, want := range []string{digest + ".jpg", digest + "_preview.jpg", digest + "_square.jpg"} {
		if !strings.Contains(names, want) {
			t.Fatalf("missing upload name %q in %s", want, names)
		}
	}

	req, _ = uploadOf(pic, "other-name.png", "image/png")
	again, err := svc.IngestFromUpload(context.Background(), req, false)
	if err != nil {
		t.Fatalf("re-upload: %v", err)
	}
	if again.ID != asset.ID || again.DisplayURL != asset.DisplayURL {
		t.Fatalf("re-upload should return the existing asset")
	}
	if blobs.uploadCalls() != 3 {
		t.Fatalf("re-upload must not touch the blob store, got %d uploads", blobs.uploadCalls())
	}
	if store.createCount() != 1 {
		t.Fatalf("expected a single stored row, got %d", store.createCount())
	}
}

func TestIngestDedupAcrossSources(t *testing.T) {
	pic := encodePNG(t, solidImage(120, 80))

	t.Run("upload then url", func(t *testing.T) {
		store := newFakeStore()
		blobs := newFakeBlobs()
		fetcher := &fakeFetcher{data: pic, contentType: "image/png"}
		svc := newTestService(store, blobs, fetcher, nil)

		req, _ := uploadOf(pic, "a.png", "image/png")
		first, err := svc.IngestFromUpload(context.Background(), req, false)
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		second, err := svc.IngestFromURL(context.Background(), "https://cdn.test/a.png", false)
		if err != nil {
			t.Fatalf("url: %v", err)
		}
		if first.ID != second.ID {
			t.Fatalf("same bytes should share one asset")
		}
		if blobs.uploadCalls() != 3 || store.createCount() != 1 {
			t.Fatalf("expected one set of uploads, got %d uploads %d rows", blobs.uploadCalls(), store.createCount())
		}
		if !fetcher.body.Closed() {
			t.Fatalf("fetched body should be closed")
		}
	})

	t.Run("url then url", func(t *testing.T) {
		store := newFakeStore()
		blobs := newFakeBlobs()
		fetcher := &fakeFetcher{data: pic, contentType: "image/png"}
		svc := newTestService(store, blobs, fetcher, nil)

		first, err := svc.IngestFromURL(context.Background(), "https://cdn.test/a.png", false)
		if err != nil {
			t.Fatalf("first url: %v", err)
		}
		second, err := svc.IngestFromURL(context.Background(), "https://mirror.test/b.png", false)
		if err != nil {
			t.Fatalf("second url: %v", err)
		}
		if first.ID != second.ID || blobs.uploadCalls() != 3 {
			t.Fatalf("expected one asset and one set of uploads")
		}
		if first.SourceURL != "https://cdn.test/a.png" || second.SourceURL != first.SourceURL {
			t.Fatalf("dedup hit should keep the first provenance")
		}
		if first.DisplayURL != first.ID+".png?t="+first.Remote.PrimaryRef {
			t.Fatalf("url display extension should follow the content type, got %q", first.DisplayURL)
		}
	})
}

func TestIngestUploadFailureIsAtomic(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	blobs.failOn = 2
	svc := newTestService(store, blobs, nil, nil)

	req, body := uploadOf(encodeJPEG(t, solidImage(400, 300)), "pic.jpg", "image/jpeg")
	_, err := svc.IngestFromUpload(context.Background(), req, false)
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("upload failures should be retryable")
	}
	if store.createCount() != 0 {
		t.Fatalf("no row should be created after a failed upload")
	}
	if blobs.uploadCalls() != 3 {
		t.Fatalf("all three uploads should be awaited, got %d", blobs.uploadCalls())
	}
	if blobs.deletedCount() != 2 {
		t.Fatalf("succeeded uploads should be discarded, got %d", blobs.deletedCount())
	}
	if !body.Closed() {
		t.Fatalf("upload body should be closed on failure")
	}
}

func TestIngestRejectionsReleaseResources(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	svc := NewService(Dependencies{Store: store, Blobs: blobs}, Config{MaxUploadBytes: 64, PrivilegedMaxUploadBytes: 1 << 20})

	req, body := uploadOf([]byte("definitely not an image"), "x.jpg", "image/jpeg")
	if _, err := svc.IngestFromUpload(context.Background(), req, false); !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
	if !body.Closed() {
		t.Fatalf("body should be closed after decode failure")
	}

	big := encodeJPEG(t, solidImage(64, 64))
	req, body = uploadOf(big, "big.jpg", "image/jpeg")
	if _, err := svc.IngestFromUpload(context.Background(), req, false); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if !body.Closed() {
		t.Fatalf("body should be closed after size rejection")
	}

	req, body = uploadOf(nil, "empty.jpg", "image/jpeg")
	if _, err := svc.IngestFromUpload(context.Background(), req, false); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty upload, got %v", err)
	}
	if !body.Closed() {
		t.Fatalf("body should be closed after empty upload")
	}

	if _, err := svc.IngestFromUpload(context.Background(), UploadRequest{}, false); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing body, got %v", err)
	}

	if blobs.uploadCalls() != 0 || store.createCount() != 0 {
		t.Fatalf("rejections must not reach blob store or repository")
	}
}

func TestIngestPrivilegedRaisesUploadCap(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	svc := NewService(Dependencies{Store: store, Blobs: blobs}, Config{MaxUploadBytes: 64, PrivilegedMaxUploadBytes: 1 << 20})

	req, _ := uploadOf(encodeJPEG(t, solidImage(64, 64)), "admin.jpg", "image/jpeg")
	if _, err := svc.IngestFromUpload(context.Background(), req, true); err != nil {
		t.Fatalf("privileged upload should pass the larger cap: %v", err)
	}
}

func TestIngestFromURLClosesBodyOnFailure(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	fetcher := &fakeFetcher{data: []byte("<html>nope</html>"), contentType: "image/png"}
	svc := newTestService(store, blobs, fetcher, nil)

	_, err := svc.IngestFromURL(context.Background(), "https://cdn.test/fake.png", false)
	if !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
	if !fetcher.body.Closed() {
		t.Fatalf("fetched body should be closed")
	}

	fetcher.err = fmt.Errorf("%w: HEAD returned 500", ErrRemoteFetchFailed)
	if _, err := svc.IngestFromURL(context.Background(), "https://cdn.test/x.png", false); !errors.Is(err, ErrRemoteFetchFailed) {
		t.Fatalf("fetch errors should pass through, got %v", err)
	}
}

func TestIngestMotionSourceUsesExtractedFrame(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	frames := &fakeFrames{frame: encodePNG(t, solidImage(640, 360))}
	svc := newTestService(store, blobs, nil, frames)
	video := []byte("\x00\x00\x00\x18ftypmp42-not-really-a-video")

	req, body := uploadOf(video, "clip.mp4", "video/mp4")
	asset, err := svc.IngestFromUpload(context.Background(), req, false)
	if err != nil {
		t.Fatalf("ingest video: %v", err)
	}
	if asset.Kind != enums.MediaKindVideo {
		t.Fatalf("expected video kind, got %s", asset.Kind)
	}
	if asset.ID != HashBytes(video) {
		t.Fatalf("digest should cover the original bytes, not the frame")
	}
	if asset.Width != 640 || asset.Height != 360 {
		t.Fatalf("dimensions should come from the frame, got %dx%d", asset.Width, asset.Height)
	}
	if !frames.last.Closed() || !body.Closed() {
		t.Fatalf("frame and upload streams should be closed")
	}
	if !bytes.Equal(blobs.objects[asset.Remote.PrimaryRef], video) {
		t.Fatalf("primary blob should hold the video bytes")
	}

	req, _ = uploadOf(video, "again.mp4", "video/mp4")
	if _, err := svc.IngestFromUpload(context.Background(), req, false); err != nil {
		t.Fatalf("re-ingest video: %v", err)
	}
	if frames.calls != 1 {
		t.Fatalf("dedup hit should skip frame extraction, got %d calls", frames.calls)
	}
}

func TestIngestMotionFrameFailure(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	frames := &fakeFrames{err: fmt.Errorf("%w: unknown codec", ErrUnsupportedMedia)}
	svc := newTestService(store, blobs, nil, frames)

	req, body := uploadOf([]byte("garbage video"), "clip.webm", "video/webm")
	if _, err := svc.IngestFromUpload(context.Background(), req, false); !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
	if !body.Closed() || blobs.uploadCalls() != 0 {
		t.Fatalf("frame failure should close the body and skip uploads")
	}
}

func TestIngestCollapsesCreateRace(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	svc := newTestService(store, blobs, nil, nil)
	pic := encodeJPEG(t, solidImage(300, 200))

	winner := model.MediaAsset{
		ID:         HashBytes(pic),
		Kind:       enums.MediaKindImage,
		DisplayURL: "winner",
		Remote:     &model.RemoteRefs{PrimaryRef: "w1", PreviewRef: "w2", SquarePreviewRef: "w3"},
	}
	store.beforeCreate = func(model.MediaAsset) {
		store.mu.Lock()
		store.assets[winner.ID] = winner
		store.mu.Unlock()
	}

	req, _ := uploadOf(pic, "pic.jpg", "image/jpeg")
	asset, err := svc.IngestFromUpload(context.Background(), req, false)
	if err != nil {
		t.Fatalf("race should collapse into a hit, got %v", err)
	}
	if asset.DisplayURL != "winner" {
		t.Fatalf("expected the winning row, got %+v", asset)
	}
	if blobs.deletedCount() != 3 {
		t.Fatalf("losing uploads should be discarded, got %d", blobs.deletedCount())
	}
}

func TestRemoveTombstonesAsset(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	svc := newTestService(store, blobs, nil, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	pic := encodeJPEG(t, solidImage(100, 100))

	req, _ := uploadOf(pic, "pic.jpg", "image/jpeg")
	asset, err := svc.IngestFromUpload(context.Background(), req, false)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if err := svc.Remove(context.Background(), asset.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	stored, _ := store.FindByDigest(context.Background(), asset.ID)
	if stored.Kind != enums.MediaKindRemoved || stored.RemovedAt == nil || !stored.RemovedAt.Equal(fixed) {
		t.Fatalf("asset should be tombstoned, got %+v", stored)
	}
	if stored.Remote == nil {
		t.Fatalf("remove should keep remote refs")
	}

	if err := svc.Remove(context.Background(), asset.ID); err != nil {
		t.Fatalf("second remove should be a no-op, got %v", err)
	}
	if err := svc.Remove(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Remove(context.Background(), " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	req, _ = uploadOf(pic, "pic.jpg", "image/jpeg")
	again, err := svc.IngestFromUpload(context.Background(), req, false)
	if err != nil {
		t.Fatalf("re-ingest removed content: %v", err)
	}
	if again.Kind != enums.MediaKindRemoved || blobs.uploadCalls() != 3 {
		t.Fatalf("removed content should stay removed without new uploads")
	}
}

func TestOpenStreamsVariants(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	svc := newTestService(store, blobs, nil, nil)
	pic := encodePNG(t, solidImage(400, 400))

	req, _ := uploadOf(pic, "pic.png", "image/png")
	asset, err := svc.IngestFromUpload(context.Background(), req, false)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	rec := httptest.NewRecorder()
	if err := svc.Open(context.Background(), asset.ID, VariantOriginal, rec); err != nil {
		t.Fatalf("open original: %v", err)
	}
	if rec.Header().Get("Content-Type") != "image/png" || !bytes.Equal(rec.Body.Bytes(), pic) {
		t.Fatalf("unexpected original response %q", rec.Header().Get("Content-Type"))
	}

	rec = httptest.NewRecorder()
	if err := svc.Open(context.Background(), asset.ID, VariantSquare, rec); err != nil {
		t.Fatalf("open square: %v", err)
	}
	if rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("square preview should be jpeg")
	}
	if w, h := jpegSize(t, rec.Body.Bytes()); w != 300 || h != 300 {
		t.Fatalf("unexpected square size %dx%d", w, h)
	}

	var buf bytes.Buffer
	if err := svc.Open(context.Background(), asset.ID, Variant("poster"), &buf); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown variant should be not found, got %v", err)
	}

	if err := svc.Remove(context.Background(), asset.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := svc.Open(context.Background(), asset.ID, VariantPreview, &buf); !errors.Is(err, ErrNotFound) {
		t.Fatalf("removed asset should be not found, got %v", err)
	}
}

func TestIngestMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := newFakeStore()
	blobs := newFakeBlobs()
	svc := NewService(Dependencies{Store: store, Blobs: blobs, Metrics: metrics}, Config{})
	pic := encodeJPEG(t, solidImage(50, 50))

	for i := 0; i < 2; i++ {
		req, _ := uploadOf(pic, "pic.jpg", "image/jpeg")
		if _, err := svc.IngestFromUpload(context.Background(), req, false); err != nil {
			t.Fatalf("ingest #%d: %v", i, err)
		}
	}
	req, _ := uploadOf([]byte("nope"), "x.jpg", "image/jpeg")
	_, _ = svc.IngestFromUpload(context.Background(), req, false)

	if got := testutil.ToFloat64(metrics.ingests.WithLabelValues(sourceUpload, outcomeCreated)); got != 1 {
		t.Fatalf("expected 1 created ingestion, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ingests.WithLabelValues(sourceUpload, outcomeDeduped)); got != 1 {
		t.Fatalf("expected 1 deduped ingestion, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ingests.WithLabelValues(sourceUpload, outcomeRejected)); got != 1 {
		t.Fatalf("expected 1 rejected ingestion, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.blobUploads.WithLabelValues("fake", "ok")); got != 3 {
		t.Fatalf("expected 3 blob uploads, got %v", got)
	}
}

func TestParseVariant(t *testing.T) {
	if v, ok := ParseVariant(" Preview "); !ok || v != VariantPreview {
		t.Fatalf("unexpected parse result %q %v", v, ok)
	}
	if _, ok := ParseVariant("thumb"); ok {
		t.Fatalf("unknown variant should not parse")
	}
}
