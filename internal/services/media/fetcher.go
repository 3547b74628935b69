package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/MadarauchiaM/rouzer3.0/internal/domain/enums"
)

// MaxRemoteBytes is the fixed ceiling for anything fetched from a URL.
const MaxRemoteBytes int64 = 12 << 20

var allowedRemoteTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
	"video/mp4":  {},
	"video/webm": {},
}

// RemoteObject is a validated remote body ready to be read once.
type RemoteObject struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	FileName      string
	SourceURL     string
	// Kind is set when the source decides the kind regardless of the bytes.
	Kind     enums.MediaKind
	Platform *PlatformVideo
}

type RemoteFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*RemoteObject, error)
}

type Fetcher struct {
	client   *http.Client
	maxBytes int64
	platform *PlatformFetcher
}

func NewFetcher(client *http.Client, platform *PlatformFetcher) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if platform == nil {
		platform = NewPlatformFetcher(client, "")
	}
	return &Fetcher{
		client:   client,
		maxBytes: MaxRemoteBytes,
		platform: platform,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*RemoteObject, error) {
	target, err := parseRemoteURL(rawURL)
	if err != nil {
		return nil, err
	}

	if videoID, ok := f.platform.Match(target.String()); ok {
		return f.platform.Fetch(ctx, videoID)
	}

	if err := f.probe(ctx, target.String()); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build GET request: %v", ErrValidation, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrRemoteFetchFailed, target.Host, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: GET %s returned %d", ErrRemoteFetchFailed, target.Host, resp.StatusCode)
	}

	contentType, err := f.checkHeaders(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	return &RemoteObject{
		Body:          newGuardedBody(resp.Body, f.maxBytes, resp.ContentLength),
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
		FileName:      "remote" + extensionFromContentType(contentType),
		SourceURL:     target.String(),
	}, nil
}

// probe rejects oversized or unsupported content before any body is transferred.
func (f *Fetcher) probe(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return fmt.Errorf("%w: build HEAD request: %v", ErrValidation, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: HEAD: %v", ErrRemoteFetchFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed, resp.StatusCode == http.StatusNotImplemented:
		return nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: HEAD returned %d", ErrRemoteFetchFailed, resp.StatusCode)
	}

	_, err = f.checkHeaders(resp)
	return err
}

func (f *Fetcher) checkHeaders(resp *http.Response) (string, error) {
	if resp.ContentLength > f.maxBytes {
		return "", fmt.Errorf("%w: remote declares %d bytes, limit is %d", ErrPayloadTooLarge, resp.ContentLength, f.maxBytes)
	}
	contentType := normalizeContentType(resp.Header.Get("Content-Type"))
	if _, ok := allowedRemoteTypes[contentType]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
	return contentType, nil
}

func parseRemoteURL(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrValidation)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %v", ErrValidation, err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported url scheme %q", ErrValidation, parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: url host is required", ErrValidation)
	}
	return parsed, nil
}

// guardedBody enforces the byte ceiling and reports bodies that end before
// their declared length.
type guardedBody struct {
	rc       io.ReadCloser
	limit    int64
	declared int64
	read     int64
}

func newGuardedBody(rc io.ReadCloser, limit, declared int64) *guardedBody {
	return &guardedBody{rc: rc, limit: limit, declared: declared}
}

func (b *guardedBody) Read(p []byte) (int, error) {
	if remaining := b.limit + 1 - b.read; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := b.rc.Read(p)
	b.read += int64(n)

	if b.read > b.limit {
		return n, fmt.Errorf("%w: remote body exceeds %d bytes", ErrPayloadTooLarge, b.limit)
	}

	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		if b.declared >= 0 && b.read < b.declared {
			return n, fmt.Errorf("%w: body truncated at %d of %d bytes", ErrRemoteFetchFailed, b.read, b.declared)
		}
		return n, io.EOF
	default:
		return n, fmt.Errorf("%w: read body: %v", ErrRemoteFetchFailed, err)
	}
}

func (b *guardedBody) Close() error {
	return b.rc.Close()
}
