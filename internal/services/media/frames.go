package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/gif"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FrameExtractor turns a motion source into a single still image stream.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, r io.Reader, hintName string) (io.ReadCloser, error)
}

// FrameGrabber decodes GIFs natively and shells out to ffmpeg for video.
type FrameGrabber struct {
	ffmpegPath string
	tempDir    string
}

func NewFrameGrabber(ffmpegPath string) *FrameGrabber {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FrameGrabber{ffmpegPath: ffmpegPath, tempDir: os.TempDir()}
}

func (g *FrameGrabber) ExtractFrame(ctx context.Context, r io.Reader, hintName string) (io.ReadCloser, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil motion stream", ErrStreamUnreadable)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read motion source: %v", ErrStreamUnreadable, err)
	}

	if isGIF(data, hintName) {
		return firstGIFFrame(data)
	}
	return g.videoFrame(ctx, data, hintName)
}

func isGIF(data []byte, hintName string) bool {
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return true
	}
	return strings.EqualFold(path.Ext(hintName), ".gif")
}

func firstGIFFrame(data []byte) (io.ReadCloser, error) {
	img, err := gif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode gif: %v", ErrUnsupportedMedia, err)
	}

	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, fmt.Errorf("%w: encode gif frame: %v", ErrUnsupportedMedia, err)
	}
	return io.NopCloser(&out), nil
}

func (g *FrameGrabber) videoFrame(ctx context.Context, data []byte, hintName string) (io.ReadCloser, error) {
	ext := strings.ToLower(path.Ext(hintName))
	if ext == "" || len(ext) > 8 {
		ext = ".bin"
	}
	tmpPath := filepath.Join(g.tempDir, "rouzer-frame-"+uuid.NewString()+ext)
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("spool video for frame extraction: %w", err)
	}
	defer os.Remove(tmpPath)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.ffmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-i", tmpPath,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("extract video frame: %w", ctxErr)
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fmt.Errorf("%w: ffmpeg unavailable: %v", ErrUnsupportedMedia, err)
		}
		return nil, fmt.Errorf("%w: extract video frame: %s", ErrUnsupportedMedia, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: no video frame decoded", ErrUnsupportedMedia)
	}

	return io.NopCloser(&stdout), nil
}
