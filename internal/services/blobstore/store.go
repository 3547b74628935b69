package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	goredis "github.com/redis/go-redis/v9"

	redrepo "github.com/MadarauchiaM/rouzer3.0/internal/repo/redis"
	ratesvc "github.com/MadarauchiaM/rouzer3.0/internal/services/rate"
)

const (
	BackendTelegram = "telegram"
	BackendLocal    = "local"
	BackendS3       = "s3"
)

var (
	ErrNotFound     = errors.New("blob not found")
	ErrInvalidToken = errors.New("invalid blob token")
)

// Store keeps opaque blobs. Tokens returned by Upload are the only way to
// reach the bytes again.
type Store interface {
	Name() string
	// External reports whether blobs live in a service that keeps them
	// after we stop referencing them.
	External() bool
	Upload(ctx context.Context, r io.Reader, suggestedName string) (string, error)
	Download(ctx context.Context, token string, w io.Writer) error
}

// Deleter is implemented by backends that can drop a blob.
type Deleter interface {
	Delete(ctx context.Context, token string) error
}

type Config struct {
	Backend        string
	LocalDir       string
	Bucket         string
	TelegramChatID int64
	RatePerMinute  int
	RateBurst      int
}

type Dependencies struct {
	S3    *minio.Client
	Bot   DocumentBot
	Redis *goredis.Client
}

func New(cfg Config, deps Dependencies) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendLocal:
		return NewLocalStore(cfg.LocalDir)
	case BackendS3:
		if deps.S3 == nil {
			return nil, fmt.Errorf("s3 client is required for the s3 blob backend")
		}
		return NewObjectStore(deps.S3, cfg.Bucket), nil
	case BackendTelegram:
		if deps.Bot == nil {
			return nil, fmt.Errorf("telegram bot is required for the telegram blob backend")
		}
		store := NewTelegramStore(deps.Bot, cfg.TelegramChatID)
		if cfg.RatePerMinute <= 0 {
			return store, nil
		}
		return Throttle(store, newWaiter(cfg, deps.Redis)), nil
	default:
		return nil, fmt.Errorf("unsupported blob backend: %s", cfg.Backend)
	}
}

// newWaiter shares the window through redis when available so every replica
// counts against the same bot quota.
func newWaiter(cfg Config, client *goredis.Client) Waiter {
	if client != nil {
		return ratesvc.NewLimiter(redrepo.NewRateRepo(client), "blob:"+BackendTelegram, cfg.RatePerMinute, time.Minute)
	}
	return ratesvc.NewLocalLimiter(cfg.RatePerMinute, cfg.RateBurst)
}

// newToken spreads blobs over 256 prefixes. Tokens are random so two racing
// uploads of the same content never share a key.
func newToken(suggestedName string) string {
	id := uuid.NewString()
	return id[:2] + "/" + id + safeExt(suggestedName)
}

func safeExt(name string) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(name)))
	if len(ext) < 2 || len(ext) > 8 {
		return ".bin"
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ".bin"
		}
	}
	return ext
}

func validToken(token string) bool {
	if token == "" || strings.HasPrefix(token, "/") || strings.Contains(token, "\\") {
		return false
	}
	for _, part := range strings.Split(token, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
