package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadUsesDefaultsAndYAMLOverrides(t *testing.T) {
	clearConfigEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	yaml := `
blob:
  backend: s3
s3:
  bucket: board-media
media:
  max_upload_bytes: 1048576
  fetch_timeout: 45s
cleanup:
  grace: 2h
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Blob.Backend != BlobBackendS3 {
		t.Fatalf("unexpected blob backend: %s", cfg.Blob.Backend)
	}
	if cfg.S3.Bucket != "board-media" {
		t.Fatalf("unexpected s3 bucket: %s", cfg.S3.Bucket)
	}
	if cfg.Media.MaxUploadBytes != 1<<20 {
		t.Fatalf("unexpected max upload bytes: %d", cfg.Media.MaxUploadBytes)
	}
	if cfg.Media.FetchTimeout.String() != "45s" {
		t.Fatalf("unexpected fetch timeout: %s", cfg.Media.FetchTimeout)
	}
	if cfg.Cleanup.Grace.String() != "2h0m0s" {
		t.Fatalf("unexpected cleanup grace: %s", cfg.Cleanup.Grace)
	}

	if cfg.Media.PrivilegedMaxUploadBytes != 64<<20 {
		t.Fatalf("privileged upload cap default should stay 64 MiB")
	}
	if cfg.Media.FFmpegPath != "ffmpeg" {
		t.Fatalf("ffmpeg path default should stay ffmpeg")
	}
	if cfg.Telegram.RatePerMinute != 20 {
		t.Fatalf("telegram rate default should stay 20/min")
	}
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config with missing file: %v", err)
	}

	if cfg.Blob.Backend != BlobBackendLocal {
		t.Fatalf("unexpected default blob backend: %s", cfg.Blob.Backend)
	}
	if cfg.Media.MaxUploadBytes != 12<<20 {
		t.Fatalf("unexpected default upload cap: %d", cfg.Media.MaxUploadBytes)
	}
	if cfg.Cleanup.Interval.String() != "1h0m0s" {
		t.Fatalf("unexpected default cleanup interval: %s", cfg.Cleanup.Interval)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("BLOB_BACKEND", "Telegram")
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200300")
	t.Setenv("MEDIA_MAX_UPLOAD_BYTES", "2048")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Blob.Backend != BlobBackendTelegram {
		t.Fatalf("unexpected blob backend: %s", cfg.Blob.Backend)
	}
	if cfg.Telegram.ChatID != -100200300 {
		t.Fatalf("unexpected telegram chat id: %d", cfg.Telegram.ChatID)
	}
	if cfg.Media.MaxUploadBytes != 2048 {
		t.Fatalf("unexpected upload cap: %d", cfg.Media.MaxUploadBytes)
	}
}

func TestLoadRejectsTelegramBackendWithoutChat(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("BLOB_BACKEND", "telegram")
	t.Setenv("TELEGRAM_TOKEN", "123:abc")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when telegram.chat_id is empty")
	}
}

func TestLoadRejectsInvalidEnvDuration(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("MEDIA_FETCH_TIMEOUT", "soon")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for invalid MEDIA_FETCH_TIMEOUT")
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV",
		"HTTP_ADDR",
		"HTTP_READ_TIMEOUT",
		"HTTP_WRITE_TIMEOUT",
		"HTTP_IDLE_TIMEOUT",
		"LOG_LEVEL",
		"POSTGRES_DSN",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"S3_ENDPOINT",
		"S3_ACCESS_KEY",
		"S3_SECRET_KEY",
		"S3_BUCKET",
		"S3_REGION",
		"S3_USE_SSL",
		"TELEGRAM_TOKEN",
		"TELEGRAM_CHAT_ID",
		"TELEGRAM_RATE_PER_MINUTE",
		"BLOB_BACKEND",
		"BLOB_LOCAL_DIR",
		"MEDIA_MAX_UPLOAD_BYTES",
		"MEDIA_PRIVILEGED_MAX_UPLOAD_BYTES",
		"MEDIA_FETCH_TIMEOUT",
		"MEDIA_FFMPEG_PATH",
		"CLEANUP_INTERVAL",
		"CLEANUP_GRACE",
		"ADMIN_TOKEN",
	} {
		t.Setenv(key, "")
	}
}
