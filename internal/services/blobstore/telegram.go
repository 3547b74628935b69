package blobstore

import (
	"context"
	"fmt"
	"io"
	"strings"
)

type DocumentBot interface {
	SendDocument(ctx context.Context, chatID int64, name string, r io.Reader) (string, error)
	OpenFile(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// TelegramStore keeps blobs as documents in a bot chat. Only file ids are
// kept, so sent documents stay in the chat for good.
type TelegramStore struct {
	bot    DocumentBot
	chatID int64
}

func NewTelegramStore(bot DocumentBot, chatID int64) *TelegramStore {
	return &TelegramStore{bot: bot, chatID: chatID}
}

func (s *TelegramStore) Name() string   { return BackendTelegram }
func (s *TelegramStore) External() bool { return true }

func (s *TelegramStore) Upload(ctx context.Context, r io.Reader, suggestedName string) (string, error) {
	if s.bot == nil {
		return "", fmt.Errorf("telegram bot is nil")
	}
	name := strings.TrimSpace(suggestedName)
	if name == "" {
		name = "media.bin"
	}

	fileID, err := s.bot.SendDocument(ctx, s.chatID, name, r)
	if err != nil {
		return "", err
	}
	return fileID, nil
}

func (s *TelegramStore) Download(ctx context.Context, token string, w io.Writer) error {
	if s.bot == nil {
		return fmt.Errorf("telegram bot is nil")
	}
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}

	rc, err := s.bot.OpenFile(ctx, token)
	if err != nil {
		return err
	}
	defer rc.Close()

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("copy telegram file: %w", err)
	}
	return nil
}
