package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Bot stores files as documents in one chat and reads them back by file id.
type Bot struct {
	api          *tgbotapi.BotAPI
	httpClient   *http.Client
	fileEndpoint string
}

type Config struct {
	Token string
	// APIEndpoint and FileEndpoint default to the public Bot API.
	APIEndpoint  string
	FileEndpoint string
	HTTPClient   *http.Client
}

func NewBot(cfg Config) (*Bot, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = tgbotapi.FileEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, cfg.APIEndpoint, cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}

	return &Bot{
		api:          api,
		httpClient:   cfg.HTTPClient,
		fileEndpoint: cfg.FileEndpoint,
	}, nil
}

// SendDocument uploads r as a document and returns the file id Telegram
// assigned to it.
func (b *Bot) SendDocument(ctx context.Context, chatID int64, name string, r io.Reader) (string, error) {
	if b == nil || b.api == nil {
		return "", fmt.Errorf("telegram bot is not initialized")
	}
	if chatID == 0 {
		return "", fmt.Errorf("chat id is required")
	}
	if r == nil {
		return "", fmt.Errorf("document body is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: name, Reader: r})
	msg, err := callWithContext(ctx, func() (tgbotapi.Message, error) {
		return b.api.Send(doc)
	})
	if err != nil {
		return "", fmt.Errorf("send telegram document: %w", err)
	}

	fileID := messageFileID(msg)
	if fileID == "" {
		return "", fmt.Errorf("telegram message %d carries no file", msg.MessageID)
	}
	return fileID, nil
}

// callWithContext runs a Bot API call that takes no context and returns as
// soon as ctx is done. An abandoned call keeps running until the HTTP client
// timeout ends it.
func callWithContext[T any](ctx context.Context, call func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := call()
		done <- result{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-done:
		return res.value, res.err
	}
}

// Telegram may re-type a document it recognises, so every media field is checked.
func messageFileID(msg tgbotapi.Message) string {
	switch {
	case msg.Document != nil:
		return msg.Document.FileID
	case msg.Animation != nil:
		return msg.Animation.FileID
	case msg.Video != nil:
		return msg.Video.FileID
	case len(msg.Photo) > 0:
		return msg.Photo[len(msg.Photo)-1].FileID
	default:
		return ""
	}
}

func (b *Bot) OpenFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if b == nil || b.api == nil {
		return nil, fmt.Errorf("telegram bot is not initialized")
	}
	if strings.TrimSpace(fileID) == "" {
		return nil, fmt.Errorf("file id is required")
	}

	tgFile, err := callWithContext(ctx, func() (tgbotapi.File, error) {
		return b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	})
	if err != nil {
		return nil, fmt.Errorf("get telegram file: %w", err)
	}

	fileURL := fmt.Sprintf(b.fileEndpoint, b.api.Token, tgFile.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create file request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download telegram file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected telegram file status: %d", resp.StatusCode)
	}

	return resp.Body, nil
}
