// Package notify delivers user notifications and inbox messages. Every
// notification is stored durably; Telegram delivery is an optional extra on
// top and is skipped for users without a linked chat.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Storage is the durable side of notification delivery.
type Storage interface {
	InsertNotification(ctx context.Context, userId, kind, title, message string) error
	InsertInboxMessage(ctx context.Context, fromUser, toUser, subject, body string) error
}

// Service stores notifications and optionally pushes them to Telegram.
// All delivery methods are fire-and-forget: failures are logged and never
// propagate into the calling state transition.
type Service struct {
	storage  Storage
	botToken string
	chats    map[string]int64
	client   *http.Client
}

var _ store.Notifier = (*Service)(nil)

func NewService(storage Storage, cfg models.TelegramConfig) (*Service, error) {
	svc := &Service{
		storage:  storage,
		botToken: cfg.BotToken,
		chats:    map[string]int64{},
		client:   &http.Client{Timeout: cfg.Timeout},
	}
	if svc.client.Timeout == 0 {
		svc.client.Timeout = 10 * time.Second
	}

	if cfg.BotToken != "" && cfg.ChatFile != "" {
		chats, err := loadChatCatalog(cfg.ChatFile)
		if err != nil {
			return nil, err
		}
		svc.chats = chats
		zap.L().Info("Telegram delivery enabled", zap.Int("linked_chats", len(chats)))
	}

	return svc, nil
}

// Notify stores a notification for the user and pushes it to Telegram when
// the user has a linked chat.
func (s *Service) Notify(ctx context.Context, userId, kind, title, message string) {
	if err := s.storage.InsertNotification(ctx, userId, kind, title, message); err != nil {
		zap.L().Error("Failed to store notification",
			zap.String("user_id", userId),
			zap.String("kind", kind),
			zap.Error(err))
	}

	s.pushTelegram(ctx, userId, fmt.Sprintf("%s\n\n%s", title, message))
}

// SendInboxMessage stores a direct message in the recipient's inbox.
func (s *Service) SendInboxMessage(ctx context.Context, fromUser, toUser, subject, body string) {
	if err := s.storage.InsertInboxMessage(ctx, fromUser, toUser, subject, body); err != nil {
		zap.L().Error("Failed to store inbox message",
			zap.String("from", fromUser),
			zap.String("to", toUser),
			zap.Error(err))
	}

	s.pushTelegram(ctx, toUser, fmt.Sprintf("%s\n\n%s", subject, body))
}

func (s *Service) pushTelegram(ctx context.Context, userId, text string) {
	if s.botToken == "" {
		return
	}
	chatId, ok := s.chats[userId]
	if !ok {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id": chatId,
		"text":    text,
	})
	if err != nil {
		zap.L().Error("Failed to marshal Telegram payload", zap.Error(err))
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		zap.L().Error("Failed to build Telegram request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		zap.L().Warn("Telegram delivery failed",
			zap.String("user_id", userId),
			zap.Error(err))
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Warn("Failed to close Telegram response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		zap.L().Warn("Telegram delivery rejected",
			zap.String("user_id", userId),
			zap.Int("status", resp.StatusCode))
	}
}

// loadChatCatalog reads the user id to Telegram chat id mapping.
func loadChatCatalog(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read chat catalog %s: %w", path, err)
	}

	var chats map[string]int64
	if err := yaml.Unmarshal(data, &chats); err != nil {
		return nil, fmt.Errorf("unable to parse chat catalog %s: %w", path, err)
	}
	return chats, nil
}
