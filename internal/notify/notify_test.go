package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"escrow-engine-go/internal/models"
)

type recordingStorage struct {
	notifications []string
	inbox         []string
	fail          bool
}

func (s *recordingStorage) InsertNotification(_ context.Context, userId, kind, title, message string) error {
	if s.fail {
		return errors.New("storage down")
	}
	s.notifications = append(s.notifications, userId+"/"+kind+"/"+title)
	return nil
}

func (s *recordingStorage) InsertInboxMessage(_ context.Context, fromUser, toUser, subject, _ string) error {
	if s.fail {
		return errors.New("storage down")
	}
	s.inbox = append(s.inbox, fromUser+"->"+toUser+"/"+subject)
	return nil
}

func TestNotify_StoresNotification(t *testing.T) {
	storage := &recordingStorage{}
	service, err := NewService(storage, models.TelegramConfig{})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	service.Notify(context.Background(), "user1", "deal", "Deal accepted", "details")

	if len(storage.notifications) != 1 {
		t.Fatalf("Expected 1 stored notification, got %d", len(storage.notifications))
	}
	if storage.notifications[0] != "user1/deal/Deal accepted" {
		t.Errorf("Unexpected stored notification: %s", storage.notifications[0])
	}
}

func TestNotify_StorageFailureDoesNotPanic(t *testing.T) {
	service, err := NewService(&recordingStorage{fail: true}, models.TelegramConfig{})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	// Fire-and-forget: a broken store is logged, never propagated.
	service.Notify(context.Background(), "user1", "deal", "Deal accepted", "details")
	service.SendInboxMessage(context.Background(), "admin", "user1", "Hello", "body")
}

func TestLoadChatCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats.yaml")
	content := "user1: 123456\nuser2: -987654\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write chat catalog: %v", err)
	}

	chats, err := loadChatCatalog(path)
	if err != nil {
		t.Fatalf("loadChatCatalog failed: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("Expected 2 chats, got %d", len(chats))
	}
	if chats["user1"] != 123456 || chats["user2"] != -987654 {
		t.Errorf("Unexpected chat ids: %+v", chats)
	}
}

func TestLoadChatCatalog_MissingFile(t *testing.T) {
	if _, err := loadChatCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected an error for a missing catalog file")
	}
}
