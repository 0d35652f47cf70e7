package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"escrow-engine-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InsertNotification stores a user-visible notification row.
func (s *Service) InsertNotification(ctx context.Context, userId, kind, title, message string) error {
	_, err := s.db.ExecContext(ctx, queryInsertNotification,
		uuid.New().String(), userId, kind, title, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// InsertInboxMessage stores a direct message in the platform inbox.
func (s *Service) InsertInboxMessage(ctx context.Context, fromUser, toUser, subject, body string) error {
	_, err := s.db.ExecContext(ctx, queryInsertInboxMessage,
		uuid.New().String(), fromUser, toUser, subject, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert inbox message: %w", err)
	}
	return nil
}

func (s *Service) GetNotifications(ctx context.Context, userId string, limit int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, queryGetNotifications, userId, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var notifications []models.Notification
	for rows.Next() {
		var notification models.Notification
		if err := rows.Scan(&notification.Id, &notification.UserId, &notification.Type,
			&notification.Title, &notification.Message, &notification.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification rows: %w", err)
	}
	return notifications, nil
}
