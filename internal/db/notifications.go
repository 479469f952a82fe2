package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification is one operator-facing message.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordNotification appends n to the notification log, assigning an id
// and timestamp when they are unset.
func (db *DB) RecordNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO notifications (notification_id, title, message, severity, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Message, n.Severity, n.Source, n.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// RecentNotifications returns up to limit notifications, newest first.
func (db *DB) RecentNotifications(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT notification_id, title, message, severity, source, created_at
		FROM notifications ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n         Notification
			createdMs int64
		)
		if err := rows.Scan(&n.ID, &n.Title, &n.Message, &n.Severity, &n.Source, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}
