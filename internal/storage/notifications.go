package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
)

type notification struct {
	userID    uuid.UUID
	kind      string
	title     string
	content   string
	relatedID string
}

// insertNotification writes a notification row inside the caller's transaction
// so fan-out commits or rolls back together with the triggering mutation
func insertNotification(ctx context.Context, tx pgx.Tx, n notification) error {
	var related *string
	if n.relatedID != "" {
		related = &n.relatedID
	}

	sql := `insert into notifications (user_id, type, title, content, is_read, related_id, created_at)
			values ($1, $2, $3, $4, false, $5, now())`
	_, err := tx.Exec(ctx, sql, n.userID, n.kind, n.title, n.content, related)
	return err
}

// UnreadNotificationCount returns the number of unread notifications for the user
func (s *Store) UnreadNotificationCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	sql := "select count(*) from notifications where user_id = $1 and not is_read"
	err := s.db.QueryRow(ctx, sql, userID).Scan(&count)
	return count, err
}
