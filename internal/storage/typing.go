package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
)

// TypingWindow is how recently a typing indicator must have been updated to
// still be shown. Expiry is read-time filtering only; stale rows stay in
// storage until the next upsert.
const TypingWindow = 5 * time.Second

// SetTyping upserts the caller's single typing row for the conversation
func (s *Store) SetTyping(ctx context.Context, userID, conversationID uuid.UUID, isTyping bool) error {
	sql := `insert into typing_indicators (conversation_id, user_id, is_typing, updated_at)
			values ($1, $2, $3, now())
			on conflict (conversation_id, user_id) do update
			   set is_typing = excluded.is_typing,
				   updated_at = now()`
	_, err := s.db.Exec(ctx, sql, conversationID, userID, isTyping)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrConversationNotExist
		}
		return err
	}
	return nil
}

// TypingFor returns who else is currently typing in the conversation, joined
// with their profiles. Rows older than TypingWindow are treated as expired.
func (s *Store) TypingFor(ctx context.Context, userID, conversationID uuid.UUID) ([]TypingIndicator, error) {
	sql := `select t.conversation_id, t.user_id, t.is_typing, t.updated_at,
				   ` + prefixedUserColumns("u") + `
			  from typing_indicators t
			  join users u on u.id = t.user_id
			 where t.conversation_id = $1
			   and t.is_typing
			   and t.user_id <> $2
			   and t.updated_at > now() - interval '5 seconds'`
	rows, err := s.db.Query(ctx, sql, conversationID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indicators []TypingIndicator
	for rows.Next() {
		var (
			t TypingIndicator
			u User
		)
		err = rows.Scan(&t.ConversationID, &t.UserID, &t.IsTyping, &t.UpdatedAt,
			&u.ID, &u.Subject, &u.Email, &u.Username, &u.FullName, &u.ImageURL, &u.Bio, &u.Status, &u.LastSeen)
		if err != nil {
			return nil, err
		}
		t.User = &u
		indicators = append(indicators, t)
	}

	return indicators, rows.Err()
}
