package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

// SendMessageParams carries the mutable fields of a new message. File fields
// hold metadata for an already-uploaded blob; the upload itself happens before
// this call.
type SendMessageParams struct {
	ConversationID uuid.UUID
	Content        *string
	MessageType    string
	FileURL        *string
	FileName       *string
	FileSize       *int64
	ReplyToID      *uuid.UUID
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func isMember(ctx context.Context, q queryRower, conversationID, userID uuid.UUID) (bool, error) {
	var member bool
	sql := "select exists (select 1 from conversation_members where conversation_id = $1 and user_id = $2)"
	err := q.QueryRow(ctx, sql, conversationID, userID).Scan(&member)
	return member, err
}

// IsMember reports whether the user belongs to the conversation. Used by the
// websocket layer to authorize topic subscriptions.
func (s *Store) IsMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	return isMember(ctx, s.db, conversationID, userID)
}

// SendMessage appends a message to a conversation the sender belongs to,
// bumps the conversation's last-message time and fans out a notification to
// every other member, all in one transaction.
func (s *Store) SendMessage(ctx context.Context, senderID uuid.UUID, p SendMessageParams) (uuid.UUID, error) {
	s.logger.Debugf("Creating message from user (%s) in conversation (%s)", senderID, p.ConversationID)

	tx, err := s.begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions or any source comment on Rollback
	defer tx.Rollback(context.Background())

	member, err := isMember(ctx, tx, p.ConversationID, senderID)
	if err != nil {
		return uuid.Nil, err
	}
	if !member {
		return uuid.Nil, ErrNotMember
	}

	var id uuid.UUID
	sql := `insert into messages (conversation_id, sender_id, content, message_type, file_url, file_name, file_size, reply_to_id, sent_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, now()) returning id`
	err = tx.QueryRow(ctx, sql, p.ConversationID, senderID, p.Content, p.MessageType, p.FileURL, p.FileName, p.FileSize, p.ReplyToID).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return uuid.Nil, ErrMessageNotExist
		}
		return uuid.Nil, err
	}

	if _, err = tx.Exec(ctx, "update conversations set last_message_at = now() where id = $1", p.ConversationID); err != nil {
		return uuid.Nil, err
	}

	var senderUsername string
	if err = tx.QueryRow(ctx, "select username from users where id = $1", senderID).Scan(&senderUsername); err != nil {
		return uuid.Nil, err
	}

	// group messages are titled with the group name, DMs with the sender
	sql = `insert into notifications (user_id, type, title, content, is_read, related_id, created_at)
		   select m.user_id, 'message',
				  case when c.is_group then coalesce(c.name, 'Group') else $3 end,
				  coalesce($4, 'Sent an attachment'),
				  false, $5, now()
			 from conversation_members m
			 join conversations c on c.id = m.conversation_id
			where m.conversation_id = $1 and m.user_id <> $2`
	_, err = tx.Exec(ctx, sql, p.ConversationID, senderID, senderUsername, p.Content, p.ConversationID.String())
	if err != nil {
		return uuid.Nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}

	return id, nil
}

// MessagesFor returns the newest messages of a conversation in ascending
// chronological order, each joined with sender profile, reactions and the
// replied-to message. Only the newest limit-sized window is visible.
func (s *Store) MessagesFor(ctx context.Context, userID, conversationID uuid.UUID, limit int) ([]MessageView, error) {
	s.logger.Debugf("Retrieving messages for conversation (%s)", conversationID)

	member, err := isMember(ctx, s.db, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotMember
	}

	if limit <= 0 {
		limit = 100
	}

	sql := `select m.id, m.conversation_id, m.sender_id, m.content, m.message_type,
				   m.file_url, m.file_name, m.file_size, m.reply_to_id, m.forwarded_from,
				   m.sent_at, m.edited_at, m.deleted_at,
				   ` + prefixedUserColumns("s") + `,
				   reactions.items,
				   reply.item
			  from messages m
			  join users s on s.id = m.sender_id
			  left join lateral (
				  select array_agg(jsonb_build_object(
							 'id', r.id,
							 'messageId', r.message_id,
							 'userId', r.user_id,
							 'emoji', r.emoji,
							 'createdAt', r.created_at,
							 'user', jsonb_build_object(
								 'id', u.id,
								 'email', u.email,
								 'username', u.username,
								 'fullName', u.full_name,
								 'imageUrl', u.image_url,
								 'bio', u.bio,
								 'status', u.status,
								 'lastSeen', u.last_seen))) as items
					from message_reactions r
					join users u on u.id = r.user_id
				   where r.message_id = m.id
			  ) reactions on true
			  left join lateral (
				  select jsonb_build_object(
							 'id', rm.id,
							 'conversationId', rm.conversation_id,
							 'senderId', rm.sender_id,
							 'content', rm.content,
							 'messageType', rm.message_type,
							 'fileUrl', rm.file_url,
							 'fileName', rm.file_name,
							 'sentAt', rm.sent_at,
							 'editedAt', rm.edited_at,
							 'deletedAt', rm.deleted_at,
							 'sender', jsonb_build_object(
								 'id', ru.id,
								 'email', ru.email,
								 'username', ru.username,
								 'fullName', ru.full_name,
								 'imageUrl', ru.image_url,
								 'bio', ru.bio,
								 'status', ru.status,
								 'lastSeen', ru.last_seen)) as item
					from messages rm
					join users ru on ru.id = rm.sender_id
				   where rm.id = m.reply_to_id
			  ) reply on true
			 where m.conversation_id = $1
			 order by m.sent_at desc
			 limit $2`

	rows, err := s.db.Query(ctx, sql, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []MessageView
	for rows.Next() {
		var (
			v         MessageView
			sender    User
			replyTo   pgtype.UUID
			forwarded pgtype.UUID
			items     pgtype.JSONBArray
			reply     pgtype.JSONB
		)

		err = rows.Scan(&v.ID, &v.ConversationID, &v.SenderID, &v.Content, &v.MessageType,
			&v.FileURL, &v.FileName, &v.FileSize, &replyTo, &forwarded,
			&v.SentAt, &v.EditedAt, &v.DeletedAt,
			&sender.ID, &sender.Subject, &sender.Email, &sender.Username,
			&sender.FullName, &sender.ImageURL, &sender.Bio, &sender.Status, &sender.LastSeen,
			&items, &reply)
		if err != nil {
			return nil, err
		}

		v.ReplyToID = uuidPtr(replyTo)
		v.ForwardedFrom = uuidPtr(forwarded)
		v.Sender = &sender

		if v.Reactions, err = decodeReactions(items); err != nil {
			return nil, err
		}

		if reply.Status == pgtype.Present {
			var target RepliedMessage
			if err = json.Unmarshal(reply.Bytes, &target); err != nil {
				return nil, err
			}
			v.ReplyTo = &target
		}

		views = append(views, v)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	// the query walks the conversation+time index newest first; the caller
	// expects ascending order
	for i, j := 0, len(views)-1; i < j; i, j = i+1, j-1 {
		views[i], views[j] = views[j], views[i]
	}

	s.logger.Debugf("Retrieved %d messages", len(views))

	return views, nil
}

// EditMessage patches content and stamps edited_at. Only the original sender
// may edit; sent_at never changes, preserving ordering. Returns the id of the
// conversation holding the message.
func (s *Store) EditMessage(ctx context.Context, userID, messageID uuid.UUID, content string) (uuid.UUID, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(context.Background())

	conversationID, err := requireSender(ctx, tx, messageID, userID)
	if err != nil {
		return uuid.Nil, err
	}

	sql := "update messages set content = $2, edited_at = now() where id = $1"
	if _, err = tx.Exec(ctx, sql, messageID, content); err != nil {
		return uuid.Nil, err
	}

	return conversationID, tx.Commit(ctx)
}

// DeleteMessage soft-deletes: the row stays so ordering and reply chains
// survive, but content is replaced with the tombstone for good. Returns the
// id of the conversation holding the message.
func (s *Store) DeleteMessage(ctx context.Context, userID, messageID uuid.UUID) (uuid.UUID, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(context.Background())

	conversationID, err := requireSender(ctx, tx, messageID, userID)
	if err != nil {
		return uuid.Nil, err
	}

	sql := "update messages set deleted_at = now(), content = $2 where id = $1"
	if _, err = tx.Exec(ctx, sql, messageID, Tombstone); err != nil {
		return uuid.Nil, err
	}

	return conversationID, tx.Commit(ctx)
}

// ForwardMessage copies a message's content and file fields into the target
// conversation with a fresh sent_at and a forwarded_from stamp. The caller
// must be a member of the target conversation.
func (s *Store) ForwardMessage(ctx context.Context, userID, messageID, targetConversationID uuid.UUID) (uuid.UUID, error) {
	s.logger.Debugf("User (%s) forwarding message (%s) to conversation (%s)", userID, messageID, targetConversationID)

	tx, err := s.begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(context.Background())

	var (
		content     *string
		messageType string
		fileURL     *string
		fileName    *string
		fileSize    *int64
	)
	sql := "select content, message_type, file_url, file_name, file_size from messages where id = $1"
	err = tx.QueryRow(ctx, sql, messageID).Scan(&content, &messageType, &fileURL, &fileName, &fileSize)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrMessageNotExist
		}
		return uuid.Nil, err
	}

	member, err := isMember(ctx, tx, targetConversationID, userID)
	if err != nil {
		return uuid.Nil, err
	}
	if !member {
		return uuid.Nil, ErrNotMember
	}

	var id uuid.UUID
	sql = `insert into messages (conversation_id, sender_id, content, message_type, file_url, file_name, file_size, forwarded_from, sent_at)
		   values ($1, $2, $3, $4, $5, $6, $7, $8, now()) returning id`
	err = tx.QueryRow(ctx, sql, targetConversationID, userID, content, messageType, fileURL, fileName, fileSize, messageID).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}

	if _, err = tx.Exec(ctx, "update conversations set last_message_at = now() where id = $1", targetConversationID); err != nil {
		return uuid.Nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}

	return id, nil
}

// ToggleReaction adds the reaction, or removes it when an identical row
// already exists. Reports whether a reaction exists after the call, and the
// id of the conversation holding the message.
func (s *Store) ToggleReaction(ctx context.Context, userID, messageID uuid.UUID, emoji string) (bool, uuid.UUID, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return false, uuid.Nil, err
	}
	defer tx.Rollback(context.Background())

	var conversationID uuid.UUID
	err = tx.QueryRow(ctx, "select conversation_id from messages where id = $1", messageID).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, uuid.Nil, ErrMessageNotExist
		}
		return false, uuid.Nil, err
	}

	var existing uuid.UUID
	sql := "select id from message_reactions where message_id = $1 and user_id = $2 and emoji = $3 for update"
	err = tx.QueryRow(ctx, sql, messageID, userID, emoji).Scan(&existing)
	switch {
	case err == nil:
		if _, err = tx.Exec(ctx, "delete from message_reactions where id = $1", existing); err != nil {
			return false, uuid.Nil, err
		}
		return false, conversationID, tx.Commit(ctx)
	case errors.Is(err, pgx.ErrNoRows):
		// fall through to insert
	default:
		return false, uuid.Nil, err
	}

	sql = `insert into message_reactions (message_id, user_id, emoji, created_at) values ($1, $2, $3, now())`
	if _, err = tx.Exec(ctx, sql, messageID, userID, emoji); err != nil {
		return false, uuid.Nil, err
	}

	return true, conversationID, tx.Commit(ctx)
}

// MarkRead records a read receipt for the given message unless one with that
// exact message id already exists for the (user, conversation) pair. Receipts
// accumulate; the unread count takes the sent time of the newest receipted
// message as its high-water mark, so marking an old message read never makes
// newer messages count as read.
func (s *Store) MarkRead(ctx context.Context, userID, conversationID, messageID uuid.UUID) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background())

	var exists bool
	sql := `select exists (
				select 1 from message_read_receipts
				 where user_id = $1 and conversation_id = $2 and message_id = $3)`
	if err = tx.QueryRow(ctx, sql, userID, conversationID, messageID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return tx.Commit(ctx)
	}

	sql = `insert into message_read_receipts (message_id, conversation_id, user_id, read_at)
		   values ($1, $2, $3, now())`
	if _, err = tx.Exec(ctx, sql, messageID, conversationID, userID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			switch pgErr.ConstraintName {
			case "message_read_receipts_message_id_fkey":
				return ErrMessageNotExist
			case "message_read_receipts_conversation_id_fkey":
				return ErrConversationNotExist
			default:
				return err
			}
		}
		return err
	}

	return tx.Commit(ctx)
}

// requireSender loads the message row for update and checks ownership,
// returning the conversation the message belongs to
func requireSender(ctx context.Context, tx pgx.Tx, messageID, userID uuid.UUID) (uuid.UUID, error) {
	var (
		senderID       uuid.UUID
		conversationID uuid.UUID
	)
	sql := "select sender_id, conversation_id from messages where id = $1 for update"
	err := tx.QueryRow(ctx, sql, messageID).Scan(&senderID, &conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrMessageNotExist
		}
		return uuid.Nil, err
	}
	if senderID != userID {
		return uuid.Nil, ErrNotMessageSender
	}
	return conversationID, nil
}

// decodeReactions unmarshals the jsonb reaction aggregate; absent aggregates
// come back as an empty, non-nil slice
func decodeReactions(arr pgtype.JSONBArray) ([]Reaction, error) {
	if arr.Status != pgtype.Present {
		return []Reaction{}, nil
	}

	raw := make([]string, len(arr.Elements))
	if err := arr.AssignTo(&raw); err != nil {
		return nil, err
	}

	reactions := make([]Reaction, len(raw))
	for i, v := range raw {
		if err := json.Unmarshal([]byte(v), &reactions[i]); err != nil {
			return nil, err
		}
	}

	return reactions, nil
}
