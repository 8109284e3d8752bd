package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

// memberProfiles is the jsonb_build_object shape unmarshaled into User.
// Keys follow the User json tags.
const memberProfilesLateral = `
	join lateral (
		select array_agg(jsonb_build_object(
				   'id', u.id,
				   'email', u.email,
				   'username', u.username,
				   'fullName', u.full_name,
				   'imageUrl', u.image_url,
				   'bio', u.bio,
				   'status', u.status,
				   'lastSeen', u.last_seen)) as profiles
		  from conversation_members m
		  join users u on u.id = m.user_id
		 where m.conversation_id = c.id
	) members on true`

// CreateConversation creates a group or DM conversation with the creator plus
// the requested members. For a single-target DM an existing two-member
// non-group conversation with the same other party is returned instead of
// creating a duplicate; the dedup check and the inserts share one transaction.
func (s *Store) CreateConversation(ctx context.Context, creatorID uuid.UUID, isGroup bool, name, groupImage *string, memberIDs []uuid.UUID) (uuid.UUID, error) {
	s.logger.Debugf("Creating conversation for user (%s), group=%t, members (%v)", creatorID, isGroup, memberIDs)

	tx, err := s.begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions or any source comment on Rollback
	defer tx.Rollback(context.Background())

	if !isGroup && len(memberIDs) == 1 {
		var existing uuid.UUID
		sql := `select c.id
				  from conversations c
				  join conversation_members mine on mine.conversation_id = c.id and mine.user_id = $1
				  join conversation_members other on other.conversation_id = c.id and other.user_id = $2
				 where not c.is_group
				   and (select count(*) from conversation_members m where m.conversation_id = c.id) = 2
				 limit 1`
		err = tx.QueryRow(ctx, sql, creatorID, memberIDs[0]).Scan(&existing)
		if err == nil {
			return existing, tx.Commit(ctx)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, err
		}
	}

	var adminIDs interface{}
	creatorRole := RoleMember
	if isGroup {
		arr := pgtype.UUIDArray{}
		if err = arr.Set(uuidStrings([]uuid.UUID{creatorID})); err != nil {
			return uuid.Nil, err
		}
		adminIDs = &arr
		creatorRole = RoleAdmin
	}

	var id uuid.UUID
	sql := `insert into conversations (is_group, name, group_image, admin_ids, created_by, created_at)
			values ($1, $2, $3, $4, $5, now()) returning id`
	err = tx.QueryRow(ctx, sql, isGroup, name, groupImage, adminIDs, creatorID).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return uuid.Nil, ErrUserNotExist
		}
		return uuid.Nil, err
	}

	now := time.Now()
	rows := []memberRow{{conversationID: id, userID: creatorID, joinedAt: now, role: creatorRole}}
	for _, memberID := range memberIDs {
		if memberID == creatorID {
			continue
		}
		rows = append(rows, memberRow{conversationID: id, userID: memberID, joinedAt: now, role: RoleMember})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"conversation_members"},
		[]string{"conversation_id", "user_id", "joined_at", "role"},
		copyFromMembers(rows))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return uuid.Nil, ErrUserNotExist
		}
		return uuid.Nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}

	s.logger.Debugf("Created conversation (%s)", id)

	return id, nil
}

// ConversationsFor returns every conversation the user belongs to, each joined
// with member profiles, the latest message and the user's unread count, sorted
// by most recent activity. The unread high-water mark is the sent time of the
// newest message the user has a read receipt for; with no receipt every
// foreign message counts.
func (s *Store) ConversationsFor(ctx context.Context, userID uuid.UUID) ([]ConversationView, error) {
	s.logger.Debugf("Retrieving conversations for user (%s)", userID)

	sql := `select c.id, c.is_group, c.name, c.group_image, c.admin_ids, c.created_by, c.created_at, c.last_message_at,
				   members.profiles,
				   lm.id, lm.sender_id, lm.content, lm.message_type, lm.file_url, lm.sent_at, lm.edited_at, lm.deleted_at,
				   unread.count
			  from conversation_members mine
			  join conversations c on c.id = mine.conversation_id` +
		memberProfilesLateral + `
			  left join lateral (
				  select id, sender_id, content, message_type, file_url, sent_at, edited_at, deleted_at
					from messages
				   where conversation_id = c.id
				   order by sent_at desc
				   limit 1
			  ) lm on true
			  left join lateral (
				  select count(*) as count
					from messages msg
				   where msg.conversation_id = c.id
					 and msg.sender_id <> $1
					 and msg.sent_at > coalesce((
						 select max(rm.sent_at)
						   from message_read_receipts r
						   join messages rm on rm.id = r.message_id
						  where r.user_id = $1 and r.conversation_id = c.id), '-infinity'::timestamptz)
			  ) unread on true
			 where mine.user_id = $1
			 order by coalesce(lm.sent_at, c.created_at) desc`

	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []ConversationView
	for rows.Next() {
		var (
			v        ConversationView
			admins   pgtype.UUIDArray
			profiles pgtype.JSONBArray

			lmID       pgtype.UUID
			lmSenderID pgtype.UUID
			lmContent  *string
			lmType     *string
			lmFileURL  *string
			lmSentAt   *time.Time
			lmEditedAt *time.Time
			lmDeleted  *time.Time
		)

		err = rows.Scan(&v.ID, &v.IsGroup, &v.Name, &v.GroupImage, &admins, &v.CreatedBy, &v.CreatedAt, &v.LastMessageAt,
			&profiles,
			&lmID, &lmSenderID, &lmContent, &lmType, &lmFileURL, &lmSentAt, &lmEditedAt, &lmDeleted,
			&v.UnreadCount)
		if err != nil {
			return nil, err
		}

		if v.AdminIDs, err = uuidSlice(admins); err != nil {
			return nil, err
		}
		if v.Members, err = decodeProfiles(profiles); err != nil {
			return nil, err
		}

		if last := uuidPtr(lmID); last != nil {
			v.LastMessage = &Message{
				ID:             *last,
				ConversationID: v.ID,
				SenderID:       *uuidPtr(lmSenderID),
				Content:        lmContent,
				MessageType:    *lmType,
				FileURL:        lmFileURL,
				SentAt:         *lmSentAt,
				EditedAt:       lmEditedAt,
				DeletedAt:      lmDeleted,
			}
		}

		applyDisplayFields(&v, userID)
		views = append(views, v)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d conversations", len(views))

	return views, nil
}

// ConversationByID returns the conversation with member profiles. Membership
// is the sole read-authorization check.
func (s *Store) ConversationByID(ctx context.Context, userID, conversationID uuid.UUID) (*ConversationView, error) {
	var isMember bool
	sql := "select exists (select 1 from conversation_members where conversation_id = $1 and user_id = $2)"
	if err := s.db.QueryRow(ctx, sql, conversationID, userID).Scan(&isMember); err != nil {
		return nil, err
	}
	if !isMember {
		return nil, ErrNotMember
	}

	sql = `select c.id, c.is_group, c.name, c.group_image, c.admin_ids, c.created_by, c.created_at, c.last_message_at,
				  members.profiles
			 from conversations c` +
		memberProfilesLateral + `
			where c.id = $1`

	var (
		v        ConversationView
		admins   pgtype.UUIDArray
		profiles pgtype.JSONBArray
	)
	err := s.db.QueryRow(ctx, sql, conversationID).
		Scan(&v.ID, &v.IsGroup, &v.Name, &v.GroupImage, &admins, &v.CreatedBy, &v.CreatedAt, &v.LastMessageAt, &profiles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotExist
		}
		return nil, err
	}

	if v.AdminIDs, err = uuidSlice(admins); err != nil {
		return nil, err
	}
	if v.Members, err = decodeProfiles(profiles); err != nil {
		return nil, err
	}
	applyDisplayFields(&v, userID)

	return &v, nil
}

// AddMembers inserts membership rows for the given users into a group
// conversation. The caller must be listed in admin_ids. Users that are
// already members are skipped.
func (s *Store) AddMembers(ctx context.Context, callerID, conversationID uuid.UUID, memberIDs []uuid.UUID) error {
	s.logger.Debugf("User (%s) adding members (%v) to conversation (%s)", callerID, memberIDs, conversationID)

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background())

	var (
		isGroup bool
		admins  pgtype.UUIDArray
	)
	sql := "select is_group, admin_ids from conversations where id = $1 for update"
	err = tx.QueryRow(ctx, sql, conversationID).Scan(&isGroup, &admins)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConversationNotExist
		}
		return err
	}

	if !isGroup {
		return ErrNotGroup
	}

	adminIDs, err := uuidSlice(admins)
	if err != nil {
		return err
	}
	isAdmin := false
	for _, id := range adminIDs {
		if id == callerID {
			isAdmin = true
			break
		}
	}
	if !isAdmin {
		return ErrNotAdmin
	}

	targets := pgtype.UUIDArray{}
	if err = targets.Set(uuidStrings(memberIDs)); err != nil {
		return err
	}

	sql = `insert into conversation_members (conversation_id, user_id, joined_at, role)
		   select $1, ids.id, now(), 'member' from unnest($2::uuid[]) as ids(id)
		   on conflict do nothing`
	_, err = tx.Exec(ctx, sql, conversationID, &targets)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrUserNotExist
		}
		return err
	}

	return tx.Commit(ctx)
}

// LeaveConversation removes the user's own membership row. Leaving a
// conversation the user is not in is a no-op, and the conversation itself is
// never deleted even when its last member leaves.
func (s *Store) LeaveConversation(ctx context.Context, userID, conversationID uuid.UUID) error {
	sql := "delete from conversation_members where conversation_id = $1 and user_id = $2"
	_, err := s.db.Exec(ctx, sql, conversationID, userID)
	return err
}

// applyDisplayFields overrides the display name and image of a DM with the
// other party's profile; groups keep their own name and image
func applyDisplayFields(v *ConversationView, userID uuid.UUID) {
	if v.IsGroup {
		if v.Name != nil {
			v.DisplayName = *v.Name
		}
		v.DisplayImage = v.GroupImage
		return
	}

	v.DisplayName = "Unknown"
	for i := range v.Members {
		if v.Members[i].ID == userID {
			continue
		}
		other := &v.Members[i]
		switch {
		case other.Username != "":
			v.DisplayName = other.Username
		case other.FullName != nil:
			v.DisplayName = *other.FullName
		}
		v.DisplayImage = other.ImageURL
		return
	}
}

// decodeProfiles unmarshals a jsonb user-profile aggregate into User structs
func decodeProfiles(arr pgtype.JSONBArray) ([]User, error) {
	if arr.Status != pgtype.Present {
		return nil, nil
	}

	raw := make([]string, len(arr.Elements))
	if err := arr.AssignTo(&raw); err != nil {
		return nil, err
	}

	users := make([]User, len(raw))
	for i, v := range raw {
		if err := json.Unmarshal([]byte(v), &users[i]); err != nil {
			return nil, err
		}
	}

	return users, nil
}

// uuidSlice converts a scanned uuid[] column into ids; a null array is empty
func uuidSlice(arr pgtype.UUIDArray) ([]uuid.UUID, error) {
	if arr.Status != pgtype.Present {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(arr.Elements))
	for i, el := range arr.Elements {
		if el.Status != pgtype.Present {
			continue
		}
		ids[i] = uuid.UUID(el.Bytes)
	}

	return ids, nil
}
