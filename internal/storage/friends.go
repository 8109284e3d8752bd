package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
)

// CreateFriendRequest inserts a pending request from sender to receiver and
// fans out a friend_request notification. The duplicate, reverse-pending and
// already-friends checks run in the same transaction as the insert.
func (s *Store) CreateFriendRequest(ctx context.Context, senderID, receiverID uuid.UUID) (uuid.UUID, error) {
	s.logger.Debugf("Creating friend request from (%s) to (%s)", senderID, receiverID)

	tx, err := s.begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions or any source comment on Rollback
	defer tx.Rollback(context.Background())

	var senderUsername string
	err = tx.QueryRow(ctx, "select username from users where id = $1", senderID).Scan(&senderUsername)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrUserNotExist
		}
		return uuid.Nil, err
	}

	var exists bool
	sql := `select exists (
				select 1 from friend_requests
				 where sender_id = $1 and receiver_id = $2 and status = 'pending')`
	if err = tx.QueryRow(ctx, sql, senderID, receiverID).Scan(&exists); err != nil {
		return uuid.Nil, err
	}
	if exists {
		return uuid.Nil, ErrRequestExists
	}

	// a crossed pending request forces the receiver to respond instead
	if err = tx.QueryRow(ctx, sql, receiverID, senderID).Scan(&exists); err != nil {
		return uuid.Nil, err
	}
	if exists {
		return uuid.Nil, ErrReversePending
	}

	sql = "select exists (select 1 from friends where user_id1 = $1 and user_id2 = $2)"
	if err = tx.QueryRow(ctx, sql, senderID, receiverID).Scan(&exists); err != nil {
		return uuid.Nil, err
	}
	if exists {
		return uuid.Nil, ErrAlreadyFriends
	}

	var id uuid.UUID
	sql = `insert into friend_requests (sender_id, receiver_id, status, created_at)
		   values ($1, $2, 'pending', now()) returning id`
	err = tx.QueryRow(ctx, sql, senderID, receiverID).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return uuid.Nil, ErrUserNotExist
		}
		return uuid.Nil, err
	}

	err = insertNotification(ctx, tx, notification{
		userID:    receiverID,
		kind:      NotificationFriendRequest,
		title:     "New Friend Request",
		content:   senderUsername + " sent you a friend request",
		relatedID: id.String(),
	})
	if err != nil {
		return uuid.Nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}

	s.logger.Debugf("Created friend request (%s)", id)

	return id, nil
}

// RespondToFriendRequest accepts or rejects a pending request addressed to the
// caller. Accepting inserts both directed friend edges and notifies the
// original sender; rejecting only flips the status. Returns the id of the
// original sender.
func (s *Store) RespondToFriendRequest(ctx context.Context, callerID, requestID uuid.UUID, accept bool) (uuid.UUID, error) {
	s.logger.Debugf("User (%s) responding to friend request (%s), accept=%t", callerID, requestID, accept)

	tx, err := s.begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(context.Background())

	var (
		senderID   uuid.UUID
		receiverID uuid.UUID
		status     string
	)
	sql := "select sender_id, receiver_id, status from friend_requests where id = $1 for update"
	err = tx.QueryRow(ctx, sql, requestID).Scan(&senderID, &receiverID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrRequestNotExist
		}
		return uuid.Nil, err
	}

	if receiverID != callerID {
		return uuid.Nil, ErrNotRequestReceiver
	}
	if status != RequestPending {
		return uuid.Nil, ErrRequestProcessed
	}

	newStatus := RequestRejected
	if accept {
		newStatus = RequestAccepted
	}
	sql = "update friend_requests set status = $2, responded_at = now() where id = $1"
	if _, err = tx.Exec(ctx, sql, requestID, newStatus); err != nil {
		return uuid.Nil, err
	}

	if accept {
		// two directed rows so that "friends of X" is a single indexed scan
		sql = "insert into friends (user_id1, user_id2, created_at) values ($1, $2, now()), ($2, $1, now())"
		if _, err = tx.Exec(ctx, sql, senderID, receiverID); err != nil {
			return uuid.Nil, err
		}

		var receiverUsername string
		if err = tx.QueryRow(ctx, "select username from users where id = $1", receiverID).Scan(&receiverUsername); err != nil {
			return uuid.Nil, err
		}

		err = insertNotification(ctx, tx, notification{
			userID:  senderID,
			kind:    NotificationFriendAccepted,
			title:   "Friend Request Accepted",
			content: receiverUsername + " accepted your friend request",
		})
		if err != nil {
			return uuid.Nil, err
		}
	}

	return senderID, tx.Commit(ctx)
}

// PendingFriendRequests returns pending requests addressed to the user, each
// joined with the sender's profile
func (s *Store) PendingFriendRequests(ctx context.Context, userID uuid.UUID) ([]FriendRequest, error) {
	sql := `select r.id, r.sender_id, r.receiver_id, r.status, r.created_at, r.responded_at,
				   ` + prefixedUserColumns("u") + `
			  from friend_requests r
			  join users u on u.id = r.sender_id
			 where r.receiver_id = $1 and r.status = 'pending'
			 order by r.created_at desc`
	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []FriendRequest
	for rows.Next() {
		var (
			r FriendRequest
			u User
		)
		err = rows.Scan(&r.ID, &r.SenderID, &r.ReceiverID, &r.Status, &r.CreatedAt, &r.RespondedAt,
			&u.ID, &u.Subject, &u.Email, &u.Username, &u.FullName, &u.ImageURL, &u.Bio, &u.Status, &u.LastSeen)
		if err != nil {
			return nil, err
		}
		r.Sender = &u
		requests = append(requests, r)
	}

	return requests, rows.Err()
}

// Friends returns the user's friends as resolved profiles
func (s *Store) Friends(ctx context.Context, userID uuid.UUID) ([]User, error) {
	sql := `select ` + prefixedUserColumns("u") + `
			  from friends f
			  join users u on u.id = f.user_id2
			 where f.user_id1 = $1
			 order by u.username`
	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		friends = append(friends, *u)
	}

	return friends, rows.Err()
}

// RemoveFriend deletes both directed edges. Absent edges are not an error.
func (s *Store) RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error {
	sql := `delete from friends
			 where (user_id1 = $1 and user_id2 = $2)
				or (user_id1 = $2 and user_id2 = $1)`
	_, err := s.db.Exec(ctx, sql, userID, friendID)
	return err
}

// prefixedUserColumns qualifies userColumns with a table alias for joins
func prefixedUserColumns(alias string) string {
	return alias + ".id, " + alias + ".subject, " + alias + ".email, " + alias + ".username, " +
		alias + ".full_name, " + alias + ".image_url, " + alias + ".bio, " + alias + ".status, " + alias + ".last_seen"
}
