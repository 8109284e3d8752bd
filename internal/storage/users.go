package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
)

const userColumns = "id, subject, email, username, full_name, image_url, bio, status, last_seen"

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Subject, &u.Email, &u.Username, &u.FullName, &u.ImageURL, &u.Bio, &u.Status, &u.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotExist
		}
		return nil, err
	}
	return &u, nil
}

// UpsertUser creates the user on first sight of an external subject and
// refreshes profile fields on every later call. Either way the user comes out
// online with last_seen set to now, and the call is idempotent per subject.
func (s *Store) UpsertUser(ctx context.Context, subject, email, username string, fullName, imageURL *string) (uuid.UUID, error) {
	s.logger.Debugf("Upserting user for subject (%s)", subject)

	var id uuid.UUID
	sql := `insert into users (subject, email, username, full_name, image_url, status, last_seen)
			values ($1, $2, $3, $4, $5, 'online', now())
			on conflict (subject) do update
			   set email = excluded.email,
				   username = excluded.username,
				   full_name = excluded.full_name,
				   image_url = excluded.image_url,
				   status = 'online',
				   last_seen = now()
			returning id`
	err := s.db.QueryRow(ctx, sql, subject, email, username, fullName, imageURL).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}

	return id, nil
}

// UserBySubject resolves an external authenticated subject to the user record
func (s *Store) UserBySubject(ctx context.Context, subject string) (*User, error) {
	sql := "select " + userColumns + " from users where subject = $1"
	return scanUser(s.db.QueryRow(ctx, sql, subject))
}

// UserByID returns the user with the provided id
func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	sql := "select " + userColumns + " from users where id = $1"
	return scanUser(s.db.QueryRow(ctx, sql, id))
}

// UpdateStatus sets presence status and bumps last_seen
func (s *Store) UpdateStatus(ctx context.Context, userID uuid.UUID, status string) error {
	tag, err := s.db.Exec(ctx, "update users set status = $2, last_seen = now() where id = $1", userID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExist
	}
	return nil
}

// UpdateProfile patches only the provided profile fields
func (s *Store) UpdateProfile(ctx context.Context, userID uuid.UUID, fullName, bio, imageURL *string) error {
	sql := `update users
			   set full_name = coalesce($2, full_name),
				   bio = coalesce($3, bio),
				   image_url = coalesce($4, image_url)
			 where id = $1`
	tag, err := s.db.Exec(ctx, sql, userID, fullName, bio, imageURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExist
	}
	return nil
}

// SearchUsers matches the term against username, email and full name,
// excluding the caller. Results are capped at 20.
func (s *Store) SearchUsers(ctx context.Context, callerID uuid.UUID, term string) ([]User, error) {
	s.logger.Debugf("Searching users for term (%s)", term)

	sql := `select ` + userColumns + `
			  from users
			 where id <> $1
			   and (username ilike '%' || $2 || '%'
					or email ilike '%' || $2 || '%'
					or full_name ilike '%' || $2 || '%')
			 order by username
			 limit 20`
	rows, err := s.db.Query(ctx, sql, callerID, term)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}

	return users, rows.Err()
}
