package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
)

type memberRow struct {
	conversationID uuid.UUID
	userID         uuid.UUID
	joinedAt       time.Time
	role           string
}

type memberBulk struct {
	rows []memberRow
	idx  int
}

func (mr memberRow) toInterface() []interface{} {
	return []interface{}{mr.conversationID, mr.userID, mr.joinedAt, mr.role}
}

func copyFromMembers(rows []memberRow) pgx.CopyFromSource {
	return &memberBulk{
		rows: rows,
		idx:  -1,
	}
}

func (mb *memberBulk) Next() bool {
	mb.idx++
	return mb.idx < len(mb.rows)
}

func (mb *memberBulk) Values() ([]interface{}, error) {
	return mb.rows[mb.idx].toInterface(), nil
}

func (mb *memberBulk) Err() error {
	return nil
}
