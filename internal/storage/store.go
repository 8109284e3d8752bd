package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"ripple-messenger/internal/storage/zapadapter"
)

var (
	ErrUserNotExist = errors.New("user does not exist")

	ErrRequestExists      = errors.New("friend request already sent")
	ErrReversePending     = errors.New("this user has already sent you a friend request")
	ErrAlreadyFriends     = errors.New("already friends")
	ErrRequestNotExist    = errors.New("friend request does not exist")
	ErrNotRequestReceiver = errors.New("only the receiver may respond to a friend request")
	ErrRequestProcessed   = errors.New("friend request already processed")

	ErrConversationNotExist = errors.New("conversation does not exist")
	ErrNotGroup             = errors.New("conversation is not a group")
	ErrNotAdmin             = errors.New("only admins can add members")
	ErrNotMember            = errors.New("not a member of this conversation")

	ErrMessageNotExist  = errors.New("message does not exist")
	ErrNotMessageSender = errors.New("only the sender may modify a message")
)

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// NewStore sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func NewStore(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Close closes the underlying connection pool
func (s *Store) Close() {
	s.db.Close()
}

// begin starts a serializable transaction. Every check-then-write sequence in
// this package (DM dedup, reaction toggle, receipt insert, request lifecycle)
// relies on running inside one such transaction.
func (s *Store) begin(ctx context.Context) (pgx.Tx, error) {
	return s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
}

// uuidPtr converts a nullable uuid column value scanned into pgtype.UUID
func uuidPtr(v pgtype.UUID) *uuid.UUID {
	if v.Status != pgtype.Present {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}

// uuidStrings renders ids for encoding as a Postgres uuid[] parameter
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
