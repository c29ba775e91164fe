package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	dbconfig "chatrelay/pkg/database"
	"chatrelay/pkg/types"
)

// PostgresStore is the PostgreSQL message store.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   *sql.DB // database/sql view of the pool, for migrations
	log  zerolog.Logger
}

// NewPostgresStore connects a pool and verifies it with a ping.
func NewPostgresStore(ctx context.Context, config *dbconfig.Config, log zerolog.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolConfig.MaxConns = int32(config.MaxConnections)
	poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &PostgresStore{
		pool: pool,
		db:   stdlib.OpenDBFromPool(pool),
		log:  log.With().Str("component", "postgres_store").Logger(),
	}, nil
}

// CreateMessage inserts a new unread message.
func (s *PostgresStore) CreateMessage(ctx context.Context, senderID, receiverID types.UserID, content string) (*types.Message, error) {
	msg := &types.Message{SenderID: senderID, ReceiverID: receiverID, Content: content}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (sender_id, receiver_id, content, created_at, is_read)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING id, created_at
	`, int64(senderID), int64(receiverID), content, time.Now().UTC()).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

// ListBetween returns the conversation of two users ordered by creation time, then id.
func (s *PostgresStore) ListBetween(ctx context.Context, userA, userB types.UserID) ([]*types.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sender_id, receiver_id, content, created_at, is_read, read_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, id ASC
	`, int64(userA), int64(userB))
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []*types.Message{}
	for rows.Next() {
		var (
			msg                  types.Message
			senderID, receiverID int64
			readAt               *time.Time
		)
		if err := rows.Scan(&msg.ID, &senderID, &receiverID, &msg.Content, &msg.CreatedAt, &msg.IsRead, &readAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.SenderID = types.UserID(senderID)
		msg.ReceiverID = types.UserID(receiverID)
		msg.CreatedAt = msg.CreatedAt.UTC()
		if readAt != nil {
			t := readAt.UTC()
			msg.ReadAt = &t
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// MarkRead marks unread messages among ids as read at readAt.
func (s *PostgresStore) MarkRead(ctx context.Context, ids []int64, readAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE, read_at = $1
		WHERE is_read = FALSE AND id = ANY($2)
	`, readAt.UTC(), ids)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountUnread counts unread messages sent by fromUserID to userID.
func (s *PostgresStore) CountUnread(ctx context.Context, userID, fromUserID types.UserID) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND sender_id = $2 AND is_read = FALSE
	`, int64(userID), int64(fromUserID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

// HealthCheck pings the pool.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// GetDB returns a database/sql handle backed by the pool.
func (s *PostgresStore) GetDB() *sql.DB {
	return s.db
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	_ = s.db.Close()
	s.pool.Close()
	return nil
}
