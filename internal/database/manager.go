package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "chatrelay/pkg/database"
	"chatrelay/pkg/types"
)

// Manager is the SQLite message store. Writes go through one goroutine; reads use the pool.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	log          zerolog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the SQLite database, applies pragmas and starts the writer.
func NewManager(config *dbconfig.Config, log zerolog.Logger) (*Manager, error) {
	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.SQLiteDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		log:          log.With().Str("component", "sqlite_store").Logger(),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.log.Warn().Err(err).Msg("database write failed")
			}
			op.result <- err

		case <-m.shutdown:
			m.log.Info().Msg("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write and waits for it, bounded by ctx and the configured timeout.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return fmt.Errorf("queue write: %w", ctx.Err())
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("await write: %w", ctx.Err())
	}
}

// CreateMessage inserts a new unread message.
func (m *Manager) CreateMessage(ctx context.Context, senderID, receiverID types.UserID, content string) (*types.Message, error) {
	msg := &types.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO messages (sender_id, receiver_id, content, created_at, is_read) VALUES (?, ?, ?, ?, 0)`,
			int64(senderID), int64(receiverID), content, msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		msg.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListBetween returns the conversation of two users ordered by creation time, then id.
func (m *Manager) ListBetween(ctx context.Context, userA, userB types.UserID) ([]*types.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, content, created_at, is_read, read_at
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := m.db.QueryContext(ctx, query, int64(userA), int64(userB), int64(userB), int64(userA))
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []*types.Message{}
	for rows.Next() {
		var msg types.Message
		var readAt sql.NullTime
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.CreatedAt, &msg.IsRead, &readAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if readAt.Valid {
			t := readAt.Time
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
func (m *Manager) MarkRead(ctx context.Context, ids []int64, readAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, readAt.UTC())
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(
		`UPDATE messages SET is_read = 1, read_at = ? WHERE is_read = 0 AND id IN (%s)`,
		strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","),
	)

	var affected int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to mark messages read: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// CountUnread counts unread messages sent by fromUserID to userID.
func (m *Manager) CountUnread(ctx context.Context, userID, fromUserID types.UserID) (int64, error) {
	var n int64
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND sender_id = ? AND is_read = 0`,
		int64(userID), int64(fromUserID),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

// HealthCheck validates connectivity and that the messages table is readable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages LIMIT 1").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying handle for migrations.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the database. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
