// Package sqlite is the default persistence backend, built on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"hkbot/internal/domain"
	"hkbot/internal/store/stamp"
)

// Store implements domain.Store using SQLite.
type Store struct {
	db     *sql.DB
	clock  *stamp.Clock
	logger *slog.Logger
}

type Config struct {
	Path   string
	Now    func() time.Time // optional, tests
	Logger *slog.Logger
}

// Open creates the database file if needed and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	dsn := cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serialises writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(ctx, db, cfg.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &Store{db: db, clock: stamp.New(cfg.Now), logger: cfg.Logger}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for maintenance commands.
func (s *Store) DB() *sql.DB { return s.db }

// --- chats ---

func (s *Store) FindChat(ctx context.Context, businessID, userID string) (*domain.Chat, error) {
	var (
		c       domain.Chat
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, business_id, user_id, created_at FROM chats WHERE business_id = ? AND user_id = ?`,
		businessID, userID,
	).Scan(&c.ID, &c.BusinessID, &c.UserID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find chat: %w", err)
	}
	c.CreatedAt = fromMicros(created)
	return &c, nil
}

func (s *Store) CreateChat(ctx context.Context, chat domain.Chat) (*domain.Chat, error) {
	if chat.ID == "" {
		chat.ID = uuid.Must(uuid.NewV7()).String()
	}
	chat.CreatedAt = s.clock.Next()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, business_id, user_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(business_id, user_id) DO NOTHING`,
		chat.ID, chat.BusinessID, chat.UserID, chat.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	if n == 0 {
		return nil, domain.ErrChatExists
	}
	return &chat, nil
}

// --- messages ---

func (s *Store) AddMessage(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	msg.CreatedAt = s.clock.Next()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, text, image_url, image_description, is_user, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ChatID, nullArg(msg.Text), nullArg(msg.ImageURL), nullArg(msg.ImageDescription), msg.IsUser, msg.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	return &msg, nil
}

const messageColumns = `id, chat_id, text, image_url, image_description, is_user, created_at`

func (s *Store) RecentMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		chatID, limit,
	)
}

func (s *Store) RecentImages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE chat_id = ? AND is_user = 1 AND image_url IS NOT NULL
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		chatID, limit,
	)
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var (
			m               domain.Message
			text, url, desc sql.NullString
			created         int64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &text, &url, &desc, &m.IsUser, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Text = nullable(text)
		m.ImageURL = nullable(url)
		m.ImageDescription = nullable(desc)
		m.CreatedAt = fromMicros(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- tickets ---

func (s *Store) CreateTicket(ctx context.Context, t domain.Ticket) (*domain.Ticket, error) {
	if t.ID == "" {
		t.ID = uuid.Must(uuid.NewV7()).String()
	}
	t.IsOpen = true
	t.CreatedAt = s.clock.Next()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, description, opened_by_phone_number, latest, is_open, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Description, t.OpenedByPhoneNumber, t.Latest, t.IsOpen, t.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	return &t, nil
}

const ticketColumns = `id, description, opened_by_phone_number, latest, is_open, created_at`

func (s *Store) OpenTickets(ctx context.Context) ([]domain.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE is_open = 1 ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	tickets := []domain.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

func (s *Store) UpdateTicket(ctx context.Context, id string, patch domain.TicketPatch) (*domain.Ticket, error) {
	if patch.Empty() {
		return nil, domain.ErrNoFieldsToUpdate
	}

	var (
		sets []string
		args []any
	)
	if patch.Description != nil {
		sets, args = append(sets, "description = ?"), append(args, *patch.Description)
	}
	if patch.OpenedByPhoneNumber != nil {
		sets, args = append(sets, "opened_by_phone_number = ?"), append(args, *patch.OpenedByPhoneNumber)
	}
	if patch.Latest != nil {
		sets, args = append(sets, "latest = ?"), append(args, *patch.Latest)
	}
	if patch.IsOpen != nil {
		sets, args = append(sets, "is_open = ?"), append(args, *patch.IsOpen)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	} else if n == 0 {
		return nil, domain.ErrTicketNotFound
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	return scanTicket(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(row scanner) (*domain.Ticket, error) {
	var (
		t       domain.Ticket
		created int64
	)
	err := row.Scan(&t.ID, &t.Description, &t.OpenedByPhoneNumber, &t.Latest, &t.IsOpen, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	t.CreatedAt = fromMicros(created)
	return &t, nil
}

// --- delivery log ---

func (s *Store) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_messages (message_id, processed_at) VALUES (?, ?)
		 ON CONFLICT(message_id) DO NOTHING`,
		messageID, time.Now().UnixMicro(),
	)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return n == 1, nil
}

func nullArg(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
