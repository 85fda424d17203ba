// Package postgres is the PostgreSQL persistence backend, built on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hkbot/internal/domain"
	"hkbot/internal/store/stamp"
)

// Store implements domain.Store on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	clock  *stamp.Clock
	logger *slog.Logger
}

type Config struct {
	DSN         string
	AutoMigrate bool
	Now         func() time.Time // optional, tests
	Logger      *slog.Logger
}

// Open connects to the database and, when AutoMigrate is set, applies the
// embedded migrations first.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.AutoMigrate {
		mg, err := NewMigrator(cfg.DSN)
		if err != nil {
			return nil, err
		}
		err = mg.Up()
		if cerr := mg.Close(); cerr != nil {
			cfg.Logger.Warn("close migrator", "err", cerr)
		}
		if err != nil {
			return nil, err
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{pool: pool, clock: stamp.New(cfg.Now), logger: cfg.Logger}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// --- chats ---

func (s *Store) FindChat(ctx context.Context, businessID, userID string) (*domain.Chat, error) {
	var c domain.Chat
	err := s.pool.QueryRow(ctx,
		`SELECT id, business_id, user_id, created_at FROM chats WHERE business_id = $1 AND user_id = $2`,
		businessID, userID,
	).Scan(&c.ID, &c.BusinessID, &c.UserID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find chat: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateChat(ctx context.Context, chat domain.Chat) (*domain.Chat, error) {
	if chat.ID == "" {
		chat.ID = uuid.Must(uuid.NewV7()).String()
	}
	chat.CreatedAt = s.clock.Next()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO chats (id, business_id, user_id, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (business_id, user_id) DO NOTHING`,
		chat.ID, chat.BusinessID, chat.UserID, chat.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
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

	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (chat_id, text, image_url, image_description, is_user, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		msg.ChatID, msg.Text, msg.ImageURL, msg.ImageDescription, msg.IsUser, msg.CreatedAt,
	).Scan(&msg.ID)
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	return &msg, nil
}

const messageColumns = `id, chat_id, text, image_url, image_description, is_user, created_at`

func (s *Store) RecentMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		chatID, limit,
	)
}

func (s *Store) RecentImages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE chat_id = $1 AND is_user AND image_url IS NOT NULL
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		chatID, limit,
	)
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Text, &m.ImageURL, &m.ImageDescription, &m.IsUser, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tickets (id, description, opened_by_phone_number, latest, is_open, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Description, t.OpenedByPhoneNumber, t.Latest, t.IsOpen, t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	return &t, nil
}

const ticketColumns = `id, description, opened_by_phone_number, latest, is_open, created_at`

func (s *Store) OpenTickets(ctx context.Context) ([]domain.Ticket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE is_open ORDER BY created_at DESC, id DESC`)
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

// UpdateTicket applies the patch and returns the row as stored, in one round trip.
func (s *Store) UpdateTicket(ctx context.Context, id string, patch domain.TicketPatch) (*domain.Ticket, error) {
	if patch.Empty() {
		return nil, domain.ErrNoFieldsToUpdate
	}

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	if patch.Description != nil {
		set("description", *patch.Description)
	}
	if patch.OpenedByPhoneNumber != nil {
		set("opened_by_phone_number", *patch.OpenedByPhoneNumber)
	}
	if patch.Latest != nil {
		set("latest", *patch.Latest)
	}
	if patch.IsOpen != nil {
		set("is_open", *patch.IsOpen)
	}
	args = append(args, id)

	row := s.pool.QueryRow(ctx,
		`UPDATE tickets SET `+strings.Join(sets, ", ")+` WHERE id = $`+strconv.Itoa(len(args))+
			` RETURNING `+ticketColumns,
		args...,
	)
	return scanTicket(row)
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var t domain.Ticket
	err := row.Scan(&t.ID, &t.Description, &t.OpenedByPhoneNumber, &t.Latest, &t.IsOpen, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

// --- delivery log ---

func (s *Store) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO processed_messages (message_id) VALUES ($1) ON CONFLICT (message_id) DO NOTHING`,
		messageID,
	)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
