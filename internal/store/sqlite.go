package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chat-relay/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Open opens the SQLite database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func dsn(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
}

// CreateUser inserts user and returns it with its assigned id. The server
// binary exposes it through -add-user for seeding.
func (s *SQLiteStore) CreateUser(ctx context.Context, user models.User) (*models.User, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, first_name, last_name, email, avatar) VALUES (?, ?, ?, ?, ?)",
		user.Username, user.FirstName, user.LastName, user.Email, user.Avatar)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("LastInsertId: %w", err)
	}
	user.ID = id
	return &user, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, username, first_name, last_name, email, avatar FROM users WHERE id = ? LIMIT 1", id)

	user := new(models.User)
	err := row.Scan(&user.ID, &user.Username, &user.FirstName, &user.LastName, &user.Email, &user.Avatar)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return user, nil
}

// CreateConversation inserts a conversation. Its id is the room id clients
// connect to.
func (s *SQLiteStore) CreateConversation(ctx context.Context, name string) (*models.Conversation, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (name, created_at) VALUES (?, ?)", name, now)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("LastInsertId: %w", err)
	}
	return &models.Conversation{ID: id, Name: name, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, roomID string) (*models.Conversation, error) {
	id, err := strconv.ParseInt(roomID, 10, 64)
	if err != nil {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM conversations WHERE id = ? LIMIT 1", id)

	conversation := new(models.Conversation)
	if err := row.Scan(&conversation.ID, &conversation.Name, &conversation.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	return conversation, nil
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, conversation *models.Conversation, sender *models.User, content string) (*models.Message, error) {
	if conversation == nil || sender == nil || content == "" {
		return nil, ErrInvalidMessage
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, sender_id, content, created_at) VALUES (?, ?, ?, ?)",
		conversation.ID, sender.ID, content, now)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("LastInsertId: %w", err)
	}

	return &models.Message{
		ID:             id,
		ConversationID: conversation.ID,
		SenderID:       sender.ID,
		Content:        content,
		CreatedAt:      now,
	}, nil
}
