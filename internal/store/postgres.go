package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresStore struct {
	conn *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &PostgresStore{conn: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	driver, err := postgres.WithInstance(s.conn, &postgres.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func (s *PostgresStore) Ping() error {
	return s.conn.Ping()
}

func (s *PostgresStore) RecordMessage(msg Message) error {
	_, err := s.conn.Exec(`
		INSERT INTO messages (id, room_id, user_id, username, content, message_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.Id, msg.RoomId, msg.UserId, msg.Username, msg.Content, msg.MessageType, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

func (s *PostgresStore) RecordEdit(op Operation) error {
	_, err := s.conn.Exec(`
		INSERT INTO operations (id, room_id, user_id, file, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		op.Id, op.RoomId, op.UserId, op.File, op.Payload, op.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}

	return nil
}

func (s *PostgresStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
