// Package postgres is the roster store: rooms and their enrolled members.
// It is the authority on who is enrolled; callers never mutate any cached
// roster ahead of a confirmed write here.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/puzzleboard/internal/config"
	"github.com/puzzleboard/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id CHAR(8) PRIMARY KEY,
			board_id BIGINT NOT NULL,
			session_token TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS enrollments (
			id BIGSERIAL PRIMARY KEY,
			room_id CHAR(8) NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			member_id BIGINT NOT NULL,
			member_name VARCHAR(255) NOT NULL,
			enrolled_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(room_id, member_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_enrollments_room ON enrollments(room_id)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// CreateRoom inserts a new room. An id collision maps to ErrRoomExists so the
// caller can retry with a fresh id.
func (r *Repository) CreateRoom(ctx context.Context, room *domain.Room) error {
	query := `
		INSERT INTO rooms (id, board_id, session_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, query, room.ID, room.BoardID, room.SessionToken, now)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return domain.ErrRoomExists
		}
		return fmt.Errorf("creating room: %w", err)
	}
	room.CreatedAt = now
	room.UpdatedAt = now
	return nil
}

// GetRoom retrieves a room by id
func (r *Repository) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	query := `
		SELECT id, board_id, session_token, created_at, updated_at
		FROM rooms
		WHERE id = $1
	`
	var room domain.Room
	err := r.pool.QueryRow(ctx, query, roomID).Scan(
		&room.ID,
		&room.BoardID,
		&room.SessionToken,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("getting room: %w", err)
	}
	return &room, nil
}

// ListRooms retrieves all rooms
func (r *Repository) ListRooms(ctx context.Context) ([]domain.Room, error) {
	query := `
		SELECT id, board_id, session_token, created_at, updated_at
		FROM rooms
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		var room domain.Room
		err := rows.Scan(
			&room.ID,
			&room.BoardID,
			&room.SessionToken,
			&room.CreatedAt,
			&room.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// Enroll adds a member to a room's standings. Enrolling a member twice maps
// to ErrAlreadyEnrolled; a missing room maps to ErrRoomNotFound.
func (r *Repository) Enroll(ctx context.Context, roomID string, memberID int64, memberName string) (*domain.Enrollment, error) {
	query := `
		INSERT INTO enrollments (room_id, member_id, member_name, enrolled_at)
		VALUES ($1, $2, $3, $4)
	`
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, query, roomID, memberID, memberName, now)
	if err != nil {
		switch {
		case isPgError(err, pgUniqueViolation):
			return nil, domain.ErrAlreadyEnrolled
		case isPgError(err, pgForeignKeyViolation):
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("enrolling member: %w", err)
	}

	return &domain.Enrollment{
		Member:     domain.Member{ID: memberID, Name: memberName},
		EnrolledAt: now,
	}, nil
}

// Unenroll removes a member from a room's standings
func (r *Repository) Unenroll(ctx context.Context, roomID string, memberID int64) error {
	query := `DELETE FROM enrollments WHERE room_id = $1 AND member_id = $2`
	result, err := r.pool.Exec(ctx, query, roomID, memberID)
	if err != nil {
		return fmt.Errorf("unenrolling member: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotEnrolled
	}
	return nil
}

// ListEnrollments retrieves a room's enrolled members in enrollment order
func (r *Repository) ListEnrollments(ctx context.Context, roomID string) ([]domain.Enrollment, error) {
	query := `
		SELECT member_id, member_name, enrolled_at
		FROM enrollments
		WHERE room_id = $1
		ORDER BY enrolled_at, member_id
	`
	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []domain.Enrollment
	for rows.Next() {
		var e domain.Enrollment
		if err := rows.Scan(&e.ID, &e.Name, &e.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scanning enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
