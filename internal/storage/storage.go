// Package storage implements the relational store over PostgreSQL. It is
// the single source of truth; the geo index and caches are derived views.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/taskbid/taskbid-backend/internal/domain"
	"github.com/taskbid/taskbid-backend/shared/postgresql"
)

// Storage handles all database operations for the marketplace core.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// UserExists reports whether a user row exists.
func (s *Storage) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE user_id = $1)`

	if err := s.db.GetContext(ctx, &exists, query, userID); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}

// WorkerOnDuty reports whether the worker exists and is currently taking
// jobs.
func (s *Storage) WorkerOnDuty(ctx context.Context, workerID string) (bool, error) {
	var onDuty bool
	query := `SELECT on_duty FROM users WHERE user_id = $1 AND role = 'WORKER'`

	err := s.db.GetContext(ctx, &onDuty, query, workerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.NotFoundf("worker %s not found", workerID)
		}
		return false, fmt.Errorf("failed to check worker duty status: %w", err)
	}
	return onDuty, nil
}

// GetAddress loads an address row by id.
func (s *Storage) GetAddress(ctx context.Context, addressID string) (*domain.Address, error) {
	var addr domain.Address
	query := `
		SELECT address_id, line1, city, latitude, longitude
		FROM addresses
		WHERE address_id = $1
	`

	err := s.db.GetContext(ctx, &addr, query, addressID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("address %s not found", addressID)
		}
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	return &addr, nil
}

// SkillsExist reports whether every id in skillIDs is a known skill.
func (s *Storage) SkillsExist(ctx context.Context, skillIDs []string) (bool, error) {
	if len(skillIDs) == 0 {
		return false, nil
	}

	query, args, err := sqlx.In(`SELECT COUNT(*) FROM skills WHERE skill_id IN (?)`, skillIDs)
	if err != nil {
		return false, fmt.Errorf("failed to build skills query: %w", err)
	}

	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(query), args...); err != nil {
		return false, fmt.Errorf("failed to check skills: %w", err)
	}
	return count == len(skillIDs), nil
}
