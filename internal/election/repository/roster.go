package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/campusvote/internal/election/model"
)

// RosterRepository reads the eligibility roster.
type RosterRepository struct {
	db *pgxpool.Pool
}

// NewRosterRepository creates a new RosterRepository.
func NewRosterRepository(db *pgxpool.Pool) *RosterRepository {
	return &RosterRepository{db: db}
}

// Lookup returns the voter registered under regNo, or ErrNotFound.
func (r *RosterRepository) Lookup(ctx context.Context, regNo string) (*model.Voter, error) {
	v := &model.Voter{}
	err := r.db.QueryRow(ctx,
		`SELECT id, reg_no, email, phone, status FROM voters WHERE reg_no = $1`, regNo,
	).Scan(&v.ID, &v.RegNo, &v.Email, &v.Phone, &v.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup voter: %w", err)
	}
	return v, nil
}
