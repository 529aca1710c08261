package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/campusvote/internal/election/model"
)

const positionColumns = `id, name, seats, nomination_opens, nomination_closes, voting_opens, voting_closes`

// CatalogRepository reads positions and candidates.
type CatalogRepository struct {
	db *pgxpool.Pool
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(db *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListOpenForVoting returns positions whose voting window contains now.
func (r *CatalogRepository) ListOpenForVoting(ctx context.Context, now time.Time) ([]*model.Position, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE voting_opens <= $1 AND $1 < voting_closes
		 ORDER BY name`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	return scanPositions(rows)
}

// GetPositions returns the positions with the given ids. Unknown ids are skipped.
func (r *CatalogRepository) GetPositions(ctx context.Context, ids []uuid.UUID) ([]*model.Position, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	return scanPositions(rows)
}

// GetCandidates returns candidates of the given positions with the given status.
func (r *CatalogRepository) GetCandidates(ctx context.Context, positionIDs []uuid.UUID, status model.CandidateStatus) ([]*model.Candidate, error) {
	if len(positionIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, position_id, name, status FROM candidates
		 WHERE position_id = ANY($1) AND status = $2
		 ORDER BY position_id, name`, positionIDs, status,
	)
	if err != nil {
		return nil, fmt.Errorf("get candidates: %w", err)
	}
	defer rows.Close()

	var out []*model.Candidate
	for rows.Next() {
		c := &model.Candidate{}
		if err := rows.Scan(&c.ID, &c.PositionID, &c.Name, &c.Status); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanPositions(rows pgx.Rows) ([]*model.Position, error) {
	defer rows.Close()
	var out []*model.Position
	for rows.Next() {
		p := &model.Position{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Seats,
			&p.NominationOpens, &p.NominationCloses, &p.VotingOpens, &p.VotingCloses,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
