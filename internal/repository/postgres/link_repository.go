package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/Merryfling/shortlink/internal/models"
	"github.com/Merryfling/shortlink/internal/repository/interfaces"
)

// LinkRepository implements the LinkRepository interface for PostgreSQL
type LinkRepository struct {
	db *sql.DB
}

// NewLinkRepository creates a new PostgreSQL link repository
func NewLinkRepository(db *sql.DB) interfaces.LinkRepository {
	return &LinkRepository{db: db}
}

// Create inserts a new link record
func (r *LinkRepository) Create(ctx context.Context, link *models.Link) error {
	query := `
		INSERT INTO links (gid, short_url, origin_url, created_at, updated_at,
						  valid_from, valid_until, total_pv, total_uv, total_uip, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		link.GroupID,
		link.ShortURL,
		link.OriginURL,
		link.CreatedAt,
		link.UpdatedAt,
		link.ValidFrom,
		link.ValidUntil,
		link.TotalPV,
		link.TotalUV,
		link.TotalUIP,
		link.Enabled,
	).Scan(&link.ID)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			// unique_violation on short_url: a concurrent insert won the
			// same code.
			return models.ErrCodeCollision
		}
		return fmt.Errorf("failed to create link: %w", err)
	}

	return nil
}

// GetByShortCode retrieves a link by its short code
func (r *LinkRepository) GetByShortCode(ctx context.Context, shortURL string) (*models.Link, error) {
	query := `
		SELECT id, gid, short_url, origin_url, created_at, updated_at,
			   valid_from, valid_until, total_pv, total_uv, total_uip, enabled
		FROM links
		WHERE short_url = $1 AND enabled = true
	`

	link := &models.Link{}
	err := r.db.QueryRowContext(ctx, query, shortURL).Scan(
		&link.ID,
		&link.GroupID,
		&link.ShortURL,
		&link.OriginURL,
		&link.CreatedAt,
		&link.UpdatedAt,
		&link.ValidFrom,
		&link.ValidUntil,
		&link.TotalPV,
		&link.TotalUV,
		&link.TotalUIP,
		&link.Enabled,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link by short code: %w", err)
	}

	return link, nil
}

// UpdateGroup reassigns a link to another group
func (r *LinkRepository) UpdateGroup(ctx context.Context, shortURL, gid string) error {
	query := `
		UPDATE links
		SET gid = $1, updated_at = NOW()
		WHERE short_url = $2 AND enabled = true
	`

	result, err := r.db.ExecContext(ctx, query, gid, shortURL)
	if err != nil {
		return fmt.Errorf("failed to update link group: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return models.ErrLinkNotFound
	}

	return nil
}

// Delete soft deletes a link
func (r *LinkRepository) Delete(ctx context.Context, shortURL string) error {
	query := `
		UPDATE links
		SET enabled = false, updated_at = NOW()
		WHERE short_url = $1 AND enabled = true
	`

	result, err := r.db.ExecContext(ctx, query, shortURL)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return models.ErrLinkNotFound
	}

	return nil
}

// IncrementRollup applies pv/uv/uip deltas to the link's rollup counters
func (r *LinkRepository) IncrementRollup(ctx context.Context, gid, shortURL string, dPV, dUV, dUIP int64) error {
	query := `
		UPDATE links
		SET total_pv = total_pv + $1,
			total_uv = total_uv + $2,
			total_uip = total_uip + $3,
			updated_at = NOW()
		WHERE gid = $4 AND short_url = $5 AND enabled = true
	`

	_, err := r.db.ExecContext(ctx, query, dPV, dUV, dUIP, gid, shortURL)
	if err != nil {
		return fmt.Errorf("failed to increment rollup: %w", err)
	}

	return nil
}
