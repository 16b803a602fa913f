package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type DownloadLinkRepository struct {
	pool *pgxpool.Pool
}

func NewDownloadLinkRepository(pool *pgxpool.Pool) *DownloadLinkRepository {
	return &DownloadLinkRepository{pool: pool}
}

// Create inserts a link unless one already exists for the same
// (payment, file) pair. Returns false when the pair was already covered.
func (r *DownloadLinkRepository) Create(ctx context.Context, entity *DownloadLinkEntity) (bool, error) {
	query := `INSERT INTO download_link (id, token, payment_id, file_id, email, downloads, max_downloads)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (payment_id, file_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query,
		entity.ID, entity.Token, entity.PaymentID, entity.FileID,
		entity.Email, entity.Downloads, entity.MaxDownloads)
	if err != nil {
		return false, errors.Wrap(err, "inserting download link")
	}
	return tag.RowsAffected() > 0, nil
}

func (r *DownloadLinkRepository) SelectByToken(ctx context.Context, token string) (*DownloadLinkEntity, error) {
	query := `SELECT id, token, payment_id, file_id, email, downloads, max_downloads, created_at, updated_at
	          FROM download_link WHERE token = $1`

	var entity DownloadLinkEntity
	err := r.pool.QueryRow(ctx, query, token).Scan(
		&entity.ID, &entity.Token, &entity.PaymentID, &entity.FileID,
		&entity.Email, &entity.Downloads, &entity.MaxDownloads,
		&entity.CreatedAt, &entity.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "selecting download link")
	}
	return &entity, nil
}

// Consume increments the redemption count if and only if uses remain. The
// conditional update makes concurrent redemptions of the last remaining use
// resolve to exactly one winner. Returns (nil, nil) when the token does not
// match a link with remaining uses.
func (r *DownloadLinkRepository) Consume(ctx context.Context, token string) (*DownloadLinkEntity, error) {
	query := `UPDATE download_link
	          SET downloads = downloads + 1, updated_at = now()
	          WHERE token = $1 AND downloads < max_downloads
	          RETURNING id, token, payment_id, file_id, email, downloads, max_downloads, created_at, updated_at`

	var entity DownloadLinkEntity
	err := r.pool.QueryRow(ctx, query, token).Scan(
		&entity.ID, &entity.Token, &entity.PaymentID, &entity.FileID,
		&entity.Email, &entity.Downloads, &entity.MaxDownloads,
		&entity.CreatedAt, &entity.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "consuming download link")
	}
	return &entity, nil
}

func (r *DownloadLinkRepository) SelectByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*DownloadLinkEntity, error) {
	query := `SELECT id, token, payment_id, file_id, email, downloads, max_downloads, created_at, updated_at
	          FROM download_link WHERE payment_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, paymentID)
	if err != nil {
		return nil, errors.Wrap(err, "selecting download links by payment")
	}
	defer rows.Close()

	var links []*DownloadLinkEntity
	for rows.Next() {
		var entity DownloadLinkEntity
		if err := rows.Scan(
			&entity.ID, &entity.Token, &entity.PaymentID, &entity.FileID,
			&entity.Email, &entity.Downloads, &entity.MaxDownloads,
			&entity.CreatedAt, &entity.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scanning download link")
		}
		links = append(links, &entity)
	}
	return links, rows.Err()
}
