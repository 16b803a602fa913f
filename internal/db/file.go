package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type FileRepository struct {
	pool *pgxpool.Pool
}

func NewFileRepository(pool *pgxpool.Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

func (r *FileRepository) Create(ctx context.Context, entity *TariffFileEntity) (*TariffFileEntity, error) {
	query := `INSERT INTO tariff_file (id, tariff_id, filename, file_path, file_size)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		entity.ID, entity.TariffID, entity.Filename, entity.FilePath, entity.FileSize,
	).Scan(&entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "inserting tariff file")
	}
	return entity, nil
}

func (r *FileRepository) SelectByID(ctx context.Context, id uuid.UUID) (*TariffFileEntity, error) {
	query := `SELECT id, tariff_id, filename, file_path, file_size, created_at, updated_at
	          FROM tariff_file WHERE id = $1`

	var entity TariffFileEntity
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&entity.ID, &entity.TariffID, &entity.Filename, &entity.FilePath,
		&entity.FileSize, &entity.CreatedAt, &entity.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "selecting tariff file")
	}
	return &entity, nil
}

func (r *FileRepository) SelectByTariffID(ctx context.Context, tariffID uuid.UUID) ([]*TariffFileEntity, error) {
	query := `SELECT id, tariff_id, filename, file_path, file_size, created_at, updated_at
	          FROM tariff_file WHERE tariff_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, tariffID)
	if err != nil {
		return nil, errors.Wrap(err, "selecting tariff files")
	}
	defer rows.Close()

	var files []*TariffFileEntity
	for rows.Next() {
		var entity TariffFileEntity
		if err := rows.Scan(
			&entity.ID, &entity.TariffID, &entity.Filename, &entity.FilePath,
			&entity.FileSize, &entity.CreatedAt, &entity.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scanning tariff file")
		}
		files = append(files, &entity)
	}
	return files, rows.Err()
}
