package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type TariffRepository struct {
	pool *pgxpool.Pool
}

func NewTariffRepository(pool *pgxpool.Pool) *TariffRepository {
	return &TariffRepository{pool: pool}
}

func (r *TariffRepository) Create(ctx context.Context, entity *TariffEntity) (*TariffEntity, error) {
	query := `INSERT INTO tariff (id, name, description, calories, features, base_price)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		entity.ID, entity.Name, entity.Description, entity.Calories, entity.Features, entity.BasePrice,
	).Scan(&entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "inserting tariff")
	}
	return entity, nil
}

func (r *TariffRepository) SelectByID(ctx context.Context, id uuid.UUID) (*TariffEntity, error) {
	query := `SELECT id, name, description, calories, features, base_price, created_at, updated_at
	          FROM tariff WHERE id = $1`

	var entity TariffEntity
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&entity.ID, &entity.Name, &entity.Description, &entity.Calories,
		&entity.Features, &entity.BasePrice, &entity.CreatedAt, &entity.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "selecting tariff")
	}
	return &entity, nil
}

func (r *TariffRepository) SelectAll(ctx context.Context) ([]*TariffEntity, error) {
	query := `SELECT id, name, description, calories, features, base_price, created_at, updated_at
	          FROM tariff ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "selecting tariffs")
	}
	defer rows.Close()

	var tariffs []*TariffEntity
	for rows.Next() {
		var entity TariffEntity
		if err := rows.Scan(
			&entity.ID, &entity.Name, &entity.Description, &entity.Calories,
			&entity.Features, &entity.BasePrice, &entity.CreatedAt, &entity.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scanning tariff")
		}
		tariffs = append(tariffs, &entity)
	}
	return tariffs, rows.Err()
}

func (r *TariffRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM tariff WHERE id = $1`, id)
	return errors.Wrap(err, "deleting tariff")
}
