package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, entity *UserEntity) (*UserEntity, error) {
	query := `INSERT INTO users (id, name, surname, email, is_verified)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		entity.ID, entity.Name, entity.Surname, entity.Email, entity.IsVerified,
	).Scan(&entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "inserting user")
	}
	return entity, nil
}

func (r *UserRepository) SelectByEmail(ctx context.Context, email string) (*UserEntity, error) {
	return r.selectOne(ctx, `WHERE email = $1`, email)
}

func (r *UserRepository) SelectByID(ctx context.Context, id uuid.UUID) (*UserEntity, error) {
	return r.selectOne(ctx, `WHERE id = $1`, id)
}

func (r *UserRepository) MarkVerified(ctx context.Context, email string) error {
	query := `UPDATE users SET is_verified = TRUE, updated_at = now() WHERE email = $1`
	tag, err := r.pool.Exec(ctx, query, email)
	if err != nil {
		return errors.Wrap(err, "marking user verified")
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("no user with email %s", email)
	}
	return nil
}

func (r *UserRepository) selectOne(ctx context.Context, where string, arg any) (*UserEntity, error) {
	query := `SELECT id, name, surname, email, is_verified, created_at, updated_at FROM users ` + where

	var entity UserEntity
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&entity.ID, &entity.Name, &entity.Surname, &entity.Email,
		&entity.IsVerified, &entity.CreatedAt, &entity.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "selecting user")
	}
	return &entity, nil
}
