package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *PaymentRepository) Create(ctx context.Context, entity *PaymentEntity) (*PaymentEntity, error) {
	query := `INSERT INTO payment (id, provider_intent_id, user_id, tariff_id, amount, currency, status, metadata)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		entity.ID, entity.ProviderIntentID, entity.UserID, entity.TariffID,
		entity.Amount, entity.Currency, entity.Status, entity.Metadata,
	).Scan(&entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "inserting payment")
	}
	return entity, nil
}

func (r *PaymentRepository) SelectByID(ctx context.Context, id uuid.UUID) (*PaymentEntity, error) {
	return r.selectOne(ctx, r.pool, `WHERE id = $1`, id)
}

func (r *PaymentRepository) SelectByIntentID(ctx context.Context, intentID string) (*PaymentEntity, error) {
	return r.selectOne(ctx, r.pool, `WHERE provider_intent_id = $1`, intentID)
}

// SelectForUpdateByIntentID locks the payment row for the rest of the
// transaction so concurrently delivered webhook events for the same intent
// are applied one at a time. Returns (nil, nil) when no row exists.
func (r *PaymentRepository) SelectForUpdateByIntentID(ctx context.Context, tx pgx.Tx, intentID string) (*PaymentEntity, error) {
	return r.selectOne(ctx, tx, `WHERE provider_intent_id = $1 FOR UPDATE`, intentID)
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	query := `UPDATE payment SET status = $2, updated_at = now() WHERE id = $1`
	_, err := tx.Exec(ctx, query, id, status)
	return errors.Wrap(err, "updating payment status")
}

// InsertWebhookEvent records the processor's event id in the dedupe ledger.
// Returns false when the event id was seen before.
func (r *PaymentRepository) InsertWebhookEvent(ctx context.Context, tx pgx.Tx, eventID, eventType string) (bool, error) {
	query := `INSERT INTO webhook_event (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`
	tag, err := tx.Exec(ctx, query, eventID, eventType)
	if err != nil {
		return false, errors.Wrap(err, "inserting webhook event")
	}
	return tag.RowsAffected() > 0, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PaymentRepository) selectOne(ctx context.Context, q queryRower, where string, arg any) (*PaymentEntity, error) {
	query := `SELECT id, provider_intent_id, user_id, tariff_id, amount, currency, status, metadata, created_at, updated_at
	          FROM payment ` + where

	var entity PaymentEntity
	err := q.QueryRow(ctx, query, arg).Scan(
		&entity.ID, &entity.ProviderIntentID, &entity.UserID, &entity.TariffID,
		&entity.Amount, &entity.Currency, &entity.Status, &entity.Metadata,
		&entity.CreatedAt, &entity.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "selecting payment")
	}
	return &entity, nil
}
