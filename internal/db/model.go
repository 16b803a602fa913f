package db

import (
	"time"

	"github.com/google/uuid"
)

type UserEntity struct {
	ID         uuid.UUID
	Name       string
	Surname    string
	Email      string
	IsVerified bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type TariffEntity struct {
	ID          uuid.UUID
	Name        string
	Description *string
	Calories    *int
	Features    *string
	BasePrice   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type TariffFileEntity struct {
	ID        uuid.UUID
	TariffID  uuid.UUID
	Filename  string
	FilePath  string
	FileSize  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentEntity is the local audit record of one purchase attempt. Rows are
// never deleted; the status column mirrors the processor's intent lifecycle.
type PaymentEntity struct {
	ID               uuid.UUID
	ProviderIntentID string
	UserID           uuid.UUID
	TariffID         *uuid.UUID
	Amount           int
	Currency         string
	Status           string
	Metadata         *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DownloadLinkEntity is a bounded-use credential granting access to one
// purchased file. Downloads never exceeds MaxDownloads. Rows are never
// deleted; FileID goes null when the underlying file is removed and the
// link stops resolving.
type DownloadLinkEntity struct {
	ID           uuid.UUID
	Token        string
	PaymentID    uuid.UUID
	FileID       *uuid.UUID
	Email        string
	Downloads    int
	MaxDownloads int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
