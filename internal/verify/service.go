package verify

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"harmoni-service/internal/cache"
	"harmoni-service/internal/config"
	"harmoni-service/internal/db"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const codeModulus = 1_000_000

var (
	// ErrAlreadyVerified rejects code requests for verified emails.
	ErrAlreadyVerified = errors.New("email already verified")
	// ErrRateLimited rejects code requests inside the resend cooldown.
	ErrRateLimited = errors.New("verification code recently sent")
	// ErrCodeExpired is returned when no active code exists for the email.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrCodeInvalid is returned on a wrong code.
	ErrCodeInvalid = errors.New("verification code invalid")
	// ErrTooManyAttempts is returned once the confirm attempt cap is hit.
	ErrTooManyAttempts = errors.New("too many verification attempts")
)

var (
	codesSentCounter     = metrics.GetOrCreateCounter(`verification_codes_total{result="sent"}`)
	codesLimitedCounter  = metrics.GetOrCreateCounter(`verification_codes_total{result="rate_limited"}`)
	confirmOkCounter     = metrics.GetOrCreateCounter(`verification_confirms_total{result="success"}`)
	confirmFailedCounter = metrics.GetOrCreateCounter(`verification_confirms_total{result="failed"}`)
)

type codeStore interface {
	SetString(ctx context.Context, key, value string, expiration time.Duration) error
	GetString(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error)
	Incr(ctx context.Context, key string, expiration time.Duration) (int64, error)
	Delete(ctx context.Context, keys ...string) error
}

type codeMailer interface {
	SendVerificationCode(ctx context.Context, toEmail, name, code string, ttl time.Duration) error
}

// Service handles purchaser email verification: issuing codes with a resend
// cooldown and confirming them with a bounded number of attempts. Codes live
// in redis so expiry follows the key TTL.
type Service struct {
	users       *db.UserRepository
	store       codeStore
	mailer      codeMailer
	codeTTL     time.Duration
	cooldown    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

func NewService(users *db.UserRepository, store codeStore, m codeMailer, cfg config.Verification, logger *slog.Logger) *Service {
	return &Service{
		users:       users,
		store:       store,
		mailer:      m,
		codeTTL:     time.Duration(cfg.CodeTTLMinutes) * time.Minute,
		cooldown:    time.Duration(cfg.ResendCooldownSec) * time.Second,
		maxAttempts: cfg.MaxConfirmAttempts,
		logger:      logger,
	}
}

// RequestCode creates an unverified user when none exists and emails a fresh
// verification code, subject to the cooldown.
func (s *Service) RequestCode(ctx context.Context, name, surname, email string) error {
	user, err := s.users.SelectByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user != nil && user.IsVerified {
		return errors.Wrap(ErrAlreadyVerified, email)
	}

	fresh, err := s.store.SetNX(ctx, cooldownKey(email), "1", s.cooldown)
	if err != nil {
		return err
	}
	if !fresh {
		codesLimitedCounter.Inc()
		return errors.Wrap(ErrRateLimited, email)
	}

	if user == nil {
		user = &db.UserEntity{
			ID:         uuid.New(),
			Name:       name,
			Surname:    surname,
			Email:      email,
			IsVerified: false,
		}
		if _, err := s.users.Create(ctx, user); err != nil {
			return err
		}
	}

	code, err := newCode()
	if err != nil {
		return err
	}

	if err := s.store.SetString(ctx, codeKey(email), code, s.codeTTL); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, attemptsKey(email)); err != nil {
		s.logger.WarnContext(ctx, "Error resetting confirm attempts", "error", err)
	}

	if err := s.mailer.SendVerificationCode(ctx, email, user.Name, code, s.codeTTL); err != nil {
		// release the cooldown so the user is not locked out of retrying
		// for a code that never went out
		if delErr := s.store.Delete(ctx, cooldownKey(email)); delErr != nil {
			s.logger.WarnContext(ctx, "Error releasing resend cooldown", "error", delErr)
		}
		return errors.Wrap(err, "sending verification code")
	}

	codesSentCounter.Inc()
	s.logger.InfoContext(ctx, "Verification code sent", "recipient", email)
	return nil
}

// ConfirmCode checks the submitted code and marks the user verified.
func (s *Service) ConfirmCode(ctx context.Context, email, code string) error {
	attempts, err := s.store.Incr(ctx, attemptsKey(email), s.codeTTL)
	if err != nil {
		return err
	}
	if attempts > int64(s.maxAttempts) {
		confirmFailedCounter.Inc()
		return errors.Wrap(ErrTooManyAttempts, email)
	}

	stored, err := s.store.GetString(ctx, codeKey(email))
	if errors.Is(err, cache.ErrKeyNotFound) {
		confirmFailedCounter.Inc()
		return errors.Wrap(ErrCodeExpired, email)
	}
	if err != nil {
		return err
	}

	if stored != code {
		confirmFailedCounter.Inc()
		return errors.Wrap(ErrCodeInvalid, email)
	}

	if err := s.users.MarkVerified(ctx, email); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, codeKey(email), attemptsKey(email), cooldownKey(email)); err != nil {
		s.logger.WarnContext(ctx, "Error cleaning up verification keys", "error", err)
	}

	confirmOkCounter.Inc()
	s.logger.InfoContext(ctx, "User verified", "email", email)
	return nil
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeModulus))
	if err != nil {
		return "", errors.Wrap(err, "generating verification code")
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func codeKey(email string) string     { return "verify:code:" + email }
func attemptsKey(email string) string { return "verify:attempts:" + email }
func cooldownKey(email string) string { return "verify:cooldown:" + email }
