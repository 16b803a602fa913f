package repository

import (
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"harmoni-service/internal/db"
	"harmoni-service/internal/download"
	"harmoni-service/tests/testhelpers"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type DownloadLinkRepositoryTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	sut         *db.DownloadLinkRepository
	ctx         context.Context

	user    *db.UserEntity
	tariff  *db.TariffEntity
	file    *db.TariffFileEntity
	payment *db.PaymentEntity
}

func (s *DownloadLinkRepositoryTestSuite) SetupSuite() {
	time.Local = time.UTC

	s.ctx = context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(s.ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	db.RunMigrations(pgContainer.ConnectionString, "../../../migrations")

	pool, err := db.GetPool(pgContainer.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}

	s.pool = pool
	s.sut = db.NewDownloadLinkRepository(pool)
}

func (s *DownloadLinkRepositoryTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *DownloadLinkRepositoryTestSuite) SetupTest() {
	for _, table := range []string{"download_link", "payment", "tariff_file", "users", "tariff"} {
		_, err := s.pool.Exec(s.ctx, "DELETE FROM "+table)
		if err != nil {
			log.Fatalf("error truncating %s table: %s", table, err)
		}
	}

	t := s.T()

	var err error
	s.user, err = db.NewUserRepository(s.pool).Create(s.ctx, &db.UserEntity{
		ID: uuid.New(), Name: "Anna", Surname: "Kovach", Email: "anna@example.com", IsVerified: true,
	})
	assert.NoError(t, err)

	s.tariff, err = db.NewTariffRepository(s.pool).Create(s.ctx, &db.TariffEntity{
		ID: uuid.New(), Name: "Balance", BasePrice: 4900,
	})
	assert.NoError(t, err)

	s.file, err = db.NewFileRepository(s.pool).Create(s.ctx, &db.TariffFileEntity{
		ID: uuid.New(), TariffID: s.tariff.ID, Filename: "plan.pdf", FilePath: "tariffs/plan.pdf", FileSize: 1024,
	})
	assert.NoError(t, err)

	s.payment, err = db.NewPaymentRepository(s.pool).Create(s.ctx, &db.PaymentEntity{
		ID: uuid.New(), ProviderIntentID: "pi_links", UserID: s.user.ID, TariffID: &s.tariff.ID,
		Amount: 4900, Currency: "usd", Status: "succeeded",
	})
	assert.NoError(t, err)
}

func (s *DownloadLinkRepositoryTestSuite) newLink(maxDownloads int) *db.DownloadLinkEntity {
	token, err := download.NewToken()
	assert.NoError(s.T(), err)

	return &db.DownloadLinkEntity{
		ID:           uuid.New(),
		Token:        token,
		PaymentID:    s.payment.ID,
		FileID:       &s.file.ID,
		Email:        s.user.Email,
		Downloads:    0,
		MaxDownloads: maxDownloads,
	}
}

func (s *DownloadLinkRepositoryTestSuite) TestCreateOncePerPaymentAndFile() {
	t := s.T()

	inserted, err := s.sut.Create(s.ctx, s.newLink(3))
	assert.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.sut.Create(s.ctx, s.newLink(3))
	assert.NoError(t, err)
	assert.False(t, inserted)

	links, err := s.sut.SelectByPaymentID(s.ctx, s.payment.ID)
	assert.NoError(t, err)
	assert.Len(t, links, 1)
}

func (s *DownloadLinkRepositoryTestSuite) TestConsumeUntilExhausted() {
	t := s.T()

	entity := s.newLink(3)
	inserted, err := s.sut.Create(s.ctx, entity)
	assert.NoError(t, err)
	assert.True(t, inserted)

	for i := 1; i <= 3; i++ {
		consumed, err := s.sut.Consume(s.ctx, entity.Token)
		assert.NoError(t, err)
		assert.NotNil(t, consumed)
		assert.Equal(t, i, consumed.Downloads)
	}

	consumed, err := s.sut.Consume(s.ctx, entity.Token)
	assert.NoError(t, err)
	assert.Nil(t, consumed)

	remaining, err := s.sut.SelectByToken(s.ctx, entity.Token)
	assert.NoError(t, err)
	assert.Equal(t, 3, remaining.Downloads)
}

func (s *DownloadLinkRepositoryTestSuite) TestConsumeUnknownToken() {
	t := s.T()

	consumed, err := s.sut.Consume(s.ctx, "deadbeef")
	assert.NoError(t, err)
	assert.Nil(t, consumed)
}

func (s *DownloadLinkRepositoryTestSuite) TestConcurrentConsumeSingleWinner() {
	t := s.T()

	entity := s.newLink(1)
	inserted, err := s.sut.Create(s.ctx, entity)
	assert.NoError(t, err)
	assert.True(t, inserted)

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumed, err := s.sut.Consume(s.ctx, entity.Token)
			assert.NoError(t, err)
			results <- consumed != nil
		}()
	}

	wg.Wait()
	close(results)

	wins := 0
	for won := range results {
		if won {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestDownloadLinkRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(DownloadLinkRepositoryTestSuite))
}
