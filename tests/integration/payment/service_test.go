package reconciler

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"sync"
	"testing"
	"time"

	"harmoni-service/internal/config"
	"harmoni-service/internal/db"
	"harmoni-service/internal/download"
	"harmoni-service/internal/payment"
	"harmoni-service/internal/processor"
	"harmoni-service/tests/testhelpers"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type PaymentServiceTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	ctx         context.Context

	payments *db.PaymentRepository
	users    *db.UserRepository
	tariffs  *db.TariffRepository
	files    *db.FileRepository
	links    *db.DownloadLinkRepository

	proc      *testhelpers.FakeProcessor
	mail      *testhelpers.FakeMailer
	publisher *testhelpers.FakePublisher
	sut       *payment.Service

	user   *db.UserEntity
	tariff *db.TariffEntity
}

func (s *PaymentServiceTestSuite) SetupSuite() {
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

	s.payments = db.NewPaymentRepository(pool)
	s.users = db.NewUserRepository(pool)
	s.tariffs = db.NewTariffRepository(pool)
	s.files = db.NewFileRepository(pool)
	s.links = db.NewDownloadLinkRepository(pool)
}

func (s *PaymentServiceTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *PaymentServiceTestSuite) SetupTest() {
	for _, table := range []string{"webhook_event", "download_link", "payment", "tariff_file", "users", "tariff"} {
		_, err := s.pool.Exec(s.ctx, "DELETE FROM "+table)
		if err != nil {
			log.Fatalf("error truncating %s table: %s", table, err)
		}
	}

	t := s.T()
	logger := slog.Default()

	s.proc = &testhelpers.FakeProcessor{InitialStatus: "requires_payment_method"}
	s.mail = &testhelpers.FakeMailer{}
	s.publisher = &testhelpers.FakePublisher{}

	issuer := download.NewIssuer(s.links, s.files,
		config.Download{BaseURL: "http://localhost:8080", MaxDownloads: 3}, logger)

	s.sut = payment.NewService(s.payments, s.users, s.tariffs, s.proc, issuer, s.mail, s.publisher, logger)

	var err error
	s.user, err = s.users.Create(s.ctx, &db.UserEntity{
		ID: uuid.New(), Name: "Anna", Surname: "Kovach", Email: "anna@example.com", IsVerified: true,
	})
	assert.NoError(t, err)

	s.tariff, err = s.tariffs.Create(s.ctx, &db.TariffEntity{
		ID: uuid.New(), Name: "Balance", BasePrice: 4900,
	})
	assert.NoError(t, err)

	for _, name := range []string{"week-1.pdf", "week-2.pdf"} {
		_, err = s.files.Create(s.ctx, &db.TariffFileEntity{
			ID: uuid.New(), TariffID: s.tariff.ID, Filename: name,
			FilePath: "tariffs/" + name, FileSize: 2048,
		})
		assert.NoError(t, err)
	}
}

func (s *PaymentServiceTestSuite) createPayment() *db.PaymentEntity {
	entity, _, err := s.sut.CreateIntent(s.ctx, s.user.Email, s.tariff.ID)
	assert.NoError(s.T(), err)
	return entity
}

func (s *PaymentServiceTestSuite) deliver(eventID, eventType, intentID, intentStatus string) error {
	s.proc.NextEvent = &processor.Event{
		ID:           eventID,
		Type:         eventType,
		IntentID:     intentID,
		IntentStatus: intentStatus,
	}
	return s.sut.ProcessWebhook(s.ctx, []byte(`{}`), "sig")
}

func (s *PaymentServiceTestSuite) TestCreateIntent() {
	t := s.T()

	entity, clientSecret, err := s.sut.CreateIntent(s.ctx, s.user.Email, s.tariff.ID)
	assert.NoError(t, err)
	assert.Equal(t, "secret_fake", clientSecret)
	assert.Equal(t, "requires_payment_method", entity.Status)
	assert.Equal(t, 4900, entity.Amount)
	assert.Equal(t, "usd", entity.Currency)

	stored, err := s.payments.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, entity.ProviderIntentID, stored.ProviderIntentID)

	// no entitlement exists before the webhook confirms success
	links, err := s.links.SelectByPaymentID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Empty(t, links)
	assert.Empty(t, s.mail.Successes)
}

func (s *PaymentServiceTestSuite) TestCreateIntentUnverifiedUser() {
	t := s.T()

	_, err := s.users.Create(s.ctx, &db.UserEntity{
		ID: uuid.New(), Name: "Boris", Surname: "Ianev", Email: "boris@example.com", IsVerified: false,
	})
	assert.NoError(t, err)

	_, _, err = s.sut.CreateIntent(s.ctx, "boris@example.com", s.tariff.ID)
	assert.ErrorIs(t, err, payment.ErrUserNotVerified)

	_, _, err = s.sut.CreateIntent(s.ctx, "nobody@example.com", s.tariff.ID)
	assert.ErrorIs(t, err, payment.ErrUserNotVerified)
}

func (s *PaymentServiceTestSuite) TestCreateIntentUnknownTariff() {
	t := s.T()

	_, _, err := s.sut.CreateIntent(s.ctx, s.user.Email, uuid.New())
	assert.ErrorIs(t, err, payment.ErrTariffNotFound)
}

func (s *PaymentServiceTestSuite) TestSucceededWebhookIssuesEntitlements() {
	t := s.T()
	entity := s.createPayment()

	err := s.deliver("evt_1", "payment_intent.succeeded", entity.ProviderIntentID, "succeeded")
	assert.NoError(t, err)

	updated, err := s.payments.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, "succeeded", updated.Status)

	links, err := s.links.SelectByPaymentID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Len(t, links, 2)

	assert.Len(t, s.mail.Successes, 1)
	assert.Equal(t, s.user.Email, s.mail.Successes[0].To)
	assert.Len(t, s.mail.Successes[0].Links, 2)
	assert.Contains(t, s.mail.Successes[0].Links[0].URL, "/files/download/")

	assert.Len(t, s.publisher.Transitions, 1)
	assert.Equal(t, "succeeded", s.publisher.Transitions[0].ToStatus)
}

func (s *PaymentServiceTestSuite) TestDuplicateSucceededWebhookIsNoOp() {
	t := s.T()
	entity := s.createPayment()

	assert.NoError(t, s.deliver("evt_1", "payment_intent.succeeded", entity.ProviderIntentID, "succeeded"))
	assert.NoError(t, s.deliver("evt_1", "payment_intent.succeeded", entity.ProviderIntentID, "succeeded"))

	links, err := s.links.SelectByPaymentID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Len(t, links, 2)
	assert.Len(t, s.mail.Successes, 1)
	assert.Len(t, s.publisher.Transitions, 1)
}

func (s *PaymentServiceTestSuite) TestRedeliveredTerminalWithFreshEventID() {
	t := s.T()
	entity := s.createPayment()

	assert.NoError(t, s.deliver("evt_1", "payment_intent.succeeded", entity.ProviderIntentID, "succeeded"))
	assert.NoError(t, s.deliver("evt_2", "payment_intent.succeeded", entity.ProviderIntentID, "succeeded"))

	links, err := s.links.SelectByPaymentID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Len(t, links, 2)
	assert.Len(t, s.mail.Successes, 1)
}

func (s *PaymentServiceTestSuite) TestConcurrentSucceededDeliveriesIssueOnce() {
	t := s.T()
	entity := s.createPayment()

	// distinct event ids, so only the row lock and terminal guard stand
	// between the two deliveries and a double issuance
	payloads := make([][]byte, 0, 2)
	for _, eventID := range []string{"evt_a", "evt_b"} {
		payload, err := json.Marshal(processor.Event{
			ID:           eventID,
			Type:         "payment_intent.succeeded",
			IntentID:     entity.ProviderIntentID,
			IntentStatus: "succeeded",
		})
		assert.NoError(t, err)
		payloads = append(payloads, payload)
	}

	var wg sync.WaitGroup
	results := make(chan error, len(payloads))
	for _, payload := range payloads {
		wg.Add(1)
		go func(payload []byte) {
			defer wg.Done()
			results <- s.sut.ProcessWebhook(s.ctx, payload, "sig")
		}(payload)
	}
	wg.Wait()
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}

	updated, err := s.payments.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, "succeeded", updated.Status)

	links, err := s.links.SelectByPaymentID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Len(t, links, 2)

	assert.Len(t, s.mail.Successes, 1)
	assert.Len(t, s.publisher.Transitions, 1)
}

func (s *PaymentServiceTestSuite) TestFailedAfterSucceededKeepsTerminalState() {
	t := s.T()
	entity := s.createPayment()

	assert.NoError(t, s.deliver("evt_1", "payment_intent.succeeded", entity.ProviderIntentID, "succeeded"))
	assert.NoError(t, s.deliver("evt_2", "payment_intent.payment_failed", entity.ProviderIntentID, "requires_payment_method"))

	updated, err := s.payments.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, "succeeded", updated.Status)
	assert.Empty(t, s.mail.Failures)
}

func (s *PaymentServiceTestSuite) TestFailedWebhookSendsFailureNotice() {
	t := s.T()
	entity := s.createPayment()

	err := s.deliver("evt_1", "payment_intent.payment_failed", entity.ProviderIntentID, "requires_payment_method")
	assert.NoError(t, err)

	updated, err := s.payments.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, "failed", updated.Status)

	links, err := s.links.SelectByPaymentID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Empty(t, links)

	assert.Len(t, s.mail.Failures, 1)
	assert.Empty(t, s.mail.Successes)
}

func (s *PaymentServiceTestSuite) TestNonTerminalTransitionHasNoSideEffects() {
	t := s.T()
	entity := s.createPayment()

	err := s.deliver("evt_1", "payment_intent.processing", entity.ProviderIntentID, "processing")
	assert.NoError(t, err)

	updated, err := s.payments.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, "processing", updated.Status)

	links, err := s.links.SelectByPaymentID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Empty(t, links)

	assert.Empty(t, s.mail.Successes)
	assert.Empty(t, s.mail.Failures)
	assert.Len(t, s.publisher.Transitions, 1)
}

func (s *PaymentServiceTestSuite) TestInvalidSignatureChangesNothing() {
	t := s.T()
	entity := s.createPayment()

	s.proc.ParseErr = processor.ErrInvalidSignature
	err := s.sut.ProcessWebhook(s.ctx, []byte(`{}`), "bad-sig")
	assert.ErrorIs(t, err, processor.ErrInvalidSignature)

	updated, err := s.payments.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, "requires_payment_method", updated.Status)
	assert.Empty(t, s.mail.Successes)
	assert.Empty(t, s.mail.Failures)
}

func (s *PaymentServiceTestSuite) TestUntrackedIntentIsIgnored() {
	t := s.T()

	err := s.deliver("evt_1", "payment_intent.succeeded", "pi_not_ours", "succeeded")
	assert.NoError(t, err)
	assert.Empty(t, s.mail.Successes)
}

func (s *PaymentServiceTestSuite) TestDeletedTariffYieldsEmptyEntitlements() {
	t := s.T()
	entity := s.createPayment()

	err := s.tariffs.Delete(s.ctx, s.tariff.ID)
	assert.NoError(t, err)

	err = s.deliver("evt_1", "payment_intent.succeeded", entity.ProviderIntentID, "succeeded")
	assert.NoError(t, err)

	updated, err := s.payments.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, "succeeded", updated.Status)
	assert.Nil(t, updated.TariffID)

	links, err := s.links.SelectByPaymentID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Empty(t, links)

	// email still goes out, with the materials-pending wording
	assert.Len(t, s.mail.Successes, 1)
	assert.Empty(t, s.mail.Successes[0].Links)
}

func (s *PaymentServiceTestSuite) TestMailerFailureDoesNotRevertTransition() {
	t := s.T()
	entity := s.createPayment()

	s.mail.Err = assert.AnError
	err := s.deliver("evt_1", "payment_intent.succeeded", entity.ProviderIntentID, "succeeded")
	assert.NoError(t, err)

	updated, err := s.payments.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, "succeeded", updated.Status)

	links, err := s.links.SelectByPaymentID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestPaymentServiceTestSuite(t *testing.T) {
	suite.Run(t, new(PaymentServiceTestSuite))
}
