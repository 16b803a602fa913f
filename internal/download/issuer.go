package download

import (
	"context"
	"fmt"
	"log/slog"

	"harmoni-service/internal/config"
	"harmoni-service/internal/db"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	issuerMintedCounter    = metrics.GetOrCreateCounter(`download_links_minted_total{result="success"}`)
	issuerSkippedCounter   = metrics.GetOrCreateCounter(`download_links_minted_total{result="already_exists"}`)
	issuerMintErrorCounter = metrics.GetOrCreateCounter(`download_links_minted_total{result="failed"}`)
)

type linkCreator interface {
	Create(ctx context.Context, entity *db.DownloadLinkEntity) (bool, error)
}

type fileLister interface {
	SelectByTariffID(ctx context.Context, tariffID uuid.UUID) ([]*db.TariffFileEntity, error)
}

// Issuer mints bounded-use download links for the files of a purchased
// tariff. It is invoked once per payment, by the webhook reconciler, after
// the success transition is committed.
type Issuer struct {
	links        linkCreator
	files        fileLister
	baseURL      string
	maxDownloads int
	logger       *slog.Logger
}

func NewIssuer(links linkCreator, files fileLister, cfg config.Download, logger *slog.Logger) *Issuer {
	return &Issuer{
		links:        links,
		files:        files,
		baseURL:      cfg.BaseURL,
		maxDownloads: cfg.MaxDownloads,
		logger:       logger,
	}
}

// Issue resolves the purchased tariff's files and mints one link per file,
// bound to the purchaser's email. A tariff deleted after purchase, or one
// without files, yields an empty result and no error. Mint attempts are
// independent: one failing file does not stop the others, the returned set
// holds only the links that exist.
func (i *Issuer) Issue(ctx context.Context, payment *db.PaymentEntity, email string) ([]Link, error) {
	if payment.TariffID == nil {
		i.logger.WarnContext(ctx, "Payment references no tariff, issuing nothing", "paymentId", payment.ID)
		return nil, nil
	}

	files, err := i.files.SelectByTariffID(ctx, *payment.TariffID)
	if err != nil {
		return nil, errors.Wrap(err, "resolving tariff files")
	}

	var links []Link
	for _, file := range files {
		token, err := NewToken()
		if err != nil {
			i.logger.ErrorContext(ctx, "Error generating token", "fileId", file.ID, "error", err)
			issuerMintErrorCounter.Inc()
			continue
		}

		entity := &db.DownloadLinkEntity{
			ID:           uuid.New(),
			Token:        token,
			PaymentID:    payment.ID,
			FileID:       &file.ID,
			Email:        email,
			Downloads:    0,
			MaxDownloads: i.maxDownloads,
		}

		inserted, err := i.links.Create(ctx, entity)
		if err != nil {
			i.logger.ErrorContext(ctx, "Error minting download link", "fileId", file.ID, "error", err)
			issuerMintErrorCounter.Inc()
			continue
		}
		if !inserted {
			i.logger.WarnContext(ctx, "Download link already exists for payment and file",
				"paymentId", payment.ID, "fileId", file.ID)
			issuerSkippedCounter.Inc()
			continue
		}

		issuerMintedCounter.Inc()
		links = append(links, Link{
			Filename: file.Filename,
			URL:      fmt.Sprintf("%s/files/download/%s", i.baseURL, token),
		})
	}

	return links, nil
}
