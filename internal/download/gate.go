package download

import (
	"context"
	"log/slog"

	"harmoni-service/internal/db"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrLinkNotFound is returned for tokens that never existed.
	ErrLinkNotFound = errors.New("download link not found")
	// ErrLinkExhausted is returned once a token's redemption limit is
	// reached. Exhausted links never authorize another download.
	ErrLinkExhausted = errors.New("download link exhausted")
)

var (
	gateSuccessCounter   = metrics.GetOrCreateCounter(`download_redemptions_total{result="success"}`)
	gateNotFoundCounter  = metrics.GetOrCreateCounter(`download_redemptions_total{result="not_found"}`)
	gateExhaustedCounter = metrics.GetOrCreateCounter(`download_redemptions_total{result="exhausted"}`)
)

type linkConsumer interface {
	Consume(ctx context.Context, token string) (*db.DownloadLinkEntity, error)
	SelectByToken(ctx context.Context, token string) (*db.DownloadLinkEntity, error)
}

type fileGetter interface {
	SelectByID(ctx context.Context, id uuid.UUID) (*db.TariffFileEntity, error)
}

// Gate is the redemption side of the entitlement subsystem: it atomically
// consumes one use of a token and resolves the file to serve.
type Gate struct {
	links  linkConsumer
	files  fileGetter
	logger *slog.Logger
}

func NewGate(links linkConsumer, files fileGetter, logger *slog.Logger) *Gate {
	return &Gate{links: links, files: files, logger: logger}
}

// Redeem consumes one use of the token. The check-and-increment happens in a
// single conditional update, so of two concurrent requests racing for the
// last remaining use exactly one wins.
func (g *Gate) Redeem(ctx context.Context, token string) (*db.TariffFileEntity, error) {
	link, err := g.links.Consume(ctx, token)
	if err != nil {
		return nil, err
	}

	if link == nil {
		existing, err := g.links.SelectByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			gateNotFoundCounter.Inc()
			return nil, ErrLinkNotFound
		}
		gateExhaustedCounter.Inc()
		g.logger.WarnContext(ctx, "Exhausted download link rejected",
			"linkId", existing.ID, "downloads", existing.Downloads)
		return nil, ErrLinkExhausted
	}

	// a null file id means the underlying file was removed after purchase;
	// the link row stays as an audit record but no longer resolves
	if link.FileID == nil {
		gateNotFoundCounter.Inc()
		g.logger.WarnContext(ctx, "Download link references a removed file", "linkId", link.ID)
		return nil, ErrLinkNotFound
	}

	file, err := g.files.SelectByID(ctx, *link.FileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		gateNotFoundCounter.Inc()
		return nil, ErrLinkNotFound
	}

	gateSuccessCounter.Inc()
	g.logger.InfoContext(ctx, "Download link redeemed",
		"linkId", link.ID, "fileId", file.ID, "downloads", link.Downloads, "maxDownloads", link.MaxDownloads)

	return file, nil
}
