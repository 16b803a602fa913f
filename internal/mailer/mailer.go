package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"harmoni-service/internal/config"
	"harmoni-service/internal/download"
	"github.com/pkg/errors"
	"github.com/resend/resend-go/v2"
)

const sendTimeout = 10 * time.Second

// Mailer dispatches transactional mail. Implementations must be safe for
// concurrent use.
type Mailer interface {
	SendVerificationCode(ctx context.Context, toEmail, name, code string, ttl time.Duration) error
	SendPaymentSuccess(ctx context.Context, toEmail, name, tariffName string, amount int, currency string, links []download.Link) error
	SendPaymentFailure(ctx context.Context, toEmail, name, tariffName, reason string) error
}

type ResendMailer struct {
	client    *resend.Client
	fromEmail string
	logger    *slog.Logger
}

func NewResendMailer(cfg config.Resend, logger *slog.Logger) *ResendMailer {
	httpClient := &http.Client{Timeout: sendTimeout}
	return &ResendMailer{
		client:    resend.NewCustomClient(httpClient, cfg.APIKey),
		fromEmail: cfg.FromEmail,
		logger:    logger,
	}
}

func (m *ResendMailer) SendVerificationCode(ctx context.Context, toEmail, name, code string, ttl time.Duration) error {
	html := fmt.Sprintf(`<html><body>
		<h2>Welcome to Harmoni, %s!</h2>
		<p>Your verification code is:</p>
		<h1 style="letter-spacing: 5px;">%s</h1>
		<p>This code will expire in %d minutes.</p>
		<p>If you didn't request this code, please ignore this email.</p>
	</body></html>`, name, code, int(ttl.Minutes()))

	return m.send(ctx, toEmail, "Your Harmoni Verification Code", html)
}

func (m *ResendMailer) SendPaymentSuccess(ctx context.Context, toEmail, name, tariffName string, amount int, currency string, links []download.Link) error {
	var body strings.Builder
	fmt.Fprintf(&body, "<html><body><h2>Thank you, %s!</h2>", name)
	fmt.Fprintf(&body, "<p>Your payment of %.2f %s for the %q plan was successful.</p>",
		float64(amount)/100, strings.ToUpper(currency), tariffName)

	if len(links) == 0 {
		body.WriteString("<p>Your materials are being prepared and will arrive in a separate email.</p>")
	} else {
		body.WriteString("<p>Your materials:</p><ul>")
		for _, link := range links {
			fmt.Fprintf(&body, `<li><a href="%s">%s</a></li>`, link.URL, link.Filename)
		}
		body.WriteString("</ul><p>Each link allows a limited number of downloads.</p>")
	}
	body.WriteString("</body></html>")

	subject := fmt.Sprintf("Payment confirmed: %s", tariffName)
	return m.send(ctx, toEmail, subject, body.String())
}

func (m *ResendMailer) SendPaymentFailure(ctx context.Context, toEmail, name, tariffName, reason string) error {
	html := fmt.Sprintf(`<html><body>
		<h2>Hi %s,</h2>
		<p>Unfortunately your payment for the %q plan did not go through (%s).</p>
		<p>No charge was made. You can retry the purchase at any time.</p>
	</body></html>`, name, tariffName, reason)

	subject := fmt.Sprintf("Payment failed: %s", tariffName)
	return m.send(ctx, toEmail, subject, html)
}

func (m *ResendMailer) send(ctx context.Context, toEmail, subject, html string) error {
	params := &resend.SendEmailRequest{
		From:    m.fromEmail,
		To:      []string{toEmail},
		Subject: subject,
		Html:    html,
	}

	sent, err := m.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return errors.Wrapf(err, "sending email to %s", toEmail)
	}

	m.logger.InfoContext(ctx, "Email sent", "emailId", sent.Id, "recipient", toEmail, "subject", subject)
	return nil
}
