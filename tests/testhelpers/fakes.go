package testhelpers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"harmoni-service/internal/download"
	"harmoni-service/internal/event"
	"harmoni-service/internal/processor"
)

// FakeMailer records every dispatched notification.
type FakeMailer struct {
	mu           sync.Mutex
	Verification []VerificationMail
	Successes    []SuccessMail
	Failures     []FailureMail
	Err          error
}

type VerificationMail struct {
	To   string
	Name string
	Code string
}

type SuccessMail struct {
	To         string
	TariffName string
	Amount     int
	Currency   string
	Links      []download.Link
}

type FailureMail struct {
	To         string
	TariffName string
	Reason     string
}

func (m *FakeMailer) SendVerificationCode(_ context.Context, toEmail, name, code string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Verification = append(m.Verification, VerificationMail{To: toEmail, Name: name, Code: code})
	return nil
}

func (m *FakeMailer) SendPaymentSuccess(_ context.Context, toEmail, _, tariffName string, amount int, currency string, links []download.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Successes = append(m.Successes, SuccessMail{
		To: toEmail, TariffName: tariffName, Amount: amount, Currency: currency, Links: links,
	})
	return nil
}

func (m *FakeMailer) SendPaymentFailure(_ context.Context, toEmail, _, tariffName, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Failures = append(m.Failures, FailureMail{To: toEmail, TariffName: tariffName, Reason: reason})
	return nil
}

// FakeProcessor substitutes the payment gateway: intents come back with a
// canned initial status and webhook parsing returns the queued event, or
// decodes one from the payload, without real signature checks.
type FakeProcessor struct {
	mu            sync.Mutex
	InitialStatus string
	CreateErr     error
	ParseErr      error
	NextEvent     *processor.Event
	intentSeq     int
	Created       []*processor.Intent
}

func (p *FakeProcessor) CreateIntent(_ context.Context, _ int, _ string, _ map[string]string) (*processor.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	p.intentSeq++
	intent := &processor.Intent{
		ID:           fmt.Sprintf("pi_fake_%d", p.intentSeq),
		ClientSecret: "secret_fake",
		Status:       p.InitialStatus,
	}
	p.Created = append(p.Created, intent)
	return intent, nil
}

func (p *FakeProcessor) VerifyAndParseWebhook(payload []byte, _ string) (*processor.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ParseErr != nil {
		return nil, p.ParseErr
	}
	if p.NextEvent != nil {
		return p.NextEvent, nil
	}
	var ev processor.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// FakePublisher records published payment transitions.
type FakePublisher struct {
	mu          sync.Mutex
	Transitions []event.PaymentTransition
}

func (p *FakePublisher) Publish(_ context.Context, transition event.PaymentTransition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Transitions = append(p.Transitions, transition)
	return nil
}
