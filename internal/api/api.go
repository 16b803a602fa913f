package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"harmoni-service/internal/db"
	"harmoni-service/internal/download"
	"harmoni-service/internal/payment"
	"harmoni-service/internal/processor"
	"harmoni-service/internal/verify"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type paymentService interface {
	CreateIntent(ctx context.Context, email string, tariffID uuid.UUID) (*db.PaymentEntity, string, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*db.PaymentEntity, error)
	ProcessWebhook(ctx context.Context, payload []byte, sigHeader string) error
}

type verifyService interface {
	RequestCode(ctx context.Context, name, surname, email string) error
	ConfirmCode(ctx context.Context, email, code string) error
}

type redemptionGate interface {
	Redeem(ctx context.Context, token string) (*db.TariffFileEntity, error)
}

type tariffLister interface {
	SelectAll(ctx context.Context) ([]*db.TariffEntity, error)
}

type Handler struct {
	payments  paymentService
	verifier  verifyService
	gate      redemptionGate
	tariffs   tariffLister
	uploadDir string
	logger    *slog.Logger
}

func NewHandler(payments paymentService, verifier verifyService, gate redemptionGate, tariffs tariffLister, uploadDir string, logger *slog.Logger) *Handler {
	return &Handler{
		payments:  payments,
		verifier:  verifier,
		gate:      gate,
		tariffs:   tariffs,
		uploadDir: uploadDir,
		logger:    logger,
	}
}

func NewMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /auth/verification-code", h.requestVerificationCode)
	mux.HandleFunc("POST /auth/verify", h.confirmVerificationCode)
	mux.HandleFunc("GET /tariffs", h.listTariffs)
	mux.HandleFunc("POST /payments/intent", h.createPaymentIntent)
	mux.HandleFunc("GET /payments/{id}", h.getPaymentStatus)
	mux.HandleFunc("POST /stripe/webhook", h.stripeWebhook)
	mux.HandleFunc("GET /files/download/{token}", h.downloadFile)

	return mux
}

type requestCodeRequest struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Email   string `json:"email"`
}

func (h *Handler) requestVerificationCode(w http.ResponseWriter, r *http.Request) {
	var req requestCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.verifier.RequestCode(r.Context(), req.Name, req.Surname, req.Email); err != nil {
		h.writeMappedError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "code sent"})
}

type confirmCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *Handler) confirmVerificationCode(w http.ResponseWriter, r *http.Request) {
	var req confirmCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.verifier.ConfirmCode(r.Context(), req.Email, req.Code); err != nil {
		h.writeMappedError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

type tariffResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Calories    *int      `json:"calories"`
	Features    []string  `json:"features"`
	BasePrice   int       `json:"basePrice"`
}

func (h *Handler) listTariffs(w http.ResponseWriter, r *http.Request) {
	tariffs, err := h.tariffs.SelectAll(r.Context())
	if err != nil {
		h.writeMappedError(r.Context(), w, err)
		return
	}

	response := make([]tariffResponse, 0, len(tariffs))
	for _, t := range tariffs {
		item := tariffResponse{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Calories:    t.Calories,
			BasePrice:   t.BasePrice,
		}
		if t.Features != nil {
			_ = json.Unmarshal([]byte(*t.Features), &item.Features)
		}
		response = append(response, item)
	}

	writeJSON(w, http.StatusOK, response)
}

type createIntentRequest struct {
	Email    string    `json:"email"`
	TariffID uuid.UUID `json:"tariffId"`
}

type createIntentResponse struct {
	PaymentID    uuid.UUID `json:"paymentId"`
	ClientSecret string    `json:"clientSecret"`
	Amount       int       `json:"amount"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
}

func (h *Handler) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.TariffID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entity, clientSecret, err := h.payments.CreateIntent(r.Context(), req.Email, req.TariffID)
	if err != nil {
		h.writeMappedError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createIntentResponse{
		PaymentID:    entity.ID,
		ClientSecret: clientSecret,
		Amount:       entity.Amount,
		Currency:     entity.Currency,
		Status:       entity.Status,
	})
}

type paymentStatusResponse struct {
	PaymentID        uuid.UUID  `json:"paymentId"`
	ProviderIntentID string     `json:"providerIntentId"`
	UserID           uuid.UUID  `json:"userId"`
	TariffID         *uuid.UUID `json:"tariffId"`
	Amount           int        `json:"amount"`
	Currency         string     `json:"currency"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (h *Handler) getPaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment id")
		return
	}

	entity, err := h.payments.GetPayment(r.Context(), id)
	if err != nil {
		h.writeMappedError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, paymentStatusResponse{
		PaymentID:        entity.ID,
		ProviderIntentID: entity.ProviderIntentID,
		UserID:           entity.UserID,
		TariffID:         entity.TariffID,
		Amount:           entity.Amount,
		Currency:         entity.Currency,
		Status:           entity.Status,
		CreatedAt:        entity.CreatedAt,
		UpdatedAt:        entity.UpdatedAt,
	})
}

func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	err = h.payments.ProcessWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.writeMappedError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) downloadFile(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	file, err := h.gate.Redeem(r.Context(), token)
	if err != nil {
		h.writeMappedError(r.Context(), w, err)
		return
	}

	f, err := os.Open(filepath.Join(h.uploadDir, file.FilePath))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Error opening file for download", "fileId", file.ID, "error", err)
		writeError(w, http.StatusNotFound, "file not available")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	if _, err := io.Copy(w, f); err != nil {
		h.logger.ErrorContext(r.Context(), "Error streaming file", "fileId", file.ID, "error", err)
	}
}

func (h *Handler) writeMappedError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verify.ErrCodeInvalid),
		errors.Is(err, verify.ErrCodeExpired),
		errors.Is(err, processor.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrUserNotVerified):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, payment.ErrTariffNotFound),
		errors.Is(err, payment.ErrPaymentNotFound),
		errors.Is(err, download.ErrLinkNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, download.ErrLinkExhausted):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, verify.ErrAlreadyVerified):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, verify.ErrRateLimited),
		errors.Is(err, verify.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		h.logger.ErrorContext(ctx, "Internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
