/**
 * @description
 * This file contains the HTTP handlers for the oracle's API endpoints.
 * Handlers parse incoming requests, call the application service, and map
 * service errors to HTTP status codes. They are the bridge between the web
 * layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 * - pkg/substrateclient: For chain-error classification.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paybridge/oracle-service/internal/app"
	"github.com/paybridge/oracle-service/internal/domain"
	"github.com/paybridge/oracle-service/internal/store"
	"github.com/paybridge/oracle-service/pkg/substrateclient"
)

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service *app.Service
}

// NewPaymentHandlers creates the handler set over the application service.
func NewPaymentHandlers(service *app.Service) *PaymentHandlers {
	return &PaymentHandlers{service: service}
}

// CreatePaymentHandler handles POST /api/payment/create.
func (h *PaymentHandlers) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.CreatePaymentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.service.CreatePayment(r.Context(), payload)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// VerifyPaymentHandler handles POST /api/payment/verify.
func (h *PaymentHandlers) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.VerifyPaymentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.service.VerifyPayment(r.Context(), payload)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetPaymentHandler handles GET /api/payment/{id}.
func (h *PaymentHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "payment id is required")
		return
	}

	resp, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// writeServiceError maps application errors onto HTTP statuses.
func (h *PaymentHandlers) writeServiceError(w http.ResponseWriter, err error) {
	var verr *app.VerificationError
	switch {
	case errors.Is(err, store.ErrPaymentNotFound):
		h.writeError(w, http.StatusNotFound, "payment not found")
	case errors.As(err, &verr):
		h.writeError(w, http.StatusBadRequest, verr.Reason)
	case errors.Is(err, app.ErrPaymentCompleted):
		h.writeError(w, http.StatusBadRequest, "payment already completed")
	case errors.Is(err, app.ErrPaymentExpired):
		h.writeError(w, http.StatusBadRequest, "payment expired")
	case errors.Is(err, app.ErrPaymentNotVerifiable):
		h.writeError(w, http.StatusBadRequest, "payment is not verifiable")
	case errors.Is(err, app.ErrVerificationInProgress):
		h.writeError(w, http.StatusConflict, "verification already in progress")
	case substrateclient.IsDispatchRejected(err):
		log.Printf("level=error component=api msg=\"target chain rejected call\" error=%q", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
	case substrateclient.IsConnectivity(err):
		log.Printf("level=error component=api msg=\"target chain unavailable\" error=%q", err)
		h.writeError(w, http.StatusServiceUnavailable, "target chain temporarily unavailable")
	default:
		log.Printf("level=error component=api msg=\"internal error\" error=%q", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
