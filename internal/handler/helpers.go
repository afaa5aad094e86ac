package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	Action    string `json:"action,omitempty"`
	Available string `json:"available,omitempty"`
	Required  string `json:"required,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a JSON body into dst and validates it. Failures come back as
// *domain.ErrValidation naming the first offending field.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "invalid request body"}
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &domain.ErrValidation{Field: "body", Message: err.Error()}
	}
	fe := verrs[0]
	return &domain.ErrValidation{Field: fieldPath(fe.Namespace()), Message: validationMessage(fe)}
}

// fieldPath drops the struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "gt":
		return "must be greater than " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " long"
	case "min":
		return "must be at least " + fe.Param() + " long"
	case "numeric":
		return "must be a number"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

func pathInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ErrValidation{Field: name, Message: "must be a positive integer"}
	}
	return id, nil
}

// idempotencyKey prefers the Idempotency-Key header over the body field.
func idempotencyKey(r *http.Request, fromBody string) string {
	if h := strings.TrimSpace(r.Header.Get("Idempotency-Key")); h != "" {
		return h
	}
	return fromBody
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var validation *domain.ErrValidation
	var insufficientFunds *domain.ErrInsufficientFunds
	var provider *domain.ErrProvider
	var external *domain.ErrExternalService
	var partial *domain.ErrPartialFailure
	var cancelNotAllowed *domain.ErrCancelNotAllowed
	var duplicate *domain.ErrDuplicate
	var forbidden *domain.ErrForbidden
	var unauthorized *domain.ErrUnauthorized
	var conflict *domain.ErrConflict

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: validation.Field + " " + validation.Message,
			Code:  "validation",
			Field: validation.Field,
		})
	case errors.As(err, &insufficientFunds):
		logger.Warn("insufficient funds",
			zap.String("available", insufficientFunds.Available.StringFixed(2)),
			zap.String("required", insufficientFunds.Required.StringFixed(2)),
		)
		writeJSON(w, http.StatusPaymentRequired, errorResponse{
			Error:     "insufficient wallet balance",
			Code:      "insufficient_funds",
			Action:    "top_up",
			Available: insufficientFunds.Available.StringFixed(2),
			Required:  insufficientFunds.Required.StringFixed(2),
		})
	case errors.As(err, &provider):
		logger.Warn("provider rejected request", zap.String("code", provider.Code), zap.String("message", provider.Message))
		msg := provider.Message
		if msg == "" {
			msg = provider.Error()
		}
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: msg, Code: "provider_error"})
	case errors.As(err, &partial):
		logger.Error("partial failure", zap.String("stage", partial.Stage), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "the provider accepted the request but it could not be fully recorded; it will be reconciled",
			Code:  "partial_failure",
		})
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.String("service", external.Service), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: external.Service + " is unavailable", Code: "external_service"})
	case errors.As(err, &cancelNotAllowed):
		logger.Debug("cancel not allowed", zap.String("error", err.Error()))
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "cancel_not_allowed"})
	case errors.As(err, &duplicate):
		logger.Debug("duplicate request", zap.String("error", err.Error()))
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "duplicate"})
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "conflict"})
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
