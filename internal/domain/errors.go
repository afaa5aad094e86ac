package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Error types for consistent error handling across the BFA.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrProvider carries an error reported by the eSIM provider itself.
// Message is the provider's own text and is surfaced to the caller verbatim.
type ErrProvider struct {
	Code    string
	Message string
}

func (e *ErrProvider) Error() string {
	if e.Message == "" {
		return "esim provider request failed"
	}
	if e.Code != "" {
		return fmt.Sprintf("esim provider error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("esim provider error: %s", e.Message)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrInsufficientFunds indicates the company wallet cannot cover the operation.
type ErrInsufficientFunds struct {
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient wallet balance: available=%s required=%s",
		e.Available.StringFixed(2), e.Required.StringFixed(2))
}

// ErrCancelNotAllowed is returned when an eSIM is in a status that cannot be cancelled.
type ErrCancelNotAllowed struct {
	EsimID int64
	Status EsimStatus
}

func (e *ErrCancelNotAllowed) Error() string {
	return fmt.Sprintf("esim %d cannot be cancelled in status %q", e.EsimID, e.Status)
}

// ErrPartialFailure marks a multi-step action that stopped after an external side effect
// already happened. Stage names the step that failed.
type ErrPartialFailure struct {
	Stage           string
	ProviderOrderID string
	Err             error
}

func (e *ErrPartialFailure) Error() string {
	return fmt.Sprintf("partial failure at %s (provider order %s): %v", e.Stage, e.ProviderOrderID, e.Err)
}

func (e *ErrPartialFailure) Unwrap() error {
	return e.Err
}

// ErrDuplicate indicates a duplicate operation (idempotency check).
type ErrDuplicate struct {
	Key string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("duplicate operation: %s", e.Key)
}

// ErrForbidden indicates the user lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict indicates the request conflicts with current state.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}
