package api

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind is a machine readable error class carried in every error body.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindBadRequest       Kind = "bad_request"
	KindUnauthorized     Kind = "unauthorized"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindMethodNotAllowed Kind = "method_not_allowed"
	KindInternal         Kind = "internal"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(code int, kind Kind) *ApiError {
	return &ApiError{
		StatusCode: code,
		Kind:       kind,
		Message:    lower(http.StatusText(code)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest, KindBadRequest)
}

// NewValidationError is a 400 whose message explains which input was rejected.
func NewValidationError(msg string) *ApiError {
	e := newApiError(http.StatusBadRequest, KindValidation)
	e.Message = msg
	return e
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, KindNotFound)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError, KindInternal)
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized, KindUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden, KindForbidden)
}

func NewMethodNotAllowedError() *ApiError {
	return newApiError(http.StatusMethodNotAllowed, KindMethodNotAllowed)
}
