package httpdto

import (
	"errors"
	"net/http"

	relay_errors "relay-chat/pkg/errors"
)

type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{
		Success: true,
		Data:    data,
	}
}

func NewErrorResponse(err string, code string) Response[any] {
	return Response[any]{
		Success: false,
		Error:   err,
		Code:    code,
	}
}

// HTTPStatus maps sentinel errors onto response codes.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, relay_errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, relay_errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, relay_errors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, relay_errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, relay_errors.ErrAlreadyExists), errors.Is(err, relay_errors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, relay_errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, relay_errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
