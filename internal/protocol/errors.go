package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"voxelpilot.ai/internal/control"
	"voxelpilot.ai/internal/pathfind"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrUnauthorized    = "E_UNAUTHORIZED"

	// World-control layer.
	ErrBadRequest  = "E_BAD_REQUEST"
	ErrUnavailable = "E_UNAVAILABLE"
	ErrNotFound    = "E_NOT_FOUND"
	ErrNoRoute     = "E_NO_ROUTE"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrUnauthorized:    {},
	ErrBadRequest:      {},
	ErrUnavailable:     {},
	ErrNotFound:        {},
	ErrNoRoute:         {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// APIError is a non-success answer from the world API, over HTTP or WS.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap maps the code back onto the local sentinel so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case ErrBadRequest, ErrProtoBadRequest:
		return control.ErrRejected
	case ErrUnavailable:
		return control.ErrUnavailable
	case ErrNoRoute:
		return pathfind.ErrNoRoute
	default:
		return nil
	}
}

// CodeFor classifies a backend error for the wire.
func CodeFor(err error) string {
	var api *APIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &api) && IsKnownCode(api.Code):
		return api.Code
	case errors.Is(err, control.ErrRejected):
		return ErrBadRequest
	case errors.Is(err, control.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ErrUnavailable
	case errors.Is(err, pathfind.ErrNoRoute):
		return ErrNoRoute
	default:
		return ErrInternal
	}
}

func StatusFor(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case ErrBadRequest, ErrProtoBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrNoRoute:
		return http.StatusUnprocessableEntity
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
