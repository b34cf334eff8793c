package api

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camnode/internal/types"
)

// mapError maps domain errors to HTTP errors.
func mapError(err error) error {
	var domainErr *types.Error
	if !errors.As(err, &domainErr) {
		return huma.Error500InternalServerError("internal server error", err)
	}

	msg := domainErr.Error()
	switch domainErr.Code {
	case types.CodeDeviceNotFound:
		return huma.Error404NotFound(msg, err)
	case types.CodeDeviceUnavailable:
		return huma.Error409Conflict(msg, err)
	case types.CodeInvalidURI, types.CodeInvalidMode, types.CodeSizeMismatch, types.CodeUnsupportedSensor:
		return huma.Error400BadRequest(msg, err)
	case types.CodeNegotiationFailed:
		return huma.Error422UnprocessableEntity(msg, err)
	case types.CodeNotImplemented:
		return huma.Error501NotImplemented(msg, err)
	case types.CodeOutOfMemory:
		return huma.Error503ServiceUnavailable(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
