package api

import (
	"errors"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/project"
	"github.com/xraph/rewind/quarantine"
)

// mapError converts rewind sentinel errors to Forge HTTP errors.
func mapError(err error) error {
	var verr *project.ValidationError
	switch {
	case errors.Is(err, rewind.ErrSessionNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, rewind.ErrEventNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, rewind.ErrProjectNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, rewind.ErrDefinitionNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, rewind.ErrQuarantineNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, rewind.ErrErrorGroupNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, rewind.ErrDefinitionDeprecated):
		return forge.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, catalog.ErrUndefined):
		return forge.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, quarantine.ErrReplayed):
		return forge.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, rewind.ErrPayloadValidationFailed):
		return forge.BadRequest(err.Error())
	case errors.Is(err, catalog.ErrInvalidDefinition):
		return forge.BadRequest(err.Error())
	case errors.As(err, &verr):
		return forge.BadRequest(err.Error())
	case errors.Is(err, rewind.ErrStoreClosed):
		return forge.InternalError(err)
	default:
		return forge.InternalError(err)
	}
}
