package api

import (
	"errors"
	"net/http"

	"github.com/lotwatch/lotwatch/internal/store"
)

func writeInvalidArgument(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", message)
}

// writeStoreError maps store errors to HTTP response codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	case errors.Is(err, store.ErrNotFound):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, store.ErrConflict):
		WriteError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, store.ErrForbidden):
		WriteError(w, http.StatusForbidden, "FORBIDDEN", "not the owner of this resource")
	case errors.Is(err, store.ErrPastDate):
		WriteError(w, http.StatusUnprocessableEntity, "PAST_DATE", "target date is in the past")
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
