package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facereg/internal/fusion"
	"github.com/your-org/facereg/internal/registry"
	"github.com/your-org/facereg/internal/storage"
)

// writeError maps registry, fusion and storage errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}

	var illegal *registry.IllegalTransitionError
	switch {
	case errors.As(err, &illegal):
		status = http.StatusConflict
		body["current_state"] = illegal.Current
		body["allowed_states"] = illegal.Allowed
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, fusion.ErrUnknownFace):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrNothingToUndo),
		errors.Is(err, registry.ErrNotUndoable),
		errors.Is(err, registry.ErrMerged):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrValidation),
		errors.Is(err, fusion.ErrNoAnchors),
		errors.Is(err, fusion.ErrDimensionMismatch),
		errors.Is(err, fusion.ErrInvalidVariance),
		errors.Is(err, fusion.ErrInvalidWeight):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrLockTimeout):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, body)
}
