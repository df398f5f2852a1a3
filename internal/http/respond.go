package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/timomeintjes-cmd/oreus-api/internal/repository"
	"github.com/timomeintjes-cmd/oreus-api/internal/service/ai"
	"github.com/timomeintjes-cmd/oreus-api/internal/service/deploy"
	"github.com/timomeintjes-cmd/oreus-api/internal/service/devserver"
	"github.com/timomeintjes-cmd/oreus-api/internal/service/project"
	"github.com/timomeintjes-cmd/oreus-api/internal/supervisor"
	"github.com/timomeintjes-cmd/oreus-api/internal/template"
	"github.com/timomeintjes-cmd/oreus-api/internal/workspace"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service sentinels onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, workspace.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, template.ErrUnknown):
		writeError(w, http.StatusBadRequest, "unsupported template")
	case errors.Is(err, project.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workspace.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, "invalid path")
	case errors.Is(err, workspace.ErrConflict), errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, devserver.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "dev server already running")
	case errors.Is(err, devserver.ErrNotRunning):
		writeError(w, http.StatusConflict, "dev server not running")
	case errors.Is(err, devserver.ErrNoPorts):
		writeError(w, http.StatusServiceUnavailable, "no dev server ports available")
	case errors.Is(err, supervisor.ErrLaunch):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, deploy.ErrStaleTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, deploy.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ai.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, "unsupported AI provider")
	case errors.Is(err, ai.ErrProviderNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
