package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/highkick05/mailboy-sub000/internal/bridgeerr"
)

type apiErr struct {
	Error string `json:"error"`
}

// writeError maps an error to the status code §7's table names, logs it,
// and writes the JSON body. Grounded on hackclub-news's httpError, whose
// switch-on-errors.Is shape generalizes directly to bridgeerr's kinds.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ve *bridgeerr.ValidationError

	switch {
	case bridgeerr.IsFetchTimeout(err):
		status = http.StatusRequestTimeout
	case errors.Is(err, bridgeerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &ve), errors.Is(err, bridgeerr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, bridgeerr.ErrAuthRequired):
		status = http.StatusUnauthorized
	case errors.Is(err, bridgeerr.ErrRemoteOverloaded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, bridgeerr.ErrRemoteTransient):
		status = http.StatusBadGateway
	case errors.Is(err, bridgeerr.ErrBridgeOffline):
		status = http.StatusServiceUnavailable
	}

	s.log.Warn("request failed", zap.Int("status", status), zap.Error(err))
	writeJSONStatus(w, status, apiErr{Error: err.Error()})
}
