package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"mlserve/internal/manager"
	"mlserve/internal/remote"
	"mlserve/pkg/types"
)

// StatusForKind maps a manager error kind to an HTTP status code.
func StatusForKind(kind manager.ErrorKind) int {
	switch kind {
	case manager.KindUnknownModel:
		return http.StatusNotFound
	case manager.KindModelDisabled:
		return http.StatusConflict
	case manager.KindInsufficientMemory:
		return http.StatusInsufficientStorage
	case manager.KindLoadTimeout, manager.KindCanceled:
		return http.StatusGatewayTimeout
	case manager.KindCircuitOpen, manager.KindDependencyUnavailable, manager.KindClosed:
		return http.StatusServiceUnavailable
	case manager.KindRemoteInference:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := manager.KindOf(err)
	status := StatusForKind(kind)
	var open *remote.CircuitOpenError
	if errors.As(err, &open) {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(open.RetryAfter.Seconds()))))
	}
	ev := s.log.Warn()
	if status >= http.StatusInternalServerError {
		ev = s.log.Error()
	}
	ev.Err(err).Str("kind", string(kind)).Int("status", status).
		Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
	writeJSONError(w, status, string(kind), err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Kind: kind, Code: status})
}
