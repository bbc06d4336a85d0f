package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
)

// requestError is a malformed or incomplete request body.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// statusFor maps an error to its HTTP status and client-facing message.
func statusFor(err error) (int, string) {
	var re *requestError
	switch {
	case errors.As(err, &re):
		return http.StatusBadRequest, re.msg
	case eris.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized, "authentication required"
	case eris.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "access denied"
	case eris.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not found"
	case eris.Is(err, model.ErrConflict):
		return http.StatusConflict, "already in progress, retry shortly"
	}
	if kind, ok := resilience.KindOf(err); ok {
		switch kind {
		case resilience.KindRateLimited:
			return http.StatusTooManyRequests, "upstream rate limited, retry shortly"
		case resilience.KindQuotaExhausted:
			return http.StatusPaymentRequired, "upstream quota exhausted"
		}
	}
	return http.StatusInternalServerError, "internal error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	log := zap.L().With(zap.String("path", r.URL.Path), zap.Int("status", code))
	if code >= http.StatusInternalServerError {
		log.Error("api: request failed", zap.Error(err))
	} else {
		log.Info("api: request rejected", zap.String("reason", err.Error()))
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
