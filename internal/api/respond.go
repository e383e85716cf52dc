package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dennisdiepolder/leaddesk/internal/auth"
	"github.com/dennisdiepolder/leaddesk/internal/cache"
	"github.com/dennisdiepolder/leaddesk/internal/distribution"
	"github.com/dennisdiepolder/leaddesk/internal/leads"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	statusOK    = "ok"
	statusNoop  = "noop"
	statusError = "error"

	maxBodyBytes = 8 << 20
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// envelope is the body of every API response
type envelope struct {
	Status string            `json:"status"`
	Notice string            `json:"notice,omitempty"`
	Error  string            `json:"error,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
	Result any               `json:"result,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeResult answers 200 with status ok, or noop when nothing was written
func writeResult(w http.ResponseWriter, noop bool, notice string, result any) {
	status := statusOK
	if noop {
		status = statusNoop
	}
	writeJSON(w, http.StatusOK, envelope{Status: status, Notice: notice, Result: result})
}

// bodyError is a request body that could not be decoded or failed validation
type bodyError struct {
	status int
	msg    string
	fields map[string]string
}

func (e *bodyError) Error() string { return e.msg }

// decodeBody decodes a JSON body into dst and validates its struct tags
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &bodyError{status: http.StatusBadRequest, msg: fmt.Sprintf("invalid request body: %v", err)}
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &bodyError{status: http.StatusBadRequest, msg: err.Error()}
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fieldPath(fe.Namespace())] = fe.Tag()
		}
		return &bodyError{status: http.StatusUnprocessableEntity, msg: "request validation failed", fields: fields}
	}
	return nil
}

// fieldPath drops the struct name from a validator namespace
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// writeError maps engine and request errors to status codes
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var (
		berr *bodyError
		verr *distribution.ValidationError
		perr *distribution.PersistenceError
		body = envelope{Status: statusError, Error: err.Error()}
		code int
	)

	switch {
	case errors.As(err, &berr):
		code = berr.status
		body.Fields = berr.fields
	case errors.Is(err, distribution.ErrActorUnresolved):
		code = http.StatusForbidden
	case errors.As(err, &verr), errors.Is(err, leads.ErrCourseRequired):
		code = http.StatusBadRequest
	case errors.Is(err, cache.ErrRunInProgress):
		code = http.StatusConflict
	case errors.As(err, &perr):
		code = http.StatusInternalServerError
		logger.Error().Err(err).
			Str("op", perr.Op).
			Int("batches_committed", perr.BatchesCommitted).
			Int("assigned", perr.Assigned).
			Msg("persistence failure")
		if perr.BatchesCommitted > 0 {
			body.Result = map[string]int{
				"batchesCommitted": perr.BatchesCommitted,
				"assigned":         perr.Assigned,
			}
		}
	default:
		code = http.StatusInternalServerError
		logger.Error().Err(err).Msg("request failed")
		body.Error = "internal error"
	}

	writeJSON(w, code, body)
}

// actorFrom builds the acting user from the authenticated claims
func actorFrom(r *http.Request) distribution.Actor {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		return distribution.Actor{}
	}
	return distribution.Actor{UserID: claims.Subject, Email: claims.Email}
}
