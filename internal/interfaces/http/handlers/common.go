// Package handlers implements the citeresolve REST endpoints.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
	"github.com/turtacn/citeresolve/pkg/types/common"
)

// maxBodyBytes bounds a request body.
const maxBodyBytes = 8 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeData wraps data in the success envelope.
func writeData[T any](w http.ResponseWriter, r *http.Request, statusCode int, data T) {
	resp := common.NewSuccessResponse(data)
	resp.RequestID = logging.RequestIDFromContext(r.Context())
	writeJSON(w, statusCode, resp)
}

// writeAppError maps err to its HTTP status through the error code table.
// 5xx messages are masked.
func writeAppError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error) {
	code := errors.GetCode(err)
	status := errors.HTTPStatusForCode(code)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.WithContext(r.Context()).Error("request failed", logging.String(logging.FieldErrorCode, string(code)), logging.Err(err))
		msg = errors.DefaultMessageForCode(code)
	}
	resp := common.NewErrorResponse(string(code), msg)
	resp.RequestID = logging.RequestIDFromContext(r.Context())
	writeJSON(w, status, resp)
}

// decodeJSON reads one JSON document from the body. Malformed input is a
// validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return errors.NewValidationError("body", "request body is empty")
		}
		return errors.Wrap(err, errors.ErrCodeValidation, "invalid JSON body")
	}
	return nil
}
