// Package httputil holds the JSON response envelope shared by handlers and
// middleware, plus a small client for the service's own API.
package httputil

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/atproject/projectone/internal/errors"
)

// MaxBodyBytes bounds request bodies accepted by DecodeJSON.
const MaxBodyBytes = 1 << 20

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine code, message and optional details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON renders v with the given status. A nil v writes only the status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	if v == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as an error envelope and returns the ServiceError
// that was written. Errors outside the ServiceError chain become INTERNAL
// and their text is not exposed.
func WriteError(w http.ResponseWriter, err error) *errors.ServiceError {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("", err)
	}
	message := se.Message
	details := se.Details
	if se.HTTPStatus >= http.StatusInternalServerError {
		details = nil
	}
	WriteJSON(w, se.HTTPStatus, ErrorBody{Error: ErrorDetail{
		Code:    string(se.Code),
		Message: message,
		Details: details,
	}})
	return se
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields,
// trailing data and bodies over MaxBodyBytes.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return errors.BadRequest("content type must be application/json")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case stderrors.Is(err, io.EOF):
			return errors.InvalidJSON(stderrors.New("request body is empty"))
		case stderrors.As(err, &tooLarge):
			return errors.InvalidJSON(fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit))
		default:
			return errors.InvalidJSON(err)
		}
	}
	if dec.More() {
		return errors.InvalidJSON(stderrors.New("request body must contain a single JSON value"))
	}
	return nil
}

// ReadAllWithLimit reads at most limit bytes and reports whether more were
// available.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		return nil, false, fmt.Errorf("invalid read limit %d", limit)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}
