package api

import (
	"encoding/json"
	"errors"
	"net/http"

	ca "github.com/panyam/creatorauth"
)

type errorResponse struct {
	Error string       `json:"error"`
	Kind  ca.ErrorKind `json:"kind"`
	Code  string       `json:"code,omitempty"`
	Field string       `json:"field,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind ca.ErrorKind) int {
	switch kind {
	case ca.KindNotFound:
		return http.StatusNotFound
	case ca.KindConflict, ca.KindPreconditionFailed:
		return http.StatusConflict
	case ca.KindExpired:
		return http.StatusGone
	case ca.KindInvalidCredential, ca.KindUnauthorized:
		return http.StatusUnauthorized
	case ca.KindValidation:
		return http.StatusBadRequest
	case ca.KindForbidden:
		return http.StatusForbidden
	case ca.KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// StatusOf is StatusFor with internal failures reported as 500.
func StatusOf(e *ca.Error) int {
	if e.IsInternal() {
		return http.StatusInternalServerError
	}
	return StatusFor(e.Kind)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := ca.AsError(err)
	status := StatusOf(e)
	if status >= 500 {
		s.logger().Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", e.Kind, "code", e.Code, "error", err)
	}
	msg := e.Message
	if e.Kind == ca.KindUpstream && e.Code == ca.ErrCodeUpstream {
		msg = "upstream service failed"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: e.Kind, Code: e.Code, Field: e.Field})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON request body into v
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		var syntaxErr *json.SyntaxError
		msg := "request body must be valid JSON"
		if errors.As(err, &syntaxErr) {
			msg = "malformed JSON in request body"
		}
		return ca.ValidationError(ca.ErrCodeInvalidRequest, "", msg).Wrap(err)
	}
	return nil
}
