package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/snarg/tankwatch/internal/fault"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ActionResponse is the body every mutating endpoint returns.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ActionResponse{Success: false, Error: msg})
}

// WriteSuccess writes the standard mutating-endpoint success body.
func WriteSuccess(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusOK, ActionResponse{Success: true, Message: msg})
}

// WriteFault maps an error to the HTTP status its kind implies.
func WriteFault(w http.ResponseWriter, err error) {
	WriteError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	switch fault.KindOf(err) {
	case fault.Validation:
		return http.StatusBadRequest
	case fault.Capacity:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fault.New(fault.Validation, "missing request body")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return mbe
		}
		return fault.Wrap(fault.Validation, err, "decode request body")
	}
	return nil
}

// checkPin gates mutating endpoints. A server with no PIN configured
// refuses all writes.
func (s *Server) checkPin(w http.ResponseWriter, pin string) bool {
	if !s.settings.PinConfigured() {
		WriteError(w, http.StatusForbidden, "no admin PIN configured")
		return false
	}
	if !s.settings.VerifyPin(pin) {
		WriteError(w, http.StatusForbidden, "invalid PIN")
		return false
	}
	return true
}

// QueryInt extracts an integer query parameter. Returns 0, false if
// missing or invalid.
func QueryInt(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// QueryFloat extracts a float query parameter.
func QueryFloat(r *http.Request, name string) (float64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// QueryString extracts a non-empty string query parameter.
func QueryString(r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", false
	}
	return v, true
}
