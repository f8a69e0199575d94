package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"qms/waitless-service/internal/auth"
	"qms/waitless-service/internal/store"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func mapError(err error) (int, string) {
	var validation auth.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Message
	case errors.Is(err, store.ErrInvalidQRCode):
		return http.StatusBadRequest, "invalid QR code data"
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, store.ErrEmailTaken):
		return http.StatusBadRequest, "user with this email already exists"
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusBadRequest, "user not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket not found"
	case errors.Is(err, store.ErrNoTicket):
		return http.StatusNotFound, "no tickets waiting in queue"
	case errors.Is(err, store.ErrDepartmentNotFound):
		return http.StatusNotFound, "department not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "ticket state does not allow this action"
	case errors.Is(err, store.ErrPositionTaken):
		return http.StatusConflict, "position already taken"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid token"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// respondError writes the mapped error and logs anything that surfaced as a
// 500 so the cause stays server-side.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("internal error method=%s path=%s err=%v", r.Method, r.URL.Path, err)
	}
	writeError(w, status, message)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Error: message})
}

func writeData(w http.ResponseWriter, status int, data interface{}, message string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}
