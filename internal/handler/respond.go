package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"verify-service/internal/service"
	"verify-service/internal/store"
	"verify-service/internal/util"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// statusByError maps each stable error code to its HTTP status. Unmatched
// errors are internal and fall back to the endpoint's generic 500 code.
var statusByError = map[error]int{
	service.ErrBadRequest:      http.StatusBadRequest,
	service.ErrBadIdentifier:   http.StatusBadRequest,
	service.ErrNoRecaptcha:     http.StatusBadRequest,
	service.ErrBotDetected:     http.StatusBadRequest,
	service.ErrTooFast:         http.StatusBadRequest,
	service.ErrRecaptchaFailed: http.StatusBadRequest,
	service.ErrInvalidSession:  http.StatusBadRequest,
	service.ErrExpired:         http.StatusBadRequest,
	service.ErrNotVerified:     http.StatusBadRequest,
	service.ErrAlreadyUsed:     http.StatusBadRequest,
	service.ErrTooManyAttempts: http.StatusBadRequest,
	service.ErrInvalidOTP:      http.StatusBadRequest,
	service.ErrWrongScope:      http.StatusForbidden,
	store.ErrRateLimited:       http.StatusTooManyRequests,
}

func respondWithError(w http.ResponseWriter, err error, fallbackCode string) {
	for sentinel, status := range statusByError {
		if errors.Is(err, sentinel) {
			respondWithJSON(w, status, errorResponse{Error: sentinel.Error()})
			return
		}
	}

	util.Error("Request failed", util.ErrorField(err))
	respondWithJSON(w, http.StatusInternalServerError, errorResponse{Error: fallbackCode})
}
