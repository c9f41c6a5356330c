package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"verify-service/internal/service"
	"verify-service/internal/util"
)

// VerifyHandler exposes the OTP start and check endpoints.
type VerifyHandler struct {
	svc    *service.VerifyService
	logger *zap.Logger
}

func NewVerifyHandler(svc *service.VerifyService, logger *zap.Logger) *VerifyHandler {
	return &VerifyHandler{svc: svc, logger: logger}
}

func (h *VerifyHandler) RegisterRoutes(router chi.Router) {
	router.Route("/verify", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/check", h.Check)
	})
}

type startRequest struct {
	Identifier     string `json:"identifier"`
	Channel        string `json:"channel,omitempty"`
	Scope          string `json:"scope,omitempty"`
	RecaptchaToken string `json:"recaptchaToken"`
	Honeypot       string `json:"honeypot,omitempty"`
	StartedAt      int64  `json:"startedAt,omitempty"`
}

type startResponse struct {
	SessionID string `json:"sessionId"`
	Queued    bool   `json:"queued"`
}

// Start handles POST /api/verify/start.
func (h *VerifyHandler) Start(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: service.ErrBadRequest.Error()})
		return
	}

	sessionID, err := h.svc.Start(r.Context(), &service.StartRequest{
		Identifier:     req.Identifier,
		Channel:        req.Channel,
		Scope:          req.Scope,
		RecaptchaToken: req.RecaptchaToken,
		Honeypot:       req.Honeypot,
		StartedAt:      req.StartedAt,
		IP:             clientIP(r),
	})
	if err != nil {
		respondWithError(w, err, service.ErrStartFailed.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, startResponse{SessionID: sessionID, Queued: true})
	h.logger.Info("Verification started via HTTP",
		util.String("session_id", sessionID),
		util.Duration("duration", time.Since(startTime)),
	)
}

type checkRequest struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
}

type checkResponse struct {
	Verified bool   `json:"verified"`
	Scope    string `json:"scope"`
}

// Check handles POST /api/verify/check.
func (h *VerifyHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.Code == "" {
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: service.ErrBadRequest.Error()})
		return
	}

	scope, err := h.svc.Check(r.Context(), req.SessionID, req.Code)
	if err != nil {
		respondWithError(w, err, service.ErrStartFailed.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, checkResponse{Verified: true, Scope: string(scope)})
	h.logger.Info("Session verified via HTTP",
		util.String("session_id", req.SessionID),
		util.String("scope", string(scope)),
	)
}

// clientIP trusts middleware.RealIP to have rewritten RemoteAddr; strips the
// port when present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
