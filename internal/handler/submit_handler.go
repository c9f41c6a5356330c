package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"verify-service/internal/model"
	"verify-service/internal/service"
	"verify-service/internal/util"
)

// SubmitHandler exposes the scope-bound consumer endpoints. Every endpoint
// follows the same sequence: validate the action fields, consume the session
// under the expected scope, perform the write.
type SubmitHandler struct {
	svc    *service.VerifyService
	logger *zap.Logger
}

func NewSubmitHandler(svc *service.VerifyService, logger *zap.Logger) *SubmitHandler {
	return &SubmitHandler{svc: svc, logger: logger}
}

func (h *SubmitHandler) RegisterRoutes(router chi.Router) {
	router.Route("/submit", func(r chi.Router) {
		r.Post("/comment", h.SubmitComment)
		r.Post("/review", h.SubmitReview)
		r.Post("/career", h.SubmitCareer)
		r.Post("/contact", h.SubmitContact)
	})
}

type okResponse struct {
	OK bool `json:"ok"`
}

type commentRequest struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Comment   string `json:"comment"`
	PostSlug  string `json:"postSlug"`
}

// SubmitComment handles POST /api/submit/comment (scope blog-comment).
func (h *SubmitHandler) SubmitComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.SessionID == "" || req.Name == "" || req.Comment == "" || req.PostSlug == "" {
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: service.ErrBadRequest.Error()})
		return
	}

	err := h.svc.Consume(r.Context(), req.SessionID, model.ScopeBlogComment, "comment", map[string]string{
		"name":      req.Name,
		"comment":   req.Comment,
		"post_slug": req.PostSlug,
	})
	if err != nil {
		respondWithError(w, err, service.ErrSubmitFailed.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, okResponse{OK: true})
	h.logger.Info("Comment submitted",
		util.String("session_id", req.SessionID),
		util.String("post_slug", req.PostSlug),
	)
}

type reviewRequest struct {
	SessionID  string `json:"sessionId"`
	Name       string `json:"name"`
	DoctorSlug string `json:"doctorSlug"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
}

// SubmitReview handles POST /api/submit/review (scope review).
func (h *SubmitHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.SessionID == "" || req.Name == "" || req.DoctorSlug == "" ||
		req.Rating < 1 || req.Rating > 5 {
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: service.ErrBadRequest.Error()})
		return
	}

	err := h.svc.Consume(r.Context(), req.SessionID, model.ScopeReview, "review", map[string]string{
		"name":        req.Name,
		"doctor_slug": req.DoctorSlug,
		"rating":      strconv.Itoa(req.Rating),
		"comment":     req.Comment,
	})
	if err != nil {
		respondWithError(w, err, service.ErrSubmitFailed.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, okResponse{OK: true})
	h.logger.Info("Review submitted",
		util.String("session_id", req.SessionID),
		util.String("doctor_slug", req.DoctorSlug),
		util.Int("rating", req.Rating),
	)
}

type careerRequest struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	ResumeURL string `json:"resumeUrl"`
	Message   string `json:"message"`
}

// SubmitCareer handles POST /api/submit/career (scope careers).
func (h *SubmitHandler) SubmitCareer(w http.ResponseWriter, r *http.Request) {
	var req careerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.SessionID == "" || req.Name == "" || req.Role == "" {
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: service.ErrBadRequest.Error()})
		return
	}

	err := h.svc.Consume(r.Context(), req.SessionID, model.ScopeCareers, "career-application", map[string]string{
		"name":       req.Name,
		"role":       req.Role,
		"resume_url": req.ResumeURL,
		"message":    req.Message,
	})
	if err != nil {
		respondWithError(w, err, service.ErrSubmitFailed.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, okResponse{OK: true})
	h.logger.Info("Career application submitted",
		util.String("session_id", req.SessionID),
		util.String("role", req.Role),
	)
}

type contactRequest struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Message   string `json:"message"`
}

// SubmitContact handles POST /api/submit/contact (scope contact).
func (h *SubmitHandler) SubmitContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.SessionID == "" || req.Name == "" || req.Message == "" {
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: service.ErrBadRequest.Error()})
		return
	}

	err := h.svc.Consume(r.Context(), req.SessionID, model.ScopeContact, "contact", map[string]string{
		"name":    req.Name,
		"message": req.Message,
	})
	if err != nil {
		respondWithError(w, err, service.ErrSubmitFailed.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, okResponse{OK: true})
	h.logger.Info("Contact message submitted",
		util.String("session_id", req.SessionID),
	)
}
