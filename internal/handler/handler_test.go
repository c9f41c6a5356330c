package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"verify-service/internal/audit"
	"verify-service/internal/channel"
	"verify-service/internal/config"
	"verify-service/internal/handler"
	"verify-service/internal/model"
	"verify-service/internal/service"
	"verify-service/internal/store"
	"verify-service/internal/util"
)

// ---- in-memory backends ----

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	tryCap   int
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*model.Session), tryCap: 5}
}

func (s *memStore) Create(ctx context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *memStore) VerifyAndBump(ctx context.Context, id, code string) (model.AttemptOutcome, model.Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return model.AttemptInvalidSession, "", nil
	}
	return sess.ApplyAttempt(code, time.Now(), s.tryCap), sess.Scope, nil
}

func (s *memStore) MarkUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok && !sess.Used {
		sess.Used = true
		sess.UsedAt = time.Now().Unix()
	}
	return nil
}

func (s *memStore) SetChannelUsed(ctx context.Context, id string, ch model.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.ChannelUsed = ch
	}
	return nil
}

type memLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (l *memLimiter) Bump(ctx context.Context, key string, window time.Duration, max int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	if l.counts[key] > max {
		return store.ErrRateLimited
	}
	return nil
}

type okCaptcha struct{}

func (okCaptcha) Verify(ctx context.Context, token, remoteIP string) error { return nil }

type memDispatcher struct {
	mu    sync.Mutex
	codes []string
}

func (d *memDispatcher) Dispatch(ctx context.Context, identifier, code string, pref channel.Pref) (model.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codes = append(d.codes, code)
	return model.ChannelEmail, nil
}

func (d *memDispatcher) lastCode() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.codes[len(d.codes)-1]
}

type memSink struct {
	mu          sync.Mutex
	submissions []string
}

func (s *memSink) Submit(ctx context.Context, scope model.Scope, kind string, payload map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions = append(s.submissions, kind)
	return nil
}

// ---- harness ----

type api struct {
	router     http.Handler
	svc        *service.VerifyService
	dispatcher *memDispatcher
	sink       *memSink
}

func newAPI() *api {
	cfg := &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"https://*"}},
		OTP: config.OTPConfig{
			TTL:             10 * time.Minute,
			TryCap:          5,
			MinElapsed:      1200 * time.Millisecond,
			DispatchTimeout: time.Second,
		},
		RateLimit: config.RateLimitConfig{
			Window:           time.Minute,
			MaxPerIP:         5,
			MaxPerIdentifier: 3,
		},
	}

	dispatcher := &memDispatcher{}
	sink := &memSink{}
	svc := service.NewVerifyService(
		cfg, newMemStore(), &memLimiter{counts: make(map[string]int)},
		dispatcher, okCaptcha{},
		audit.NewPublisher(nil, "otp.security-events"), sink,
	)

	verifyHandler := handler.NewVerifyHandler(svc, util.Get())
	submitHandler := handler.NewSubmitHandler(svc, util.Get())
	return &api{
		router:     handler.NewRouter(verifyHandler, submitHandler, cfg, util.Get()),
		svc:        svc,
		dispatcher: dispatcher,
		sink:       sink,
	}
}

func (a *api) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec.Code, decoded
}

func startBody(identifier string) map[string]any {
	return map[string]any{
		"identifier":     identifier,
		"scope":          "contact",
		"recaptchaToken": "tok",
		"startedAt":      time.Now().Add(-2 * time.Second).UnixMilli(),
	}
}

// start runs the full start flow and returns the session id and the
// dispatched code.
func (a *api) start(t *testing.T, identifier string) (string, string) {
	t.Helper()
	status, body := a.post(t, "/api/verify/start", startBody(identifier))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["queued"])
	require.NotEmpty(t, body["sessionId"])
	a.svc.Drain()
	return body["sessionId"].(string), a.dispatcher.lastCode()
}

// ---- tests ----

func TestVerifyStart(t *testing.T) {
	t.Run("valid request returns a queued session", func(t *testing.T) {
		a := newAPI()
		id, code := a.start(t, "user@example.com")
		require.NotEmpty(t, id)
		require.Regexp(t, `^[0-9]{6}$`, code)
	})

	t.Run("malformed body is a bad request", func(t *testing.T) {
		a := newAPI()
		req := httptest.NewRequest(http.MethodPost, "/api/verify/start", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "bad_request")
	})

	t.Run("honeypot rejection", func(t *testing.T) {
		a := newAPI()
		body := startBody("user@example.com")
		body["honeypot"] = "gotcha"
		status, resp := a.post(t, "/api/verify/start", body)
		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, "bot_detected", resp["error"])
	})

	t.Run("per-identifier ceiling maps to 429", func(t *testing.T) {
		a := newAPI()
		for i := 0; i < 3; i++ {
			status, _ := a.post(t, "/api/verify/start", startBody("user@example.com"))
			require.Equal(t, http.StatusOK, status)
		}
		status, resp := a.post(t, "/api/verify/start", startBody("user@example.com"))
		require.Equal(t, http.StatusTooManyRequests, status)
		require.Equal(t, "RATE_LIMITED", resp["error"])
		a.svc.Drain()
	})
}

func TestVerifyCheck(t *testing.T) {
	a := newAPI()
	id, code := a.start(t, "user@example.com")

	t.Run("missing fields are a bad request", func(t *testing.T) {
		status, resp := a.post(t, "/api/verify/check", map[string]any{"sessionId": id})
		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, "bad_request", resp["error"])
	})

	t.Run("wrong code", func(t *testing.T) {
		wrong := "000000"
		if wrong == code {
			wrong = "000001"
		}
		status, resp := a.post(t, "/api/verify/check", map[string]any{"sessionId": id, "code": wrong})
		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, "invalid_otp", resp["error"])
	})

	t.Run("correct code verifies", func(t *testing.T) {
		status, resp := a.post(t, "/api/verify/check", map[string]any{"sessionId": id, "code": code})
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, true, resp["verified"])
		require.Equal(t, "contact", resp["scope"])
	})

	t.Run("unknown session", func(t *testing.T) {
		status, resp := a.post(t, "/api/verify/check", map[string]any{"sessionId": "nope", "code": code})
		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, "invalid_session", resp["error"])
	})
}

func TestSubmitContact(t *testing.T) {
	a := newAPI()
	id, code := a.start(t, "user@example.com")
	status, _ := a.post(t, "/api/verify/check", map[string]any{"sessionId": id, "code": code})
	require.Equal(t, http.StatusOK, status)

	submit := map[string]any{"sessionId": id, "name": "A", "message": "hello"}

	t.Run("verified session submits once", func(t *testing.T) {
		status, resp := a.post(t, "/api/submit/contact", submit)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, true, resp["ok"])
		require.Equal(t, []string{"contact"}, a.sink.submissions)
	})

	t.Run("second submit is rejected", func(t *testing.T) {
		status, resp := a.post(t, "/api/submit/contact", submit)
		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, "already_used", resp["error"])
	})
}

func TestSubmitScopeMismatch(t *testing.T) {
	a := newAPI()

	// Session is bound to contact; the comment endpoint expects blog-comment.
	id, code := a.start(t, "user@example.com")
	status, _ := a.post(t, "/api/verify/check", map[string]any{"sessionId": id, "code": code})
	require.Equal(t, http.StatusOK, status)

	status, resp := a.post(t, "/api/submit/comment", map[string]any{
		"sessionId": id, "name": "A", "comment": "nice", "postSlug": "post-1",
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "wrong_scope", resp["error"])
	require.Empty(t, a.sink.submissions)
}

func TestSubmitUnverified(t *testing.T) {
	a := newAPI()
	id, _ := a.start(t, "user@example.com")

	status, resp := a.post(t, "/api/submit/contact", map[string]any{
		"sessionId": id, "name": "A", "message": "hello",
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "not_verified", resp["error"])
}

func TestSubmitReviewValidation(t *testing.T) {
	a := newAPI()

	for _, rating := range []int{0, 6} {
		status, resp := a.post(t, "/api/submit/review", map[string]any{
			"sessionId": "sess", "name": "A", "doctorSlug": "dr-x", "rating": rating,
		})
		require.Equal(t, http.StatusBadRequest, status, fmt.Sprintf("rating %d", rating))
		require.Equal(t, "bad_request", resp["error"])
	}
}

func TestRouterBasics(t *testing.T) {
	a := newAPI()

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "healthy")
	})

	t.Run("unknown route", func(t *testing.T) {
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/verify/start", nil))
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
