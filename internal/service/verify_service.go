package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"verify-service/internal/audit"
	"verify-service/internal/captcha"
	"verify-service/internal/channel"
	"verify-service/internal/config"
	"verify-service/internal/model"
	"verify-service/internal/store"
	"verify-service/internal/util"
)

// SessionStore is the session persistence contract. *store.SessionStore is
// the Redis-backed implementation.
type SessionStore interface {
	Create(ctx context.Context, sess *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	VerifyAndBump(ctx context.Context, id, code string) (model.AttemptOutcome, model.Scope, error)
	MarkUsed(ctx context.Context, id string) error
	SetChannelUsed(ctx context.Context, id string, ch model.Channel) error
}

// RateLimiter bounds request rates per caller-chosen key.
type RateLimiter interface {
	Bump(ctx context.Context, key string, window time.Duration, max int) error
}

// Dispatcher delivers a code through the channel policy.
type Dispatcher interface {
	Dispatch(ctx context.Context, identifier, code string, pref channel.Pref) (model.Channel, error)
}

// VerifyService orchestrates the OTP verification core: guarded session
// creation, out-of-band dispatch, code checks, and scope-bound consumption.
type VerifyService struct {
	store      SessionStore
	limiter    RateLimiter
	dispatcher Dispatcher
	captcha    captcha.Verifier
	events     *audit.Publisher
	sink       SubmissionSink

	otpTTL          time.Duration
	minElapsed      time.Duration
	rateWindow      time.Duration
	maxPerIP        int
	maxPerID        int
	dispatchTimeout time.Duration

	dispatches sync.WaitGroup
}

func NewVerifyService(
	cfg *config.Config,
	sessions SessionStore,
	limiter RateLimiter,
	dispatcher Dispatcher,
	verifier captcha.Verifier,
	events *audit.Publisher,
	sink SubmissionSink,
) *VerifyService {
	return &VerifyService{
		store:           sessions,
		limiter:         limiter,
		dispatcher:      dispatcher,
		captcha:         verifier,
		events:          events,
		sink:            sink,
		otpTTL:          cfg.OTP.TTL,
		minElapsed:      cfg.OTP.MinElapsed,
		rateWindow:      cfg.RateLimit.Window,
		maxPerIP:        cfg.RateLimit.MaxPerIP,
		maxPerID:        cfg.RateLimit.MaxPerIdentifier,
		dispatchTimeout: cfg.OTP.DispatchTimeout,
	}
}

// StartRequest carries the verify-start inputs after HTTP decoding.
type StartRequest struct {
	Identifier     string
	Channel        string
	Scope          string
	RecaptchaToken string
	Honeypot       string
	StartedAt      int64 // client-supplied unix millis, 0 when absent
	IP             string
}

// Start runs the guard pipeline, creates a session, and queues the OTP for
// out-of-band dispatch. Returns the session id the client presents for the
// rest of the flow. Guard failures never create a session.
func (s *VerifyService) Start(ctx context.Context, req *StartRequest) (string, error) {
	if req.Honeypot != "" {
		s.events.Emit(ctx, audit.Event{Type: audit.EventBotDetected, IP: req.IP})
		return "", ErrBotDetected
	}
	if req.RecaptchaToken == "" {
		return "", ErrNoRecaptcha
	}
	if req.StartedAt > 0 && time.Since(time.UnixMilli(req.StartedAt)) < s.minElapsed {
		return "", ErrTooFast
	}

	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || (!channel.IsEmail(identifier) && !channel.IsPhone(identifier)) {
		return "", ErrBadIdentifier
	}
	pref, err := channel.ParsePref(req.Channel)
	if err != nil {
		return "", ErrBadRequest
	}
	scope, err := model.ParseScope(req.Scope)
	if err != nil {
		return "", ErrBadRequest
	}

	// CAPTCHA and both rate-limit ceilings are independent; run them
	// concurrently and fail fast on the first rejection.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.captcha.Verify(gctx, req.RecaptchaToken, req.IP); err != nil {
			if errors.Is(err, captcha.ErrFailed) {
				return ErrRecaptchaFailed
			}
			return fmt.Errorf("captcha verification: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.limiter.Bump(gctx, "ip:"+req.IP, s.rateWindow, s.maxPerIP)
	})
	g.Go(func() error {
		return s.limiter.Bump(gctx, "id:"+identifier, s.rateWindow, s.maxPerID)
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, store.ErrRateLimited) {
			s.events.Emit(ctx, audit.Event{Type: audit.EventRateLimited, IP: req.IP})
		}
		return "", err
	}

	code, err := model.GenerateCode()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	now := time.Now()
	sess := &model.Session{
		ID:         uuid.NewString(),
		Identifier: identifier,
		Scope:      scope,
		OTPHash:    model.HashCode(code),
		ExpiresAt:  now.Add(s.otpTTL).Unix(),
		IP:         req.IP,
		CreatedAt:  now.Unix(),
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	s.events.Emit(ctx, audit.Event{
		Type:      audit.EventOTPStarted,
		SessionID: sess.ID,
		Scope:     string(scope),
		IP:        req.IP,
	})

	// Fire-and-forget: the response does not wait on delivery. Failures
	// surface through logs and the audit stream only.
	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()
		s.dispatch(sess.ID, identifier, code, pref)
	}()

	return sess.ID, nil
}

func (s *VerifyService) dispatch(sessionID, identifier, code string, pref channel.Pref) {
	ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
	defer cancel()

	ch, err := s.dispatcher.Dispatch(ctx, identifier, code, pref)
	if err != nil {
		util.Error("OTP delivery failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		s.events.Emit(ctx, audit.Event{
			Type:      audit.EventDeliveryFailed,
			SessionID: sessionID,
			Detail:    err.Error(),
		})
		return
	}

	if err := s.store.SetChannelUsed(ctx, sessionID, ch); err != nil {
		util.Warn("Failed to record delivery channel",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	s.events.Emit(ctx, audit.Event{
		Type:      audit.EventOTPDispatched,
		SessionID: sessionID,
		Channel:   string(ch),
	})
}

// Drain waits for in-flight dispatch goroutines; called on shutdown.
func (s *VerifyService) Drain() {
	s.dispatches.Wait()
}

// Check applies one code-verification attempt against the session and
// returns its scope on success.
func (s *VerifyService) Check(ctx context.Context, sessionID, code string) (model.Scope, error) {
	outcome, scope, err := s.store.VerifyAndBump(ctx, sessionID, code)
	if err != nil {
		return "", fmt.Errorf("verification attempt: %w", err)
	}

	switch outcome {
	case model.AttemptOK:
		s.events.Emit(ctx, audit.Event{
			Type:      audit.EventOTPVerified,
			SessionID: sessionID,
			Scope:     string(scope),
		})
		return scope, nil
	case model.AttemptInvalidSession:
		return "", ErrInvalidSession
	case model.AttemptExpired:
		return "", ErrExpired
	case model.AttemptAlreadyUsed:
		return "", ErrAlreadyUsed
	case model.AttemptTooManyAttempts:
		s.events.Emit(ctx, audit.Event{
			Type:      audit.EventOTPRejected,
			SessionID: sessionID,
			Detail:    string(outcome),
		})
		return "", ErrTooManyAttempts
	default:
		s.events.Emit(ctx, audit.Event{
			Type:      audit.EventOTPRejected,
			SessionID: sessionID,
			Detail:    string(outcome),
		})
		return "", ErrInvalidOTP
	}
}

// Consume validates a verified, unused, scope-matching session, marks it
// used, then performs the downstream write. The session stays used even if
// the write fails; retry requires a fresh OTP cycle.
func (s *VerifyService) Consume(ctx context.Context, sessionID string, scope model.Scope, kind string, payload map[string]string) error {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	if sess == nil {
		return ErrInvalidSession
	}
	if sess.Expired(time.Now()) {
		return ErrExpired
	}
	if !sess.Verified {
		return ErrNotVerified
	}
	if sess.Used {
		return ErrAlreadyUsed
	}
	if sess.Scope != scope {
		return ErrWrongScope
	}

	if err := s.store.MarkUsed(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	s.events.Emit(ctx, audit.Event{
		Type:      audit.EventSessionConsumed,
		SessionID: sessionID,
		Scope:     string(scope),
		IP:        sess.IP,
	})

	if err := s.sink.Submit(ctx, scope, kind, payload); err != nil {
		util.Error("Downstream submission failed",
			zap.String("session_id", sessionID),
			zap.String("scope", string(scope)),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	return nil
}
