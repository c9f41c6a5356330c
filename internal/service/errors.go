package service

import "errors"

// Sentinel errors whose messages are the stable caller-visible codes.
// Guard rejections never create a session; session-state rejections map each
// to a distinct code so clients can render precise UI guidance.
var (
	ErrBadRequest      = errors.New("bad_request")
	ErrBadIdentifier   = errors.New("bad_identifier")
	ErrNoRecaptcha     = errors.New("no_recaptcha")
	ErrBotDetected     = errors.New("bot_detected")
	ErrTooFast         = errors.New("too_fast")
	ErrRecaptchaFailed = errors.New("recaptcha_failed")
	ErrStartFailed     = errors.New("start_failed")

	ErrInvalidSession  = errors.New("invalid_session")
	ErrExpired         = errors.New("expired")
	ErrNotVerified     = errors.New("not_verified")
	ErrAlreadyUsed     = errors.New("already_used")
	ErrWrongScope      = errors.New("wrong_scope")
	ErrTooManyAttempts = errors.New("too_many_attempts")
	ErrInvalidOTP      = errors.New("invalid_otp")

	ErrSubmitFailed = errors.New("submit_failed")
)
