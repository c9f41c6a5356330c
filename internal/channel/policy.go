package channel

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"verify-service/internal/model"
	"verify-service/internal/util"
)

// Pref is the caller's channel preference. PrefAuto lets the policy pick an
// order biased by the identifier's apparent type; an explicit preference is
// attempted alone, with no fallback.
type Pref string

const (
	PrefAuto     Pref = "auto"
	PrefEmail    Pref = Pref(model.ChannelEmail)
	PrefSMS      Pref = Pref(model.ChannelSMS)
	PrefWhatsApp Pref = Pref(model.ChannelWhatsApp)
)

func ParsePref(s string) (Pref, error) {
	switch Pref(s) {
	case PrefEmail, PrefSMS, PrefWhatsApp:
		return Pref(s), nil
	case PrefAuto, "":
		return PrefAuto, nil
	}
	return "", fmt.Errorf("unknown channel: %q", s)
}

var (
	ErrNotEmail       = errors.New("NOT_EMAIL")
	ErrNotPhone       = errors.New("NOT_PHONE")
	ErrBadIdentifier  = errors.New("bad_identifier")
	ErrDeliveryFailed = errors.New("otp_delivery_failed")
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
)

// Sender carries a one-time code over a single transport. Implementations
// are external delivery sinks (mail, SMS, WhatsApp providers).
type Sender interface {
	Send(ctx context.Context, identifier, code string) error
}

// Policy classifies an identifier, orders candidate channels, and attempts
// each in turn until one delivers.
type Policy struct {
	senders     map[model.Channel]Sender
	countryCode string
}

func NewPolicy(email, sms, whatsapp Sender, countryCode string) *Policy {
	return &Policy{
		senders: map[model.Channel]Sender{
			model.ChannelEmail:    email,
			model.ChannelSMS:      sms,
			model.ChannelWhatsApp: whatsapp,
		},
		countryCode: countryCode,
	}
}

// IsEmail reports whether the identifier is email-shaped.
func IsEmail(identifier string) bool {
	return emailPattern.MatchString(identifier)
}

// IsPhone reports whether the identifier is phone-shaped: 10-15 digits with
// an optional leading +.
func IsPhone(identifier string) bool {
	return phonePattern.MatchString(stripPhone(identifier))
}

func stripPhone(raw string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(raw)
}

// NormalizePhone canonicalizes a phone-shaped identifier to international
// form. Single-country deployment: a bare 10-digit local number gets the
// configured country code; already-prefixed numbers pass through.
func (p *Policy) NormalizePhone(raw string) string {
	n := stripPhone(raw)
	if strings.HasPrefix(n, "+") {
		return n
	}
	if len(n) == 10 {
		return p.countryCode + n
	}
	return "+" + n
}

// Dispatch sends the code to identifier and returns the channel that
// actually delivered it. With PrefAuto, candidates are ordered email-first
// for email-shaped identifiers and SMS-first for phone-shaped ones, falling
// through the remaining channels as backup. With an explicit preference only
// that channel is attempted. Exhaustion surfaces the last underlying error.
func (p *Policy) Dispatch(ctx context.Context, identifier, code string, pref Pref) (model.Channel, error) {
	email := IsEmail(identifier)
	phone := IsPhone(identifier)

	var candidates []model.Channel
	switch pref {
	case PrefEmail:
		if !email {
			return "", ErrNotEmail
		}
		candidates = []model.Channel{model.ChannelEmail}
	case PrefSMS:
		if !phone {
			return "", ErrNotPhone
		}
		candidates = []model.Channel{model.ChannelSMS}
	case PrefWhatsApp:
		if !phone {
			return "", ErrNotPhone
		}
		candidates = []model.Channel{model.ChannelWhatsApp}
	default:
		switch {
		case email:
			candidates = []model.Channel{model.ChannelEmail, model.ChannelSMS, model.ChannelWhatsApp}
		case phone:
			candidates = []model.Channel{model.ChannelSMS, model.ChannelWhatsApp, model.ChannelEmail}
		default:
			return "", ErrBadIdentifier
		}
	}

	var lastErr error
	for _, ch := range candidates {
		target := identifier
		switch ch {
		case model.ChannelEmail:
			if !email {
				lastErr = ErrNotEmail
				continue
			}
		case model.ChannelSMS, model.ChannelWhatsApp:
			if !phone {
				lastErr = ErrNotPhone
				continue
			}
			target = p.NormalizePhone(identifier)
		}

		sender := p.senders[ch]
		if sender == nil {
			lastErr = fmt.Errorf("no sender configured for channel %s", ch)
			continue
		}

		if err := sender.Send(ctx, target, code); err != nil {
			util.Warn("Channel delivery attempt failed",
				zap.String("channel", string(ch)),
				zap.Error(err))
			lastErr = err
			continue
		}

		util.Debug("Code dispatched", zap.String("channel", string(ch)))
		return ch, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no delivery channel available")
	}
	return "", fmt.Errorf("%w: %v", ErrDeliveryFailed, lastErr)
}
