package channel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"verify-service/internal/channel"
	"verify-service/internal/model"
)

type fakeSender struct {
	err   error
	calls []string
}

func (s *fakeSender) Send(ctx context.Context, identifier, code string) error {
	s.calls = append(s.calls, identifier)
	return s.err
}

func newPolicy(email, sms, whatsapp *fakeSender) *channel.Policy {
	return channel.NewPolicy(email, sms, whatsapp, "+91")
}

func TestPolicy_Dispatch_Auto(t *testing.T) {
	ctx := context.Background()

	t.Run("email-shaped identifier tries email first", func(t *testing.T) {
		email, sms, wa := &fakeSender{}, &fakeSender{}, &fakeSender{}
		p := newPolicy(email, sms, wa)

		ch, err := p.Dispatch(ctx, "user@example.com", "123456", channel.PrefAuto)
		require.NoError(t, err)
		require.Equal(t, model.ChannelEmail, ch)
		require.Len(t, email.calls, 1)
		require.Empty(t, sms.calls)
		require.Empty(t, wa.calls)
	})

	t.Run("phone-shaped identifier tries sms first then falls back", func(t *testing.T) {
		email, sms, wa := &fakeSender{}, &fakeSender{err: errors.New("provider down")}, &fakeSender{}
		p := newPolicy(email, sms, wa)

		ch, err := p.Dispatch(ctx, "9876543210", "123456", channel.PrefAuto)
		require.NoError(t, err)
		require.Equal(t, model.ChannelWhatsApp, ch)
		require.Len(t, sms.calls, 1)
		require.Len(t, wa.calls, 1)
		require.Empty(t, email.calls)
	})

	t.Run("phone channels receive the normalized number", func(t *testing.T) {
		email, sms, wa := &fakeSender{}, &fakeSender{}, &fakeSender{}
		p := newPolicy(email, sms, wa)

		_, err := p.Dispatch(ctx, "98765 43210", "123456", channel.PrefAuto)
		require.NoError(t, err)
		require.Equal(t, []string{"+919876543210"}, sms.calls)
	})

	t.Run("exhaustion surfaces a hard delivery failure", func(t *testing.T) {
		email := &fakeSender{err: errors.New("smtp refused")}
		p := newPolicy(email, &fakeSender{}, &fakeSender{})

		// Email-shaped identifier: the phone channels are shape-mismatched,
		// so a failing email transport exhausts every candidate.
		_, err := p.Dispatch(ctx, "user@example.com", "123456", channel.PrefAuto)
		require.ErrorIs(t, err, channel.ErrDeliveryFailed)
	})

	t.Run("unclassifiable identifier is rejected", func(t *testing.T) {
		p := newPolicy(&fakeSender{}, &fakeSender{}, &fakeSender{})

		_, err := p.Dispatch(ctx, "not-a-contact", "123456", channel.PrefAuto)
		require.ErrorIs(t, err, channel.ErrBadIdentifier)
	})
}

func TestPolicy_Dispatch_Explicit(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit sms with email identifier fails with no attempt", func(t *testing.T) {
		email, sms, wa := &fakeSender{}, &fakeSender{}, &fakeSender{}
		p := newPolicy(email, sms, wa)

		_, err := p.Dispatch(ctx, "user@example.com", "123456", channel.PrefSMS)
		require.ErrorIs(t, err, channel.ErrNotPhone)
		require.Empty(t, email.calls)
		require.Empty(t, sms.calls)
		require.Empty(t, wa.calls)
	})

	t.Run("explicit email with phone identifier fails", func(t *testing.T) {
		p := newPolicy(&fakeSender{}, &fakeSender{}, &fakeSender{})

		_, err := p.Dispatch(ctx, "9876543210", "123456", channel.PrefEmail)
		require.ErrorIs(t, err, channel.ErrNotEmail)
	})

	t.Run("explicit channel has no fallback", func(t *testing.T) {
		sms := &fakeSender{err: errors.New("provider down")}
		wa := &fakeSender{}
		p := newPolicy(&fakeSender{}, sms, wa)

		_, err := p.Dispatch(ctx, "9876543210", "123456", channel.PrefSMS)
		require.ErrorIs(t, err, channel.ErrDeliveryFailed)
		require.Len(t, sms.calls, 1)
		require.Empty(t, wa.calls)
	})
}

func TestClassification(t *testing.T) {
	require.True(t, channel.IsEmail("user@example.com"))
	require.False(t, channel.IsEmail("9876543210"))
	require.False(t, channel.IsEmail("user@invalid"))

	require.True(t, channel.IsPhone("9876543210"))
	require.True(t, channel.IsPhone("+919876543210"))
	require.True(t, channel.IsPhone("98765 43210"))
	require.False(t, channel.IsPhone("12345"))
	require.False(t, channel.IsPhone("user@example.com"))
}

func TestNormalizePhone(t *testing.T) {
	p := newPolicy(&fakeSender{}, &fakeSender{}, &fakeSender{})

	require.Equal(t, "+919876543210", p.NormalizePhone("9876543210"))
	require.Equal(t, "+919876543210", p.NormalizePhone("98765 43210"))
	require.Equal(t, "+14155550123", p.NormalizePhone("+1 415 555-0123"))
	require.Equal(t, "+919876543210", p.NormalizePhone("919876543210"))
}

func TestParsePref(t *testing.T) {
	pref, err := channel.ParsePref("")
	require.NoError(t, err)
	require.Equal(t, channel.PrefAuto, pref)

	pref, err = channel.ParsePref("whatsapp")
	require.NoError(t, err)
	require.Equal(t, channel.PrefWhatsApp, pref)

	_, err = channel.ParsePref("carrier-pigeon")
	require.Error(t, err)
}
