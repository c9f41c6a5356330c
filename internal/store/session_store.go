package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"verify-service/internal/client"
	"verify-service/internal/model"
	"verify-service/internal/util"
)

const (
	sessionPrefix    = "otp_session:"
	sessionTxRetries = 3
)

// SessionStore persists OTP sessions as one JSON blob per session id.
// State transitions go through optimistic WATCH transactions so concurrent
// verification attempts cannot race past the try cap.
type SessionStore struct {
	client *client.RedisClient
	margin time.Duration
	tryCap int
}

func NewSessionStore(client *client.RedisClient, margin time.Duration, tryCap int) *SessionStore {
	return &SessionStore{client: client, margin: margin, tryCap: tryCap}
}

// Create persists a fresh session. The Redis TTL exceeds the session expiry
// by the configured margin so post-expiry reads stay possible for a short
// grace window before the record self-deletes.
func (s *SessionStore) Create(ctx context.Context, sess *model.Session) error {
	ttl := time.Until(time.Unix(sess.ExpiresAt, 0)) + s.margin
	if ttl <= 0 {
		return fmt.Errorf("session already expired: %s", sess.ID)
	}

	buf, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, sessionPrefix+sess.ID, buf, ttl); err != nil {
		util.Error("Failed to persist session",
			zap.String("session_id", sess.ID),
			zap.Error(err))
		return fmt.Errorf("failed to persist session: %w", err)
	}

	util.Debug("Session created",
		zap.String("session_id", sess.ID),
		zap.String("scope", string(sess.Scope)),
		zap.Duration("ttl", ttl))
	return nil
}

// Get returns the session, or (nil, nil) when the record is missing or
// already cleaned up. Not-found is never an error.
func (s *SessionStore) Get(ctx context.Context, id string) (*model.Session, error) {
	raw, err := s.client.Client.Get(ctx, sessionPrefix+id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &sess, nil
}

// VerifyAndBump applies one verification attempt as a single
// read-modify-write. Every attempt increments the try counter, including
// attempts rejected at the cap, so the cap is sticky under concurrency.
func (s *SessionStore) VerifyAndBump(ctx context.Context, id, code string) (model.AttemptOutcome, model.Scope, error) {
	key := sessionPrefix + id
	var outcome model.AttemptOutcome
	var scope model.Scope

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			outcome = model.AttemptInvalidSession
			return nil
		}
		if err != nil {
			return err
		}

		var sess model.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return fmt.Errorf("failed to unmarshal session %s: %w", id, err)
		}

		outcome = sess.ApplyAttempt(code, time.Now(), s.tryCap)
		scope = sess.Scope

		buf, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < sessionTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			util.Debug("Verification attempt applied",
				zap.String("session_id", id),
				zap.String("outcome", string(outcome)))
			return outcome, scope, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		util.Error("Verification attempt failed",
			zap.String("session_id", id),
			zap.Error(err))
		return "", "", fmt.Errorf("failed to apply verification attempt: %w", err)
	}
	return "", "", fmt.Errorf("failed to apply verification attempt: %w", redis.TxFailedErr)
}

// MarkUsed flips the session to used exactly once. Idempotent, and a no-op
// when the session is missing.
func (s *SessionStore) MarkUsed(ctx context.Context, id string) error {
	return s.update(ctx, id, func(sess *model.Session) {
		if sess.Used {
			return
		}
		sess.Used = true
		sess.UsedAt = time.Now().Unix()
	})
}

// SetChannelUsed records which delivery channel carried the code, for audit.
// A no-op when the session is missing.
func (s *SessionStore) SetChannelUsed(ctx context.Context, id string, ch model.Channel) error {
	return s.update(ctx, id, func(sess *model.Session) {
		sess.ChannelUsed = ch
	})
}

func (s *SessionStore) update(ctx context.Context, id string, mutate func(*model.Session)) error {
	key := sessionPrefix + id

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}

		var sess model.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return fmt.Errorf("failed to unmarshal session %s: %w", id, err)
		}

		mutate(&sess)

		buf, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < sessionTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		util.Error("Failed to update session",
			zap.String("session_id", id),
			zap.Error(err))
		return fmt.Errorf("failed to update session: %w", err)
	}
	return fmt.Errorf("failed to update session: %w", redis.TxFailedErr)
}
