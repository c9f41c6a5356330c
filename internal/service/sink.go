package service

import (
	"context"

	"go.uber.org/zap"

	"verify-service/internal/model"
	"verify-service/internal/util"
)

// SubmissionSink receives the downstream write once a session is consumed.
// The real sinks (CMS document creation, notification mail) live outside
// this core; kind names the submission type within the scope.
type SubmissionSink interface {
	Submit(ctx context.Context, scope model.Scope, kind string, payload map[string]string) error
}

// LogSink is the development sink: it records the accepted submission and
// succeeds.
type LogSink struct{}

func (LogSink) Submit(ctx context.Context, scope model.Scope, kind string, payload map[string]string) error {
	util.Info("Submission accepted",
		zap.String("scope", string(scope)),
		zap.String("kind", kind),
		zap.Int("fields", len(payload)))
	return nil
}
