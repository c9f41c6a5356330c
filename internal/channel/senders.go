package channel

import (
	"context"

	"go.uber.org/zap"

	"verify-service/internal/model"
	"verify-service/internal/util"
)

// DevSender is the development delivery sink: it logs the code instead of
// handing it to a provider. Production deployments swap in real transport
// adapters behind the Sender interface.
type DevSender struct {
	channel model.Channel
}

func NewDevSender(ch model.Channel) *DevSender {
	return &DevSender{channel: ch}
}

func (s *DevSender) Send(ctx context.Context, identifier, code string) error {
	util.Info("Dev sender delivering code",
		zap.String("channel", string(s.channel)),
		zap.String("identifier", identifier),
		zap.String("code", code))
	return nil
}
