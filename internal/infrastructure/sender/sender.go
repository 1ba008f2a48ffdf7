// Package sender selects the delivery channel for queued notifications.
package sender

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/infrastructure/external/lark"
	"github.com/garyjia/idea-hub/pkg/ids"
)

// Channel names accepted in configuration
const (
	ChannelLog  = "log"
	ChannelLark = "lark"
)

// LogSender writes notifications to the process log. It never fails and is
// the default channel for local runs.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-backed sender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Name identifies the channel in logs
func (s *LogSender) Name() string {
	return ChannelLog
}

// Send logs msg and returns a generated message id
func (s *LogSender) Send(ctx context.Context, msg port.OutboundMessage) (string, error) {
	id := ids.WithPrefix("msg")
	s.logger.Info("Notification",
		zap.String("message_id", id),
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return id, nil
}

// New builds the sender for channel
func New(channel string, larkCfg lark.Config, logger *zap.Logger) (port.Sender, error) {
	switch channel {
	case "", ChannelLog:
		return NewLogSender(logger), nil
	case ChannelLark:
		if larkCfg.AppID == "" || larkCfg.AppSecret == "" {
			return nil, fmt.Errorf("lark channel requires app id and app secret")
		}
		return lark.NewSender(lark.NewSDKClient(larkCfg, logger), logger), nil
	default:
		return nil, fmt.Errorf("unknown notification channel %q", channel)
	}
}
