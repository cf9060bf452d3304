package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogChannel writes alerts to the daemon log. It is the fallback when
// no external channel is configured.
type LogChannel struct {
	logger *zap.SugaredLogger
}

func NewLogChannel(logger *zap.SugaredLogger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Publish(_ context.Context, subject, body string) error {
	l.logger.Warnw("alert", "subject", subject, "body", body)
	return nil
}
