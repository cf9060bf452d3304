// Package notify publishes operator alerts for infections. Delivery is
// best effort: the quarantine/tagging disposition is the authoritative
// outcome and a failed alert never fails the event.
package notify

import (
	"context"

	"go.uber.org/zap"
)

type Channel interface {
	Name() string
	Publish(ctx context.Context, subject, body string) error
}

type Notifier struct {
	logger   *zap.SugaredLogger
	channels []Channel
}

func New(logger *zap.SugaredLogger, channels ...Channel) *Notifier {
	return &Notifier{logger: logger, channels: channels}
}

// Alert fans the message out to every channel. Failures are logged and
// swallowed; there is no retry here.
func (n *Notifier) Alert(ctx context.Context, subject, body string) {
	for _, ch := range n.channels {
		if err := ch.Publish(ctx, subject, body); err != nil {
			n.logger.Errorw("alert delivery failed",
				"channel", ch.Name(),
				"subject", subject,
				"error", err,
			)
		}
	}
}
