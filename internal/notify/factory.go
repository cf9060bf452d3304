package notify

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ipsix/avsentry/internal/config"
)

// BuildChannels assembles the configured alert channels. With nothing
// enabled the log channel is used so infections are never silent.
func BuildChannels(cfg config.AlertingConfig, logger *zap.SugaredLogger, sns publishAPI) ([]Channel, error) {
	channels := []Channel{}
	for _, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		switch ch.Type {
		case "log":
			channels = append(channels, NewLogChannel(logger))
		case "sns":
			if ch.TopicARN == "" {
				return nil, errors.New("sns topic_arn required")
			}
			channels = append(channels, NewSNSChannel(sns, ch.TopicARN))
		default:
			return nil, errors.Newf("unknown alert channel type: %s", ch.Type)
		}
	}
	if len(channels) == 0 {
		channels = append(channels, NewLogChannel(logger))
	}
	return channels, nil
}
