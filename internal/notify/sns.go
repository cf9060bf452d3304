package notify

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/cockroachdb/errors"
)

type publishAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSChannel struct {
	api      publishAPI
	topicARN string
}

func NewSNSChannel(api publishAPI, topicARN string) *SNSChannel {
	return &SNSChannel{api: api, topicARN: topicARN}
}

func (s *SNSChannel) Name() string { return "sns" }

func (s *SNSChannel) Publish(ctx context.Context, subject, body string) error {
	// SNS caps subjects at 100 characters; signature names can push an
	// alert past that.
	if len(subject) > 100 {
		subject = subject[:100]
	}
	_, err := s.api.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
	})
	return errors.Wrap(err, "publish alert")
}
