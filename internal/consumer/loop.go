// Package consumer runs the poll/process/acknowledge cycle against the
// notification queue. A message is deleted only when every event it
// bundles completed; anything else is left for the queue's lease expiry
// to redeliver, which is the system's entire retry mechanism.
package consumer

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ipsix/avsentry/internal/events"
	"github.com/ipsix/avsentry/internal/pipeline"
)

// queueAPI is the slice of the SQS client the loop needs.
type queueAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, opts ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

type Processor interface {
	Process(ctx context.Context, ev events.ChangeEvent) pipeline.Result
}

type Options struct {
	QueueURL               string
	WaitTime               time.Duration
	VisibilityTimeout      time.Duration
	HeartbeatInterval      time.Duration
	BatchSize              int
	Workers                int
	PoisonReceiveThreshold int
}

// Metrics is a point-in-time snapshot of loop counters.
type Metrics struct {
	MessagesReceived uint64 `json:"messages_received"`
	MessagesAcked    uint64 `json:"messages_acked"`
	MessagesRetried  uint64 `json:"messages_retried"`
	EventsCompleted  uint64 `json:"events_completed"`
	EventsFailed     uint64 `json:"events_failed"`
}

type Loop struct {
	client    queueAPI
	processor Processor
	logger    *zap.SugaredLogger
	opts      Options

	received atomic.Uint64
	acked    atomic.Uint64
	retried  atomic.Uint64
	evDone   atomic.Uint64
	evFailed atomic.Uint64
}

func New(client queueAPI, processor Processor, logger *zap.SugaredLogger, opts Options) *Loop {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.WaitTime <= 0 {
		opts.WaitTime = 20 * time.Second
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 900 * time.Second
	}
	if opts.HeartbeatInterval <= 0 || opts.HeartbeatInterval >= opts.VisibilityTimeout {
		opts.HeartbeatInterval = opts.VisibilityTimeout / 3
	}
	return &Loop{client: client, processor: processor, logger: logger, opts: opts}
}

// Run blocks until ctx is cancelled. Each worker owns an independent
// poll/process/ack cycle; the queue's lease guarantees at most one
// active claim per message across workers.
func (l *Loop) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < l.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l.worker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (l *Loop) Metrics() Metrics {
	return Metrics{
		MessagesReceived: l.received.Load(),
		MessagesAcked:    l.acked.Load(),
		MessagesRetried:  l.retried.Load(),
		EventsCompleted:  l.evDone.Load(),
		EventsFailed:     l.evFailed.Load(),
	}
}

func (l *Loop) worker(ctx context.Context, id int) {
	log := l.logger.With("worker", id)
	log.Infow("worker started")

	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = time.Minute
	policy.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			log.Infow("worker stopping")
			return
		}

		out, err := l.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(l.opts.QueueURL),
			MaxNumberOfMessages: int32(l.opts.BatchSize),
			WaitTimeSeconds:     int32(l.opts.WaitTime / time.Second),
			VisibilityTimeout:   int32(l.opts.VisibilityTimeout / time.Second),
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				log.Infow("worker stopping")
				return
			}
			// Poll failures never kill the loop; back off and retry.
			wait := policy.NextBackOff()
			log.Errorw("receive failed", "error", err, "backoff", wait.String())
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		policy.Reset()

		for _, msg := range out.Messages {
			l.handleMessage(ctx, log, msg)
			if ctx.Err() != nil {
				log.Infow("worker stopping")
				return
			}
		}
	}
}

func (l *Loop) handleMessage(ctx context.Context, log *zap.SugaredLogger, msg sqstypes.Message) {
	l.received.Add(1)
	log = log.With("message_id", aws.ToString(msg.MessageId))

	if count := receiveCount(msg); count > l.opts.PoisonReceiveThreshold && l.opts.PoisonReceiveThreshold > 0 {
		// No dead-letter policy of our own; surface the poison message
		// so the queue's redrive policy can be tuned.
		log.Warnw("message redelivered repeatedly, likely poisoned",
			"receive_count", count,
			"threshold", l.opts.PoisonReceiveThreshold,
		)
	}

	// A shutdown signal lets the current message finish its work
	// instead of abandoning a half-disposed event.
	procCtx := context.WithoutCancel(ctx)

	stopHeartbeat := l.startHeartbeat(procCtx, log, msg.ReceiptHandle)
	defer stopHeartbeat()

	evs, err := events.Parse([]byte(aws.ToString(msg.Body)))
	if err != nil {
		// Not an object-change notification. Vacuously successful.
		log.Warnw("unparseable message body, acknowledging", "error", err)
		l.ack(procCtx, log, msg.ReceiptHandle)
		return
	}
	if len(evs) == 0 {
		log.Debugw("no change records in message, acknowledging")
		l.ack(procCtx, log, msg.ReceiptHandle)
		return
	}

	allDone := true
	for _, ev := range evs {
		result := l.processor.Process(procCtx, ev)
		if result.Done() {
			l.evDone.Add(1)
			continue
		}
		l.evFailed.Add(1)
		allDone = false
		log.Warnw("event did not complete",
			"bucket", ev.Bucket,
			"key", ev.Key,
			"result", result.String(),
		)
	}

	if !allDone {
		// Leave the message leased; redelivery after expiry is the
		// retry path. Partial successes keep their applied writes.
		l.retried.Add(1)
		log.Warnw("message left for redelivery")
		return
	}
	l.ack(procCtx, log, msg.ReceiptHandle)
}

func (l *Loop) ack(ctx context.Context, log *zap.SugaredLogger, receipt *string) {
	_, err := l.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(l.opts.QueueURL),
		ReceiptHandle: receipt,
	})
	if err != nil {
		// The work itself succeeded; the message will be redelivered
		// and the idempotent writes make the repeat harmless.
		log.Errorw("acknowledge failed", "error", err)
		return
	}
	l.acked.Add(1)
	log.Infow("message acknowledged")
}

// startHeartbeat extends the message lease while processing runs so a
// long scan cannot lose its claim. Returns a stop function.
func (l *Loop) startHeartbeat(ctx context.Context, log *zap.SugaredLogger, receipt *string) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(l.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, err := l.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
					QueueUrl:          aws.String(l.opts.QueueURL),
					ReceiptHandle:     receipt,
					VisibilityTimeout: int32(l.opts.VisibilityTimeout / time.Second),
				})
				if err != nil {
					log.Warnw("lease extension failed", "error", err)
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

func receiveCount(msg sqstypes.Message) int {
	raw, ok := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return count
}
