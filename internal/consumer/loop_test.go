package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/avsentry/internal/events"
	"github.com/ipsix/avsentry/internal/logging"
	"github.com/ipsix/avsentry/internal/pipeline"
)

type fakeQueue struct {
	mu sync.Mutex

	messages   []sqstypes.Message
	receiveErr error

	deleted    []string
	extensions int
}

func (f *fakeQueue) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	if f.receiveErr != nil {
		err := f.receiveErr
		f.mu.Unlock()
		return nil, err
	}
	if len(f.messages) > 0 {
		out := &sqs.ReceiveMessageOutput{Messages: f.messages}
		f.messages = nil
		f.mu.Unlock()
		return out, nil
	}
	f.mu.Unlock()
	// Emulate a long poll that outlives the test context.
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeQueue) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeQueue) ChangeMessageVisibility(_ context.Context, _ *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extensions++
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeQueue) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.deleted...)
}

type stubProcessor struct {
	mu        sync.Mutex
	delay     time.Duration
	failKeys  map[string]bool
	processed []string
}

func (s *stubProcessor) Process(_ context.Context, ev events.ChangeEvent) pipeline.Result {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.processed = append(s.processed, ev.Key)
	fail := s.failKeys[ev.Key]
	s.mu.Unlock()
	if fail {
		return pipeline.Result{Kind: pipeline.TransientFailure, Reason: "scan indeterminate"}
	}
	return pipeline.Result{Kind: pipeline.Completed}
}

func (s *stubProcessor) processedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.processed...)
}

func message(id, body string) sqstypes.Message {
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(body),
	}
}

func notificationBody(keys ...string) string {
	body := `{"Records": [`
	for i, key := range keys {
		if i > 0 {
			body += ","
		}
		body += `{"s3": {"bucket": {"name": "uploads"}, "object": {"key": "` + key + `", "size": 1}}}`
	}
	return body + `]}`
}

func newTestLoop(queue *fakeQueue, proc Processor, opts Options) *Loop {
	if opts.QueueURL == "" {
		opts.QueueURL = "https://example/queue"
	}
	return New(queue, proc, logging.NewNop(), opts)
}

func TestHandleMessageAllEventsDone(t *testing.T) {
	queue := &fakeQueue{}
	proc := &stubProcessor{}
	loop := newTestLoop(queue, proc, Options{})

	loop.handleMessage(context.Background(), logging.NewNop(), message("m1", notificationBody("a", "b")))

	assert.Equal(t, []string{"a", "b"}, proc.processedKeys())
	assert.Equal(t, []string{"rh-m1"}, queue.deletedHandles())

	m := loop.Metrics()
	assert.Equal(t, uint64(1), m.MessagesReceived)
	assert.Equal(t, uint64(1), m.MessagesAcked)
	assert.Equal(t, uint64(2), m.EventsCompleted)
	assert.Equal(t, uint64(0), m.EventsFailed)
}

func TestHandleMessageFailedEventBlocksAck(t *testing.T) {
	queue := &fakeQueue{}
	proc := &stubProcessor{failKeys: map[string]bool{"bad": true}}
	loop := newTestLoop(queue, proc, Options{})

	loop.handleMessage(context.Background(), logging.NewNop(), message("m1", notificationBody("good", "bad", "also-good")))

	// Every sibling event still gets its attempt.
	assert.Equal(t, []string{"good", "bad", "also-good"}, proc.processedKeys())
	assert.Empty(t, queue.deletedHandles())

	m := loop.Metrics()
	assert.Equal(t, uint64(1), m.MessagesRetried)
	assert.Equal(t, uint64(2), m.EventsCompleted)
	assert.Equal(t, uint64(1), m.EventsFailed)
}

func TestHandleMessageEmptyNotification(t *testing.T) {
	queue := &fakeQueue{}
	proc := &stubProcessor{}
	loop := newTestLoop(queue, proc, Options{})

	loop.handleMessage(context.Background(), logging.NewNop(), message("m1", `{"Event": "s3:TestEvent"}`))

	assert.Empty(t, proc.processedKeys())
	assert.Equal(t, []string{"rh-m1"}, queue.deletedHandles())
}

func TestHandleMessageMalformedBody(t *testing.T) {
	queue := &fakeQueue{}
	proc := &stubProcessor{}
	loop := newTestLoop(queue, proc, Options{})

	loop.handleMessage(context.Background(), logging.NewNop(), message("m1", "not json"))

	assert.Empty(t, proc.processedKeys())
	assert.Equal(t, []string{"rh-m1"}, queue.deletedHandles())
}

func TestHandleMessageFinishesAfterCancellation(t *testing.T) {
	queue := &fakeQueue{}
	proc := &stubProcessor{}
	loop := newTestLoop(queue, proc, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop.handleMessage(ctx, logging.NewNop(), message("m1", notificationBody("a")))

	// The in-flight message runs to completion and is acknowledged even
	// though the loop context is already cancelled.
	assert.Equal(t, []string{"a"}, proc.processedKeys())
	assert.Equal(t, []string{"rh-m1"}, queue.deletedHandles())
}

func TestHeartbeatExtendsLease(t *testing.T) {
	queue := &fakeQueue{}
	proc := &stubProcessor{delay: 120 * time.Millisecond}
	loop := newTestLoop(queue, proc, Options{
		VisibilityTimeout: time.Second,
		HeartbeatInterval: 20 * time.Millisecond,
	})

	loop.handleMessage(context.Background(), logging.NewNop(), message("m1", notificationBody("slow")))

	queue.mu.Lock()
	extensions := queue.extensions
	queue.mu.Unlock()
	assert.Greater(t, extensions, 0)
}

func TestRunDrainsQueueAndStops(t *testing.T) {
	queue := &fakeQueue{messages: []sqstypes.Message{
		message("m1", notificationBody("a")),
		message("m2", notificationBody("b")),
	}}
	proc := &stubProcessor{}
	loop := newTestLoop(queue, proc, Options{Workers: 1, WaitTime: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(queue.deletedHandles()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}

	assert.ElementsMatch(t, []string{"a", "b"}, proc.processedKeys())
}

func TestRunSurvivesReceiveErrors(t *testing.T) {
	queue := &fakeQueue{receiveErr: errors.New("throttled")}
	proc := &stubProcessor{}
	loop := newTestLoop(queue, proc, Options{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	// Give the worker a few failed polls, then clear the error and load
	// a message; the loop must recover on its own.
	time.Sleep(50 * time.Millisecond)
	queue.mu.Lock()
	queue.receiveErr = nil
	queue.messages = []sqstypes.Message{message("m1", notificationBody("a"))}
	queue.mu.Unlock()

	require.Eventually(t, func() bool {
		return len(queue.deletedHandles()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestOptionDefaults(t *testing.T) {
	loop := newTestLoop(&fakeQueue{}, &stubProcessor{}, Options{})

	assert.Equal(t, 1, loop.opts.BatchSize)
	assert.Equal(t, 1, loop.opts.Workers)
	assert.Equal(t, 20*time.Second, loop.opts.WaitTime)
	assert.Equal(t, 900*time.Second, loop.opts.VisibilityTimeout)
	assert.Equal(t, 300*time.Second, loop.opts.HeartbeatInterval)
}

func TestReceiveCount(t *testing.T) {
	msg := message("m1", "")
	assert.Equal(t, 0, receiveCount(msg))

	msg.Attributes = map[string]string{
		string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount): "7",
	}
	assert.Equal(t, 7, receiveCount(msg))

	msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)] = "junk"
	assert.Equal(t, 0, receiveCount(msg))
}
