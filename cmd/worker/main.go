package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"meetingapp-backend/internal/bootstrap"
	"meetingapp-backend/internal/shared/config"
	"meetingapp-backend/internal/shared/metrics"
	"meetingapp-backend/internal/shared/telemetry"
	"meetingapp-backend/internal/workerproc"
)

// Long-running SQS consumer for hosts outside Lambda. Generation jobs can
// wait on the registry for minutes, so the visibility window is generous.
const (
	defaultVisibility  = 20 * time.Minute
	defaultConcurrency = 4
	defaultDrain       = 30 * time.Second
	receiveBatch       = 10
	receiveWaitSeconds = 20
	receiveCountAttr   = "ApproximateReceiveCount"
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type poller struct {
	client     sqsAPI
	queueURL   string
	runner     *workerproc.Runner
	visibility time.Duration

	slots chan struct{}
	wg    sync.WaitGroup
}

func newPoller(client sqsAPI, queueURL string, runner *workerproc.Runner, concurrency int, visibility time.Duration) *poller {
	return &poller{
		client:     client,
		queueURL:   queueURL,
		runner:     runner,
		visibility: visibility,
		slots:      make(chan struct{}, max(1, concurrency)),
	}
}

func main() {
	cfg := config.Load()
	queueURL := strings.TrimSpace(cfg.QueueURL)
	if queueURL == "" {
		log.Fatal("QUEUE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	runner, err := workerproc.NewRunner(app)
	if err != nil {
		log.Fatalf("worker runner: %v", err)
	}

	p := newPoller(sqs.NewFromConfig(awsCfg), queueURL, runner,
		envInt("WORKER_CONCURRENCY", defaultConcurrency),
		time.Duration(envInt("SQS_VISIBILITY_TIMEOUT_SECONDS", int(defaultVisibility/time.Second)))*time.Second)
	log.Printf("worker started queue=%s concurrency=%d visibility=%s", queueURL, cap(p.slots), p.visibility)

	p.run(ctx)

	drain := time.Duration(envInt("SHUTDOWN_TIMEOUT_SECONDS", int(defaultDrain/time.Second))) * time.Second
	if !p.drain(drain) {
		log.Printf("worker: drain window %s elapsed with jobs in flight", drain)
	}
}

// run receives until ctx is cancelled. Started jobs keep running on a
// context detached from ctx.
func (p *poller) run(ctx context.Context) {
	for ctx.Err() == nil {
		resp, err := p.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(p.queueURL),
			MaxNumberOfMessages: receiveBatch,
			WaitTimeSeconds:     receiveWaitSeconds,
			VisibilityTimeout:   int32(p.visibility / time.Second),
			AttributeNames:      []sqstypes.QueueAttributeName{receiveCountAttr},
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			telemetry.Warn("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}

		for _, m := range resp.Messages {
			select {
			case <-ctx.Done():
				return
			case p.slots <- struct{}{}:
			}
			p.wg.Add(1)
			go func(m sqstypes.Message) {
				defer p.wg.Done()
				defer func() { <-p.slots }()
				p.handle(context.WithoutCancel(ctx), m)
			}(m)
		}
	}
}

// drain waits for in-flight jobs and reports whether they all finished.
func (p *poller) drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// handle runs one message. Success and unrecoverable failures delete it;
// anything else is left for redelivery after the visibility timeout.
func (p *poller) handle(ctx context.Context, m sqstypes.Message) {
	body := aws.ToString(m.Body)
	msg, meta, err := workerproc.ParseMessage(body)
	kind := string(msg.Kind)
	fields := messageFields(m, msg.ApplicationID, msg.RequestID)
	metrics.IncWorkerJob(kind, "received")

	if err != nil {
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		event := "worker.decode_failed"
		var missing workerproc.ErrMissingApplicationID
		if errors.As(err, &missing) {
			event = "worker.missing_id"
		}
		telemetry.Error(event, fields)
		if p.delete(ctx, m, fields) {
			metrics.IncWorkerJob(kind, "deleted_unrecoverable")
		}
		return
	}

	fields["kind"] = kind
	telemetry.Info("worker.received", fields)

	err = p.runner.Handle(workerproc.WithParsedMessage(ctx, msg), body)
	switch {
	case err == nil:
		if p.delete(ctx, m, fields) {
			telemetry.Info("worker.completed", fields)
			metrics.IncWorkerJob(kind, "completed")
		}
	case workerproc.Unrecoverable(err):
		fields["error"] = err.Error()
		telemetry.Warn("worker.terminal", fields)
		if p.delete(ctx, m, fields) {
			metrics.IncWorkerJob(kind, "deleted_unrecoverable")
		}
	default:
		fields["error"] = err.Error()
		telemetry.Error("worker.failed", fields)
		metrics.IncWorkerJob(kind, "failed")
	}
}

func (p *poller) delete(ctx context.Context, m sqstypes.Message, fields map[string]any) bool {
	receipt := aws.ToString(m.ReceiptHandle)
	if receipt == "" {
		telemetry.Error("worker.delete_failed", withError(fields, "missing receipt handle"))
		return false
	}
	if _, err := p.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		telemetry.Error("worker.delete_failed", withError(fields, err.Error()))
		return false
	}
	return true
}

func withError(fields map[string]any, msg string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = msg
	return out
}

func messageFields(m sqstypes.Message, applicationID int64, requestID string) map[string]any {
	fields := map[string]any{"sqs_message_id": aws.ToString(m.MessageId)}
	if n, err := strconv.Atoi(m.Attributes[receiveCountAttr]); err == nil {
		fields["receive_count"] = n
	}
	if applicationID > 0 {
		fields["application_id"] = applicationID
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func envInt(key string, def int) int {
	val, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || val <= 0 {
		return def
	}
	return val
}
