package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"meetingapp-backend/internal/bootstrap"
	"meetingapp-backend/internal/shared/config"
	"meetingapp-backend/internal/shared/metrics"
	"meetingapp-backend/internal/shared/telemetry"
	"meetingapp-backend/internal/workerproc"
)

var (
	initMu sync.Mutex
	runner *workerproc.Runner
)

// loadRunner bootstraps once per warm container; a failure is retried on
// the next batch.
func loadRunner() (*workerproc.Runner, error) {
	initMu.Lock()
	defer initMu.Unlock()
	if runner != nil {
		return runner, nil
	}
	app, err := bootstrap.Build(config.Load())
	if err != nil {
		return nil, err
	}
	r, err := workerproc.NewRunner(app)
	if err != nil {
		app.Close()
		return nil, err
	}
	runner = r
	return runner, nil
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	r, err := loadRunner()
	if err != nil {
		telemetry.Error("worker.bootstrap_failed", map[string]any{"error": err.Error(), "records": len(event.Records)})
		return retryAll(event), nil
	}
	return processBatch(ctx, r, event), nil
}

func retryAll(event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
	for _, record := range event.Records {
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

// processBatch reports only retryable failures so terminal ones leave the queue.
func processBatch(ctx context.Context, r *workerproc.Runner, event events.SQSEvent) events.SQSEventResponse {
	var resp events.SQSEventResponse
	for _, record := range event.Records {
		msg, _, parseErr := workerproc.ParseMessage(record.Body)
		kind := string(msg.Kind)
		metrics.IncWorkerJob(kind, "received")

		err := parseErr
		if err == nil {
			err = r.Handle(workerproc.WithParsedMessage(ctx, msg), record.Body)
		}
		if err == nil {
			metrics.IncWorkerJob(kind, "completed")
			continue
		}

		fields := map[string]any{"sqs_message_id": record.MessageId, "error": err.Error()}
		if msg.ApplicationID > 0 {
			fields["application_id"] = msg.ApplicationID
		}
		if workerproc.Unrecoverable(err) {
			telemetry.Warn("worker.terminal", fields)
			metrics.IncWorkerJob(kind, "deleted_unrecoverable")
			continue
		}
		telemetry.Error("worker.failed", fields)
		metrics.IncWorkerJob(kind, "failed")
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
	}
	return resp
}

func main() {
	lambda.Start(handler)
}
