package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"k8s.io/utils/clock"
)

// MaxSQSDelay is the longest delivery delay SQS supports.
const MaxSQSDelay = 15 * time.Minute

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSClient publishes messages to one SQS queue.
type SQSClient struct {
	api      sqsSender
	queueURL string
	clock    clock.PassiveClock
}

// NewSQSClient loads the default AWS credential chain for region.
func NewSQSClient(ctx context.Context, queueURL, region string) (*SQSClient, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("QUEUE_URL is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SQSClient{api: sqs.NewFromConfig(cfg), queueURL: queueURL, clock: clock.RealClock{}}, nil
}

// Send delivers msg after delay. Delays past MaxSQSDelay are carried in
// NotBefore and the consumer re-enqueues the message until it is due.
func (s *SQSClient) Send(ctx context.Context, msg Message, delay time.Duration) error {
	now := s.clock.Now()
	msg = Stamp(msg, now)
	if delay > MaxSQSDelay {
		msg.NotBefore = now.Add(delay).UTC().Format(time.RFC3339Nano)
		delay = MaxSQSDelay
	}

	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}

	in := &sqs.SendMessageInput{
		QueueUrl:          aws.String(s.queueURL),
		MessageBody:       aws.String(string(payload)),
		DelaySeconds:      int32(max(delay, 0) / time.Second),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{"kind": stringAttr(string(msg.Kind))},
	}
	if msg.RequestID != "" {
		in.MessageAttributes["request_id"] = stringAttr(msg.RequestID)
	}
	if _, err := s.api.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("sqs send %s for application %d: %w", msg.Kind, msg.ApplicationID, err)
	}
	return nil
}

func stringAttr(v string) sqstypes.MessageAttributeValue {
	return sqstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

var _ Client = (*SQSClient)(nil)
