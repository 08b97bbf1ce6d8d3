package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/chris/tax-credit-settlement/pkg/clock"
)

// MaxDelay is the longest delivery delay SQS accepts. Closes further out are
// delivered early and re-scheduled by the consumer.
const MaxDelay = 15 * time.Minute

// SQSAPI is the subset of the SQS client the scheduler uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSScheduler implements the Scheduler interface using AWS SQS delayed messages.
type SQSScheduler struct {
	Client   SQSAPI
	QueueURL string
	Clock    clock.Clock
}

// NewSQSScheduler creates a new SQSScheduler.
func NewSQSScheduler(client SQSAPI, queueURL string, clk clock.Clock) *SQSScheduler {
	return &SQSScheduler{
		Client:   client,
		QueueURL: queueURL,
		Clock:    clk,
	}
}

// Make sure we conform to the interface
var _ Scheduler = (*SQSScheduler)(nil)
var _ Scheduler = NoOpScheduler{}

// ScheduleAuctionClose sends a close message delayed until at, capped at MaxDelay.
func (s *SQSScheduler) ScheduleAuctionClose(ctx context.Context, auctionID string, at time.Time) error {
	// Marshal the close request to JSON.
	body, err := json.Marshal(CloseMessage{AuctionId: auctionID, CloseAt: at.UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal close message for SQS: %w", err)
	}

	// Send the message to SQS.
	_, err = s.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(s.QueueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: DelaySeconds(s.Clock.Now(), at),
	})

	if err != nil {
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	return nil
}

// DelaySeconds returns the SQS delay for a message due at, rounded up and capped at MaxDelay.
func DelaySeconds(now, at time.Time) int32 {
	d := at.Sub(now)
	if d <= 0 {
		return 0
	}
	if d > MaxDelay {
		d = MaxDelay
	}
	secs := int32(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
