package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockSQS struct {
	mock.Mock
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	ret := m.Called(ctx, params)
	out, _ := ret.Get(0).(*sqs.SendMessageOutput)
	return out, ret.Error(1)
}

func TestSQSPublisher(t *testing.T) {
	event := Event{
		Type:        TypeBidPlaced,
		AggregateId: "a-1",
		OccurredAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:     map[string]string{"amount": "90000"},
	}

	t.Run("Success", func(t *testing.T) {
		client := new(mockSQS)
		p := NewSQSPublisher(client, "https://sqs.local/events")

		client.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
			var sent Event
			if err := json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &sent); err != nil {
				return false
			}
			attr := in.MessageAttributes["event_type"]
			return aws.ToString(in.QueueUrl) == "https://sqs.local/events" &&
				sent.Id != "" && sent.Payload["amount"] == "90000" &&
				aws.ToString(attr.StringValue) == string(TypeBidPlaced)
		})).Return(&sqs.SendMessageOutput{}, nil)

		assert.NoError(t, p.Publish(context.Background(), event))
		client.AssertExpectations(t)
	})

	t.Run("Send Fails", func(t *testing.T) {
		client := new(mockSQS)
		p := NewSQSPublisher(client, "https://sqs.local/events")

		client.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

		err := p.Publish(context.Background(), event)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to send event to SQS")
	})
}
