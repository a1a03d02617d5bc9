package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/crosswatchhq/crosswatch/internal/models"
)

// SNSAPI is the subset of the SNS client used by the SMS channel.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSChannel delivers alerts through an SNS topic, typically fanned out to
// SMS subscriptions. It is only selected when explicitly requested.
type SNSChannel struct {
	client   SNSAPI
	topicARN string
}

// NewSNSChannel constructs the SMS channel over an SNS topic.
func NewSNSChannel(client SNSAPI, topicARN string) *SNSChannel {
	return &SNSChannel{client: client, topicARN: topicARN}
}

// Name identifies the channel in the dispatcher registry.
func (c *SNSChannel) Name() string { return ChannelSMS }

// Deliver publishes a short text rendering of the alert.
func (c *SNSChannel) Deliver(ctx context.Context, payload models.NotificationPayload) (string, error) {
	if c.topicARN == "" {
		return "", fmt.Errorf("topic ARN not configured")
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(c.topicARN),
		Subject:  aws.String(fmt.Sprintf("[%s] %s", strings.ToUpper(string(payload.Severity)), payload.Title)),
		Message:  aws.String(renderShortText(payload)),
	}

	out, err := c.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("sns publish: %w", err)
	}
	return fmt.Sprintf("sns message %s published", aws.ToString(out.MessageId)), nil
}

func renderShortText(payload models.NotificationPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(payload.Severity)), payload.Title)
	fmt.Fprintf(&b, "%s\n", payload.Message)
	fmt.Fprintf(&b, "Source: %s", payload.Source)
	return b.String()
}
