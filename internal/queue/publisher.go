// Package queue publishes entitlement change events to SQS for downstream
// consumers that cache account state.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"stride/internal/entitlement"
	"stride/internal/streak"
	"stride/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EntitlementPublisher sends an EntitlementChangedMessage after each applied
// entitlement write. Messages are hints; consumers re-read the profile.
type EntitlementPublisher struct {
	client   SQSSender
	queueURL string
	clock    func() time.Time
	logger   *slog.Logger
}

var (
	_ entitlement.Notifier = (*EntitlementPublisher)(nil)
	_ streak.Notifier      = (*EntitlementPublisher)(nil)
)

// NewEntitlementPublisher creates a publisher for queueURL.
func NewEntitlementPublisher(client SQSSender, queueURL string, logger *slog.Logger) *EntitlementPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementPublisher{
		client:   client,
		queueURL: queueURL,
		clock:    time.Now,
		logger:   logger,
	}
}

func (p *EntitlementPublisher) ProStatusChanged(ctx context.Context, eventID string, change types.ProStatusChange) error {
	kind := types.ChangeProRevoked
	if change.IsPro {
		kind = types.ChangeProGranted
	}
	isPro := change.IsPro
	return p.publish(ctx, types.EntitlementChangedMessage{
		Kind:    kind,
		UserID:  change.UserID,
		EventID: eventID,
		IsPro:   &isPro,
	})
}

func (p *EntitlementPublisher) PurchaseCredited(ctx context.Context, purchase types.Purchase) error {
	return p.publish(ctx, types.EntitlementChangedMessage{
		Kind:         types.ChangePurchaseCredit,
		UserID:       purchase.UserID,
		EventID:      purchase.EventID,
		PurchaseType: purchase.Type,
	})
}

func (p *EntitlementPublisher) FreezeConsumed(ctx context.Context, userID string, _ int) error {
	return p.publish(ctx, types.EntitlementChangedMessage{
		Kind:         types.ChangeFreezeConsumed,
		UserID:       userID,
		PurchaseType: types.PurchaseStreakFreeze,
	})
}

func (p *EntitlementPublisher) publish(ctx context.Context, msg types.EntitlementChangedMessage) error {
	msg.MessageID = uuid.NewString()
	msg.OccurredAt = p.clock().UTC()

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal EntitlementChangedMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Kind)),
			},
		},
	}
	if reqID := types.GetRequestID(ctx); reqID != "" {
		input.MessageAttributes["request_id"] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(reqID),
		}
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send EntitlementChangedMessage to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "entitlement change published",
		"message_id", msg.MessageID,
		"kind", string(msg.Kind),
		"user_id", msg.UserID,
		"event_id", msg.EventID,
	)
	return nil
}
