package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"stride/internal/types"
)

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789/entitlement-events"

var fixedNow = time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

func newTestPublisher(mock *mockSQSSender) *EntitlementPublisher {
	p := NewEntitlementPublisher(mock, testQueueURL, slog.New(slog.DiscardHandler))
	p.clock = func() time.Time { return fixedNow }
	return p
}

func decodeBody(t *testing.T, input *sqs.SendMessageInput) types.EntitlementChangedMessage {
	t.Helper()
	var msg types.EntitlementChangedMessage
	if err := json.Unmarshal([]byte(*input.MessageBody), &msg); err != nil {
		t.Fatalf("message body is not valid JSON: %v", err)
	}
	return msg
}

func TestProStatusChanged(t *testing.T) {
	tests := []struct {
		isPro    bool
		wantKind types.EntitlementChangeKind
	}{
		{true, types.ChangeProGranted},
		{false, types.ChangeProRevoked},
	}

	for _, tt := range tests {
		t.Run(string(tt.wantKind), func(t *testing.T) {
			mock := &mockSQSSender{}
			err := newTestPublisher(mock).ProStatusChanged(context.Background(), "evt_1", types.ProStatusChange{
				UserID:         "user-1",
				IsPro:          tt.isPro,
				SubscriptionID: "sub_1",
				EventAt:        fixedNow,
			})
			if err != nil {
				t.Fatalf("ProStatusChanged returned error: %v", err)
			}
			if len(mock.calls) != 1 {
				t.Fatalf("expected 1 SQS call, got %d", len(mock.calls))
			}
			if *mock.calls[0].QueueUrl != testQueueURL {
				t.Errorf("expected queue %q, got %q", testQueueURL, *mock.calls[0].QueueUrl)
			}

			msg := decodeBody(t, mock.calls[0])
			if msg.Kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, msg.Kind)
			}
			if msg.UserID != "user-1" || msg.EventID != "evt_1" {
				t.Errorf("unexpected correlation fields: %+v", msg)
			}
			if msg.IsPro == nil || *msg.IsPro != tt.isPro {
				t.Errorf("expected is_pro=%v, got %v", tt.isPro, msg.IsPro)
			}
			if msg.MessageID == "" {
				t.Error("expected a message id")
			}
			if !msg.OccurredAt.Equal(fixedNow) {
				t.Errorf("expected occurred_at %v, got %v", fixedNow, msg.OccurredAt)
			}

			attr, ok := mock.calls[0].MessageAttributes["kind"]
			if !ok || *attr.StringValue != string(tt.wantKind) {
				t.Errorf("expected kind attribute %s", tt.wantKind)
			}
		})
	}
}

func TestPurchaseCredited(t *testing.T) {
	mock := &mockSQSSender{}
	err := newTestPublisher(mock).PurchaseCredited(context.Background(), types.Purchase{
		EventID: "evt_2",
		UserID:  "user-2",
		Type:    types.PurchaseExtraGoal,
	})
	if err != nil {
		t.Fatalf("PurchaseCredited returned error: %v", err)
	}

	msg := decodeBody(t, mock.calls[0])
	if msg.Kind != types.ChangePurchaseCredit || msg.PurchaseType != types.PurchaseExtraGoal {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.IsPro != nil {
		t.Error("purchase messages must not carry is_pro")
	}
	if strings.Contains(*mock.calls[0].MessageBody, "is_pro") {
		t.Error("is_pro should be omitted from the body")
	}
}

func TestFreezeConsumed(t *testing.T) {
	mock := &mockSQSSender{}
	if err := newTestPublisher(mock).FreezeConsumed(context.Background(), "user-3", 2); err != nil {
		t.Fatalf("FreezeConsumed returned error: %v", err)
	}
	msg := decodeBody(t, mock.calls[0])
	if msg.Kind != types.ChangeFreezeConsumed || msg.UserID != "user-3" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestPublish_PropagatesRequestID(t *testing.T) {
	mock := &mockSQSSender{}
	ctx := types.WithRequestID(context.Background(), "req-9")
	if err := newTestPublisher(mock).FreezeConsumed(ctx, "user-3", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	attr, ok := mock.calls[0].MessageAttributes["request_id"]
	if !ok || *attr.StringValue != "req-9" {
		t.Errorf("expected request_id attribute req-9, got %+v", attr)
	}
}

func TestPublish_UniqueMessageIDs(t *testing.T) {
	mock := &mockSQSSender{}
	p := newTestPublisher(mock)
	for i := 0; i < 2; i++ {
		if err := p.FreezeConsumed(context.Background(), "user-3", 0); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if decodeBody(t, mock.calls[0]).MessageID == decodeBody(t, mock.calls[1]).MessageID {
		t.Error("expected distinct message ids")
	}
}

func TestPublish_SQSError(t *testing.T) {
	mock := &mockSQSSender{err: fmt.Errorf("access denied")}
	err := newTestPublisher(mock).FreezeConsumed(context.Background(), "user-3", 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), testQueueURL) || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("error should name the queue and cause: %v", err)
	}
}
