package entitlement

import (
	"encoding/json"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"stride/internal/types"
)

// parseEvent decodes a verified webhook body. An event without an id cannot
// be deduplicated and is rejected like malformed JSON.
func parseEvent(payload []byte) (*stripe.Event, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidJSON, "webhook payload is not a valid event", err)
	}
	if evt.ID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidJSON, "webhook event has no id", nil)
	}
	return &evt, nil
}

func decodeObject(evt *stripe.Event, into any) error {
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "webhook event has no data object", nil)
	}
	if err := json.Unmarshal(evt.Data.Raw, into); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "webhook data object does not match event type", err)
	}
	return nil
}

// checkoutUserID prefers client_reference_id and falls back to the user id
// stamped into session metadata.
func checkoutUserID(s *stripe.CheckoutSession) string {
	if s.ClientReferenceID != "" {
		return s.ClientReferenceID
	}
	return s.Metadata["user_id"]
}

func subscriptionID(s *stripe.CheckoutSession) string {
	if s.Subscription == nil {
		return ""
	}
	return s.Subscription.ID
}

// eventTime is the ordering key for lifecycle writes. Events without a
// creation time are ordered at receipt.
func eventTime(evt *stripe.Event, now func() time.Time) time.Time {
	if evt.Created <= 0 {
		return now().UTC()
	}
	return time.Unix(evt.Created, 0).UTC()
}
