package types

import "time"

// EntitlementChangeKind classifies an EntitlementChangedMessage.
type EntitlementChangeKind string

const (
	ChangeProGranted     EntitlementChangeKind = "pro_granted"
	ChangeProRevoked     EntitlementChangeKind = "pro_revoked"
	ChangePurchaseCredit EntitlementChangeKind = "purchase_credited"
	ChangeFreezeConsumed EntitlementChangeKind = "streak_freeze_consumed"
)

// EntitlementChangedMessage is the queue payload published after an
// entitlement write has been applied. Consumers treat it as a hint to refresh
// cached account state; the profiles row stays the source of truth.
type EntitlementChangedMessage struct {
	MessageID    string                `json:"message_id"`
	Kind         EntitlementChangeKind `json:"kind"`
	UserID       string                `json:"user_id"`
	EventID      string                `json:"event_id,omitempty"`
	PurchaseType PurchaseType          `json:"purchase_type,omitempty"`
	IsPro        *bool                 `json:"is_pro,omitempty"`
	OccurredAt   time.Time             `json:"occurred_at"`
}
