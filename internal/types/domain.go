package types

import (
	"time"
)

// Entitlement is the paid-feature state of one account, stored on the
// profiles row keyed by user id.
type Entitlement struct {
	UserID                 string
	IsPro                  bool
	StreakFreezesAvailable int
	ExtraGoalSlots         int
	StripeSubscriptionID   string
	ProStatusEventAt       *time.Time
}

// PurchaseType identifies a one-time consumable bought through checkout.
// The value matches the metadata "type" attached to the checkout session.
type PurchaseType string

const (
	PurchaseStreakFreeze PurchaseType = "streak_freeze"
	PurchaseExtraGoal    PurchaseType = "extra_goal"
)

// Valid reports whether p is a consumable the service knows how to credit.
func (p PurchaseType) Valid() bool {
	switch p {
	case PurchaseStreakFreeze, PurchaseExtraGoal:
		return true
	}
	return false
}

// Purchase is one credited consumable, keyed by the payment event that paid
// for it. EventID is the deduplication key of the purchase ledger.
type Purchase struct {
	EventID string
	UserID  string
	Type    PurchaseType
}

// ProStatusChange is an absolute write of the pro flag derived from a
// subscription lifecycle event. EventAt is the event creation time and orders
// competing writes; SubscriptionID scopes revocations to the subscription on
// record.
type ProStatusChange struct {
	UserID         string
	IsPro          bool
	SubscriptionID string
	EventAt        time.Time

	// Scoped grants only apply when SubscriptionID is the subscription on
	// record or the user is not currently pro. Status updates set it so an
	// older overlapping subscription cannot take over the record.
	Scoped bool
}

// SubscriptionStatus mirrors the Stripe subscription status values.
type SubscriptionStatus string

const (
	SubscriptionActive            SubscriptionStatus = "active"
	SubscriptionTrialing          SubscriptionStatus = "trialing"
	SubscriptionPastDue           SubscriptionStatus = "past_due"
	SubscriptionCanceled          SubscriptionStatus = "canceled"
	SubscriptionUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionPaused            SubscriptionStatus = "paused"
)

// GrantsPro reports whether a subscription in this status keeps pro access.
// past_due stays entitled while Stripe retries the payment.
func (s SubscriptionStatus) GrantsPro() bool {
	switch s {
	case SubscriptionActive, SubscriptionTrialing, SubscriptionPastDue:
		return true
	}
	return false
}

// StreakRecord is the daily-activity streak of one user.
// A zero LastActivityDate means no activity has been recorded yet.
type StreakRecord struct {
	UserID           string
	CurrentStreak    int
	LongestStreak    int
	LastActivityDate Date
	UpdatedAt        time.Time
}

// CheckoutMode is the Stripe checkout session mode.
type CheckoutMode string

const (
	CheckoutModeSubscription CheckoutMode = "subscription"
	CheckoutModePayment      CheckoutMode = "payment"
)

// CheckoutPlan describes what a named plan sells and how it is charged.
type CheckoutPlan struct {
	Name         string
	PriceID      string
	Mode         CheckoutMode
	TrialDays    int
	PurchaseType PurchaseType // set for payment-mode plans only
}

// CheckoutRequest is the input to creating a hosted checkout session.
type CheckoutRequest struct {
	Plan       CheckoutPlan
	UserID     string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the provider-side session the client redirects to.
type CheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}
