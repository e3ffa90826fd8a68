/*
Package events publishes reward notifications to RabbitMQ.

PURPOSE:
  The surrounding application (mail templates, analytics, the storefront)
  reacts to point movements. This package pushes those signals onto a
  durable topic exchange so the ledger never calls its consumers directly.

ROUTING KEYS:
  points.credited     A credit entry committed (signup/referral/order/admin)
  points.redeemed     A redemption entry committed
  referral.completed  A referral edge transitioned to completed

DELIVERY:
  Best-effort. Publishing happens after the ledger transaction commits and
  a failure is logged, never propagated: the ledger is the source of
  truth, the event stream is a convenience. Consumers that need exactness
  read the statement endpoints instead.
*/
package events

import (
	"context"
	"time"
)

// Publisher is the outbound event sink. The AMQP producer implements it for
// production; NopPublisher stands in when no broker is configured.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
	Close()
}

const (
	KeyPointsCredited    = "points.credited"
	KeyPointsRedeemed    = "points.redeemed"
	KeyReferralCompleted = "referral.completed"
)

// PointsEvent is published when a ledger entry commits.
type PointsEvent struct {
	EntryID   string    `json:"entry_id"`
	AccountID string    `json:"account_id"`
	Reason    string    `json:"reason"`
	Delta     int64     `json:"delta"`
	Balance   int64     `json:"balance"`
	SourceRef string    `json:"source_ref,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReferralEvent is published when an edge transitions to completed.
type ReferralEvent struct {
	EdgeID     string    `json:"edge_id"`
	ReferrerID string    `json:"referrer_id"`
	RefereeID  string    `json:"referee_id"`
	Timestamp  time.Time `json:"timestamp"`
}
