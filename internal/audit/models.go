package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Events are never updated or deleted. Audit writes are best-effort; money
// flows never fail because an audit append failed.
type Event struct {
	ID   string    `json:"id" bson:"_id"`
	Type EventType `json:"type" bson:"type"`

	// Actor is the authenticated account causing the event, 0 for system jobs.
	ActorAccountID int64  `json:"actor_account_id,omitempty" bson:"actor_account_id,omitempty"`
	ActorRole      string `json:"actor_role,omitempty" bson:"actor_role,omitempty"`
	IPAddress      string `json:"ip_address,omitempty" bson:"ip_address,omitempty"`

	// Target of the event.
	AccountID int64  `json:"account_id,omitempty" bson:"account_id,omitempty"`
	Reference string `json:"reference,omitempty" bson:"reference,omitempty"`

	Message  string            `json:"message,omitempty" bson:"message,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

type EventType string

const (
	EventTypeAdminCredit        EventType = "admin_credit"
	EventTypeMarginApplied      EventType = "margin_applied"
	EventTypePriceOverridden    EventType = "price_overridden"
	EventTypeBasePriceUpdated   EventType = "base_price_updated"
	EventTypeFundingExpired     EventType = "funding_expired"
	EventTypeLateSettlement     EventType = "funding_late_settlement"
	EventTypeProvisioningRefund EventType = "provisioning_refund"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type      EventType
	AccountID int64
	Limit     int
}

func (f Filter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return 100
	}
	return f.Limit
}
