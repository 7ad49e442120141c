package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscription plan tiers. A team with no active subscription has an
// empty PlanTier and resolves to a zero credit allocation.
const (
	PlanStarter = "starter"
	PlanUltra   = "ultra"
)

// PlanCredits maps a plan tier to its monthly credit allotment.
var PlanCredits = map[string]decimal.Decimal{
	PlanStarter: decimal.RequireFromString("315.00"),  // 300 images + 3 videos
	PlanUltra:   decimal.RequireFromString("1750.00"), // 1,000 images + 150 videos
}

// PlanPriority maps a plan tier to its queue priority (lower = served first).
var PlanPriority = map[string]int{
	PlanStarter: 10,
	PlanUltra:   1,
}

// DefaultPriority is used when the team has no recognized plan.
const DefaultPriority = 10

// AllocationFor returns the monthly credit allotment for a plan tier.
// Unknown or empty tiers (lapsed subscriptions) allocate zero.
func AllocationFor(planTier string) decimal.Decimal {
	if c, ok := PlanCredits[planTier]; ok {
		return c
	}
	return decimal.Zero
}

// PriorityFor returns the job queue priority for a plan tier.
func PriorityFor(planTier string) int {
	if p, ok := PlanPriority[planTier]; ok {
		return p
	}
	return DefaultPriority
}

type Team struct {
	ID                    int64      `json:"id"`
	Name                  string     `json:"name"`
	PlanTier              string     `json:"plan_tier"`
	BillingCustomerID     *string    `json:"billing_customer_id,omitempty"`
	BillingSubscriptionID *string    `json:"billing_subscription_id,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	DeletedAt             *time.Time `json:"deleted_at,omitempty"`
}
