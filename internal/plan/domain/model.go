// Package domain defines subscription plans and one-time credit packs.
package domain

import "time"

// BillingCycle values accepted on plan prices.
const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

// PlanFree is the zero-cost default plan.
const PlanFree = "free"

// Plan is a subscription tier with a monthly credit allowance.
type Plan struct {
	ID               string    `gorm:"primaryKey" json:"id"`
	Name             string    `gorm:"type:text;not null" json:"name"`
	MonthlyAllowance int64     `gorm:"not null" json:"monthly_allowance"`
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// IsFree reports whether the plan requires no payment.
func (p Plan) IsFree() bool { return p.ID == PlanFree }

// PlanPrice is the price of a plan in one currency and billing cycle.
type PlanPrice struct {
	PlanID       string `gorm:"primaryKey" json:"plan_id"`
	Currency     string `gorm:"primaryKey" json:"currency"`
	BillingCycle string `gorm:"primaryKey" json:"billing_cycle"`
	UnitAmount   int64  `gorm:"not null" json:"unit_amount"`
}

// TableName sets the database table name.
func (PlanPrice) TableName() string { return "plan_prices" }

// CreditPack is a one-time purchasable credit bundle.
type CreditPack struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	Credits   int64     `gorm:"not null" json:"credits"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (CreditPack) TableName() string { return "credit_packs" }

// CreditPackPrice is the price of a pack in one currency.
type CreditPackPrice struct {
	PackID     string `gorm:"primaryKey" json:"pack_id"`
	Currency   string `gorm:"primaryKey" json:"currency"`
	UnitAmount int64  `gorm:"not null" json:"unit_amount"`
}

// TableName sets the database table name.
func (CreditPackPrice) TableName() string { return "credit_pack_prices" }

// PackOffer is a catalog row: a pack with its localized price and the
// derived value metrics shown on the purchase page.
type PackOffer struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Credits        int64   `json:"credits"`
	Currency       string  `json:"currency"`
	UnitAmount     int64   `json:"price"`
	PerCreditRate  float64 `json:"per_credit_rate"`
	SavingsPercent float64 `json:"savings_percent"`
}

// PlanOffer is a catalog row for a subscription plan.
type PlanOffer struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	MonthlyAllowance int64  `json:"monthly_allowance"`
	Currency         string `json:"currency"`
	BillingCycle     string `json:"billing_cycle"`
	UnitAmount       int64  `json:"unit_amount"`
	Free             bool   `json:"free"`
}
