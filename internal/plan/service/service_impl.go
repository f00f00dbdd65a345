package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/veracify/veracify/internal/cache"
	"github.com/veracify/veracify/internal/plan/domain"
)

const catalogCacheTTL = 10 * time.Minute

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	plans  cache.Cache[string, []domain.PlanOffer]
	offers cache.Cache[string, []domain.PackOffer]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("plan.service"),
		plans:  cache.NewTTLCache[string, []domain.PlanOffer](),
		offers: cache.NewTTLCache[string, []domain.PackOffer](),
	}
}

func normalizeCurrency(currency string) string {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "usd"
	}
	return currency
}

func (s *Service) Plan(ctx context.Context, planID string) (*domain.Plan, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil, domain.ErrInvalidInput
	}
	var plan domain.Plan
	err := s.db.WithContext(ctx).Where("id = ?", planID).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *Service) Plans(ctx context.Context, currency, billingCycle string) ([]domain.PlanOffer, error) {
	currency = normalizeCurrency(currency)
	billingCycle = strings.TrimSpace(billingCycle)
	if billingCycle == "" {
		billingCycle = domain.BillingCycleMonthly
	}

	cacheKey := currency + ":" + billingCycle
	if offers, ok := s.plans.Get(cacheKey); ok {
		return offers, nil
	}

	var rows []domain.PlanOffer
	err := s.db.WithContext(ctx).Raw(`
		SELECT p.id,
		       p.name,
		       p.monthly_allowance,
		       COALESCE(pp.currency, ?) AS currency,
		       COALESCE(pp.billing_cycle, ?) AS billing_cycle,
		       COALESCE(pp.unit_amount, 0) AS unit_amount
		FROM plans p
		LEFT JOIN plan_prices pp
		       ON pp.plan_id = p.id AND pp.currency = ? AND pp.billing_cycle = ?
		ORDER BY p.monthly_allowance ASC
	`, currency, billingCycle, currency, billingCycle).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Free = rows[i].ID == domain.PlanFree
	}

	s.plans.Set(cacheKey, rows, catalogCacheTTL)
	return rows, nil
}

func (s *Service) Pack(ctx context.Context, packID string) (*domain.CreditPack, error) {
	packID = strings.TrimSpace(packID)
	if packID == "" {
		return nil, domain.ErrInvalidInput
	}
	var pack domain.CreditPack
	err := s.db.WithContext(ctx).Where("id = ?", packID).First(&pack).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPackNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pack, nil
}

// PackOffers lists purchasable packs in a currency, most expensive last.
// SavingsPercent compares each pack's per-credit rate against the worst
// rate in the catalog, which is how bulk discounts are surfaced.
func (s *Service) PackOffers(ctx context.Context, currency string) ([]domain.PackOffer, error) {
	currency = normalizeCurrency(currency)
	if offers, ok := s.offers.Get(currency); ok {
		return offers, nil
	}

	var rows []domain.PackOffer
	err := s.db.WithContext(ctx).Raw(`
		SELECT cp.id, cp.name, cp.credits, cpp.currency, cpp.unit_amount
		FROM credit_packs cp
		JOIN credit_pack_prices cpp ON cpp.pack_id = cp.id
		WHERE cpp.currency = ?
		ORDER BY cp.credits ASC
	`, currency).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	var worstRate float64
	for i := range rows {
		if rows[i].Credits > 0 {
			rows[i].PerCreditRate = round4(float64(rows[i].UnitAmount) / float64(rows[i].Credits))
		}
		if rows[i].PerCreditRate > worstRate {
			worstRate = rows[i].PerCreditRate
		}
	}
	if worstRate > 0 {
		for i := range rows {
			savings := (worstRate - rows[i].PerCreditRate) / worstRate * 100
			rows[i].SavingsPercent = round4(savings)
		}
	}

	s.offers.Set(currency, rows, catalogCacheTTL)
	return rows, nil
}

func (s *Service) PackPrice(ctx context.Context, packID, currency string) (*domain.CreditPackPrice, error) {
	currency = normalizeCurrency(currency)
	var price domain.CreditPackPrice
	err := s.db.WithContext(ctx).
		Where("pack_id = ? AND currency = ?", strings.TrimSpace(packID), currency).
		First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPriceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &price, nil
}

func (s *Service) PlanPrice(ctx context.Context, planID, currency, billingCycle string) (*domain.PlanPrice, error) {
	currency = normalizeCurrency(currency)
	if strings.TrimSpace(billingCycle) == "" {
		billingCycle = domain.BillingCycleMonthly
	}
	var price domain.PlanPrice
	err := s.db.WithContext(ctx).
		Where("plan_id = ? AND currency = ? AND billing_cycle = ?", strings.TrimSpace(planID), currency, billingCycle).
		First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPriceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &price, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
