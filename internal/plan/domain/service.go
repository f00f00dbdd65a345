package domain

import (
	"context"
	"errors"
)

// Service exposes the plan and credit pack catalog.
type Service interface {
	Plan(ctx context.Context, planID string) (*Plan, error)
	Plans(ctx context.Context, currency, billingCycle string) ([]PlanOffer, error)

	Pack(ctx context.Context, packID string) (*CreditPack, error)
	PackOffers(ctx context.Context, currency string) ([]PackOffer, error)
	PackPrice(ctx context.Context, packID, currency string) (*CreditPackPrice, error)
	PlanPrice(ctx context.Context, planID, currency, billingCycle string) (*PlanPrice, error)
}

var (
	ErrPlanNotFound  = errors.New("plan_not_found")
	ErrPackNotFound  = errors.New("pack_not_found")
	ErrPriceNotFound = errors.New("price_not_found")
	ErrInvalidInput  = errors.New("invalid_input")
)
