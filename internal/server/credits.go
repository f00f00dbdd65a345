package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	checkoutdomain "github.com/veracify/veracify/internal/checkout/domain"
)

// GetBalance returns the tenant's credit balance and monthly usage.
func (s *Server) GetBalance(c *gin.Context) {
	tenantID, ok := s.tenantID(c)
	if !ok {
		return
	}

	account, err := s.ledger.AccountByTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	snap, err := s.ledger.GetBalance(c.Request.Context(), account.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	planName := snap.PlanID
	if plan, err := s.plans.Plan(c.Request.Context(), snap.PlanID); err == nil {
		planName = plan.Name
	}

	var overage int64
	if snap.UsedThisMonth > snap.MonthlyAllowance {
		overage = snap.UsedThisMonth - snap.MonthlyAllowance
	}
	c.JSON(http.StatusOK, gin.H{
		"credits_balance":         snap.Balance,
		"credits_used_this_month": snap.UsedThisMonth,
		"monthly_allowance":       snap.MonthlyAllowance,
		"plan":                    snap.PlanID,
		"plan_name":               planName,
		"overage_credits":         overage,
	})
}

// ListPacks returns purchasable credit packs in the requested currency.
func (s *Server) ListPacks(c *gin.Context) {
	offers, err := s.plans.PackOffers(c.Request.Context(), c.Query("currency"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packs": offers})
}

// ListPlans returns the subscription plan catalog.
func (s *Server) ListPlans(c *gin.Context) {
	offers, err := s.plans.Plans(c.Request.Context(), c.Query("currency"), c.Query("billing_cycle"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": offers})
}

type purchaseRequest struct {
	PackID    string `json:"pack_id" binding:"required"`
	Currency  string `json:"currency"`
	OriginURL string `json:"origin_url"`
}

// PurchaseCredits opens a checkout session for a credit pack.
func (s *Server) PurchaseCredits(c *gin.Context) {
	tenantID, ok := s.tenantID(c)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("invalid_request", "pack_id is required"))
		return
	}

	account, err := s.ledger.AccountByTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	session, err := s.checkout.CreateSession(c.Request.Context(), account.ID, checkoutdomain.CreateSessionInput{
		Kind:      checkoutdomain.KindCreditPack,
		TargetID:  req.PackID,
		Currency:  req.Currency,
		OriginURL: req.OriginURL,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// GetUsage returns per-action credit consumption over a trailing window.
func (s *Server) GetUsage(c *gin.Context) {
	tenantID, ok := s.tenantID(c)
	if !ok {
		return
	}

	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	account, err := s.ledger.AccountByTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	usage, err := s.ledger.UsageBreakdown(c.Request.Context(), account.ID, days)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "usage": usage})
}

// GetHistory returns recent ledger transactions, newest first.
func (s *Server) GetHistory(c *gin.Context) {
	tenantID, ok := s.tenantID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	account, err := s.ledger.AccountByTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	history, err := s.ledger.History(c.Request.Context(), account.ID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": history})
}

type recordUsageRequest struct {
	ActionKind string `json:"action_kind" binding:"required"`
}

// RecordUsage charges the tenant for one metered action.
func (s *Server) RecordUsage(c *gin.Context) {
	tenantID, ok := s.tenantID(c)
	if !ok {
		return
	}

	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("invalid_request", "action_kind is required"))
		return
	}

	account, err := s.ledger.AccountByTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	record, err := s.metering.Record(c.Request.Context(), account.ID, req.ActionKind)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
