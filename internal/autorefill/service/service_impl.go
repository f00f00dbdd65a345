package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/veracify/veracify/internal/audit/domain"
	"github.com/veracify/veracify/internal/autorefill/domain"
	"github.com/veracify/veracify/internal/clock"
	"github.com/veracify/veracify/internal/events"
	ledgerdomain "github.com/veracify/veracify/internal/ledger/domain"
	plandomain "github.com/veracify/veracify/internal/plan/domain"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Outbox *events.Outbox
	Ledger ledgerdomain.Service
	Plans  plandomain.Service
	Audit  auditdomain.Service `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	outbox *events.Outbox
	ledger ledgerdomain.Service
	plans  plandomain.Service
	audit  auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("autorefill.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		outbox: p.Outbox,
		ledger: p.Ledger,
		plans:  p.Plans,
		audit:  p.Audit,
	}
}

// EnsureSettings creates a disabled policy row for the account if none
// exists yet, so GET always has something to return.
func (s *Service) EnsureSettings(ctx context.Context, accountID snowflake.ID) (*domain.Settings, error) {
	now := s.clock.Now()
	res := s.db.WithContext(ctx).Exec(`
		INSERT INTO auto_refill_settings (id, account_id, enabled, threshold_credits, refill_pack_id, max_refills_per_month, refills_this_month, created_at, updated_at)
		VALUES (?, ?, false, 0, '', 0, 0, ?, ?)
		ON CONFLICT (account_id) DO NOTHING
	`, s.genID.Generate(), accountID, now, now)
	if res.Error != nil {
		return nil, fmt.Errorf("ensure refill settings: %w", res.Error)
	}
	return s.GetSettings(ctx, accountID)
}

func (s *Service) GetSettings(ctx context.Context, accountID snowflake.ID) (*domain.Settings, error) {
	var settings domain.Settings
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSettingsNotFound
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSettings replaces the policy. The monthly counter is not reset:
// tightening or loosening the policy mid-cycle keeps refills already
// consumed this month counted against the cap.
func (s *Service) UpdateSettings(ctx context.Context, accountID snowflake.ID, input domain.UpdateInput) (*domain.Settings, error) {
	if input.Enabled {
		if input.ThresholdCredits <= 0 {
			return nil, domain.ErrInvalidThreshold
		}
		if input.MaxRefillsPerMonth <= 0 {
			return nil, domain.ErrInvalidCap
		}
		input.RefillPackID = strings.TrimSpace(input.RefillPackID)
		if input.RefillPackID == "" {
			return nil, domain.ErrMissingPack
		}
		if _, err := s.plans.Pack(ctx, input.RefillPackID); err != nil {
			return nil, err
		}
	}

	if _, err := s.EnsureSettings(ctx, accountID); err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Exec(`
		UPDATE auto_refill_settings
		SET enabled = ?, threshold_credits = ?, refill_pack_id = ?, max_refills_per_month = ?, updated_at = ?
		WHERE account_id = ?
	`, input.Enabled, input.ThresholdCredits, input.RefillPackID, input.MaxRefillsPerMonth, s.clock.Now(), accountID)
	if res.Error != nil {
		return nil, res.Error
	}

	settings, err := s.GetSettings(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account, err := s.ledger.AccountByID(ctx, accountID); err == nil {
		if s.audit != nil {
			accountRef := accountID.String()
			auditErr := s.audit.AuditLog(ctx, &account.TenantID, "", nil, "auto_refill.settings_updated", "credit_account", &accountRef, map[string]any{
				"enabled":               settings.Enabled,
				"threshold_credits":     settings.ThresholdCredits,
				"refill_pack_id":        settings.RefillPackID,
				"max_refills_per_month": settings.MaxRefillsPerMonth,
			})
			if auditErr != nil {
				s.log.Warn("refill settings audit write failed", zap.Error(auditErr))
			}
		}
		publishErr := s.outbox.Publish(ctx, events.Event{
			TenantID:  account.TenantID,
			Type:      events.EventSettingsUpdated,
			DedupeKey: fmt.Sprintf("refill_settings:%s:%d", accountID, settings.UpdatedAt.UnixNano()),
			Payload: map[string]any{
				"account_id":            accountID.String(),
				"enabled":               settings.Enabled,
				"threshold_credits":     settings.ThresholdCredits,
				"refill_pack_id":        settings.RefillPackID,
				"max_refills_per_month": settings.MaxRefillsPerMonth,
			},
		})
		if publishErr != nil {
			s.log.Warn("refill settings event publish failed", zap.Error(publishErr))
		}
	}
	return settings, nil
}
