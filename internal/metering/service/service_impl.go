package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/veracify/veracify/internal/cache"
	"github.com/veracify/veracify/internal/clock"
	ledgerdomain "github.com/veracify/veracify/internal/ledger/domain"
	"github.com/veracify/veracify/internal/metering/domain"
)

const overrideCacheTTL = 5 * time.Minute

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Ledger ledgerdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	ledger    ledgerdomain.Service
	overrides cache.Cache[string, int64]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("metering.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		ledger:    p.Ledger,
		overrides: cache.NewTTLCache[string, int64](),
	}
}

func overrideCacheKey(accountID snowflake.ID, actionKind string) string {
	return accountID.String() + ":" + actionKind
}

func (s *Service) Cost(ctx context.Context, accountID snowflake.ID, actionKind string) (int64, error) {
	actionKind = strings.TrimSpace(actionKind)
	base, known := domain.DefaultCosts[actionKind]
	if !known {
		return 0, domain.ErrUnknownActionKind
	}

	key := overrideCacheKey(accountID, actionKind)
	if credits, ok := s.overrides.Get(key); ok {
		return credits, nil
	}

	var override domain.CostOverride
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND action_kind = ?", accountID, actionKind).
		First(&override).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.overrides.Set(key, base, overrideCacheTTL)
		return base, nil
	}
	if err != nil {
		return 0, err
	}

	s.overrides.Set(key, override.Credits, overrideCacheTTL)
	return override.Credits, nil
}

func (s *Service) Record(ctx context.Context, accountID snowflake.ID, actionKind string) (*domain.UsageRecord, error) {
	credits, err := s.Cost(ctx, accountID, actionKind)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownActionKind) {
			s.log.Warn("rejected unknown action kind",
				zap.String("account_id", accountID.String()),
				zap.String("action_kind", actionKind),
			)
		}
		return nil, err
	}

	entry, err := s.ledger.Debit(ctx, accountID, credits, strings.TrimSpace(actionKind))
	if err != nil {
		return nil, err
	}
	return &domain.UsageRecord{
		ActionKind:   entry.ActionKind,
		Credits:      entry.CreditsConsumed,
		BalanceAfter: entry.BalanceAfter,
	}, nil
}

func (s *Service) SetCostOverride(ctx context.Context, accountID snowflake.ID, actionKind string, credits int64) error {
	actionKind = strings.TrimSpace(actionKind)
	if _, known := domain.DefaultCosts[actionKind]; !known {
		return domain.ErrUnknownActionKind
	}
	if credits <= 0 {
		return domain.ErrInvalidCost
	}

	now := s.clock.Now()
	res := s.db.WithContext(ctx).Exec(`
		INSERT INTO metering_costs (id, account_id, action_kind, credits, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, action_kind) DO UPDATE SET credits = excluded.credits, updated_at = excluded.updated_at
	`, s.genID.Generate(), accountID, actionKind, credits, now, now)
	if res.Error != nil {
		return fmt.Errorf("set cost override: %w", res.Error)
	}

	s.overrides.Delete(overrideCacheKey(accountID, actionKind))
	return nil
}
