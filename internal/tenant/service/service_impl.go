package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/veracify/veracify/internal/audit/domain"
	autorefilldomain "github.com/veracify/veracify/internal/autorefill/domain"
	"github.com/veracify/veracify/internal/auth/password"
	"github.com/veracify/veracify/internal/clock"
	"github.com/veracify/veracify/internal/events"
	ledgerdomain "github.com/veracify/veracify/internal/ledger/domain"
	plandomain "github.com/veracify/veracify/internal/plan/domain"
	"github.com/veracify/veracify/internal/tenant/domain"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Outbox  *events.Outbox
	Ledger  ledgerdomain.Service
	Plans   plandomain.Service
	Refills autorefilldomain.Service
	Audit   auditdomain.Service `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	outbox  *events.Outbox
	ledger  ledgerdomain.Service
	plans   plandomain.Service
	refills autorefilldomain.Service
	audit   auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("tenant.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		outbox:  p.Outbox,
		ledger:  p.Ledger,
		plans:   p.Plans,
		refills: p.Refills,
		audit:   p.Audit,
	}
}

// Provision creates a tenant, its credit account on the requested plan,
// a disabled auto-refill policy, and the first API key.
func (s *Service) Provision(ctx context.Context, input domain.ProvisionInput) (*domain.ProvisionResult, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Slug = strings.ToLower(strings.TrimSpace(input.Slug))
	if input.Name == "" || input.Slug == "" || len(input.PortalPassword) < 8 {
		return nil, domain.ErrInvalidInput
	}

	planID := strings.TrimSpace(input.PlanID)
	if planID == "" {
		planID = plandomain.PlanFree
	}
	plan, err := s.plans.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}

	passwordHash, err := password.Hash(input.PortalPassword)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	tenant := &domain.Tenant{
		ID:                 s.genID.Generate(),
		Name:               input.Name,
		Slug:               input.Slug,
		PortalPasswordHash: passwordHash,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	res := s.db.WithContext(ctx).Exec(`
		INSERT INTO tenants (id, name, slug, portal_password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (slug) DO NOTHING
	`, tenant.ID, tenant.Name, tenant.Slug, tenant.PortalPasswordHash, tenant.CreatedAt, tenant.UpdatedAt)
	if res.Error != nil {
		return nil, fmt.Errorf("create tenant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrSlugTaken
	}

	account, err := s.ledger.EnsureAccount(ctx, tenant.ID, plan.ID, plan.MonthlyAllowance, now.AddDate(0, 1, 0))
	if err != nil {
		return nil, err
	}
	if _, err := s.refills.EnsureSettings(ctx, account.ID); err != nil {
		return nil, err
	}

	plainKey, _, err := s.CreateAPIKey(ctx, tenant.ID, "default")
	if err != nil {
		return nil, err
	}

	publishErr := s.outbox.Publish(ctx, events.Event{
		TenantID:  tenant.ID,
		Type:      events.EventTenantProvisioned,
		DedupeKey: "provision:" + tenant.ID.String(),
		Payload: map[string]any{
			"tenant_id": tenant.ID.String(),
			"slug":      tenant.Slug,
			"plan_id":   plan.ID,
		},
	})
	if publishErr != nil {
		s.log.Warn("tenant event publish failed", zap.Error(publishErr))
	}

	if s.audit != nil {
		_ = s.audit.AuditLog(ctx, &tenant.ID, string(auditdomain.ActorTypeSystem), nil,
			"tenant.provisioned", "tenant", strPtr(tenant.Slug), map[string]any{"plan_id": plan.ID})
	}

	s.log.Info("tenant provisioned",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("slug", tenant.Slug),
		zap.String("plan_id", plan.ID),
	)
	return &domain.ProvisionResult{Tenant: tenant, APIKey: plainKey}, nil
}

func (s *Service) TenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := s.db.WithContext(ctx).
		Where("slug = ?", strings.ToLower(strings.TrimSpace(slug))).
		First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *Service) TenantByID(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *Service) VerifyPortalPassword(ctx context.Context, slug, pass string) (*domain.Tenant, error) {
	tenant, err := s.TenantBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !password.Verify(pass, tenant.PortalPasswordHash) {
		return nil, domain.ErrInvalidPassword
	}
	return tenant, nil
}

// CreateAPIKey mints a new key and returns the plaintext once.
func (s *Service) CreateAPIKey(ctx context.Context, tenantID snowflake.ID, name string) (string, *domain.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, domain.ErrInvalidInput
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate api key: %w", err)
	}
	plainKey := "vk_" + hex.EncodeToString(raw)

	key := &domain.APIKey{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Name:      name,
		KeyHash:   domain.HashAPIKey(plainKey),
		IsActive:  true,
		CreatedAt: s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return "", nil, fmt.Errorf("store api key: %w", err)
	}
	return plainKey, key, nil
}

func (s *Service) AuthenticateAPIKey(ctx context.Context, plainKey string) (*domain.APIKey, error) {
	plainKey = strings.TrimSpace(plainKey)
	if plainKey == "" {
		return nil, domain.ErrAPIKeyInvalid
	}

	var key domain.APIKey
	err := s.db.WithContext(ctx).
		Where("key_hash = ? AND is_active", domain.HashAPIKey(plainKey)).
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAPIKeyInvalid
	}
	if err != nil {
		return nil, err
	}
	if key.Expired(s.clock.Now()) {
		return nil, domain.ErrAPIKeyInvalid
	}
	return &key, nil
}

func (s *Service) RevokeAPIKey(ctx context.Context, tenantID, keyID snowflake.ID) error {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE api_keys SET is_active = false
		WHERE id = ? AND tenant_id = ?
	`, keyID, tenantID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAPIKeyNotFound
	}

	if s.audit != nil {
		_ = s.audit.AuditLog(ctx, &tenantID, string(auditdomain.ActorTypeSystem), nil,
			"api_key.revoked", "api_key", strPtr(keyID.String()), nil)
	}
	return nil
}

func strPtr(s string) *string { return &s }
