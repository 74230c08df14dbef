package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/ports"
)

// CatalogService administers base prices and the deduction rule table.
type CatalogService struct {
	logger  *slog.Logger
	catalog ports.PriceCatalog
	engine  *ValuationEngine
}

func NewCatalogService(logger *slog.Logger, catalog ports.PriceCatalog, engine *ValuationEngine) *CatalogService {
	return &CatalogService{logger: logger, catalog: catalog, engine: engine}
}

// AddDeviceModel inserts or replaces the base price of one configuration.
func (s *CatalogService) AddDeviceModel(ctx context.Context, m domain.DeviceModel) (domain.DeviceModel, error) {
	m.Brand = strings.TrimSpace(m.Brand)
	m.Model = strings.TrimSpace(m.Model)
	m.StorageCapacity = strings.TrimSpace(m.StorageCapacity)

	switch {
	case m.Brand == "":
		return m, domain.NewInputError("brand", "is required")
	case m.Model == "":
		return m, domain.NewInputError("model", "is required")
	case m.StorageCapacity == "":
		return m, domain.NewInputError("storage_capacity", "is required")
	case m.BasePrice < 0:
		return m, domain.NewInputError("base_price", "must not be negative")
	}
	m.Active = true
	m.UpdatedAt = time.Now().UTC()

	if err := s.catalog.UpsertDeviceModel(ctx, m); err != nil {
		return m, fmt.Errorf("save device model: %w", err)
	}
	s.logger.Info("device model saved", "brand", m.Brand, "model", m.Model, "storage", m.StorageCapacity, "base_price", m.BasePrice)
	return m, nil
}

// AddPricingRule stores a rule and makes it live for the next valuation.
func (s *CatalogService) AddPricingRule(ctx context.Context, r domain.PricingRule) (domain.PricingRule, error) {
	if !r.Target.Valid() {
		return r, domain.NewInputError("target", "unknown target %q", r.Target)
	}
	if r.Kind == "" {
		r.Kind = domain.DeductionAmount
	}
	if !r.Kind.Valid() {
		return r, domain.NewInputError("deduction_type", "must be AMOUNT or PERCENTAGE")
	}
	if r.Value < 0 {
		return r, domain.NewInputError("deduction_value", "must not be negative")
	}
	if r.Target == domain.TargetBatteryCapacity {
		if r.Threshold <= 0 || r.Threshold > 100 {
			return r, domain.NewInputError("threshold", "must be within (0, 100]")
		}
	} else if len(nonBlank(r.Keywords)) == 0 {
		return r, domain.NewInputError("keywords", "at least one keyword is required")
	}
	r.Keywords = nonBlank(r.Keywords)
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if strings.TrimSpace(r.Category) == "" {
		r.Category = defaultCategory(r.Target)
	}

	if err := s.catalog.SavePricingRule(ctx, r); err != nil {
		return r, fmt.Errorf("save pricing rule: %w", err)
	}
	if err := s.engine.ReloadRules(ctx); err != nil {
		s.logger.Warn("rule saved but reload failed", "rule_id", r.ID, "error", err)
	}
	return r, nil
}

func (s *CatalogService) ListDeviceModels(ctx context.Context) ([]domain.DeviceModel, error) {
	return s.catalog.ListDeviceModels(ctx)
}

func (s *CatalogService) ListPricingRules(ctx context.Context) ([]domain.PricingRule, error) {
	return s.catalog.ListPricingRules(ctx)
}

func defaultCategory(t domain.RuleTarget) string {
	switch t {
	case domain.TargetAppearanceTier, domain.TargetAppearanceIssue:
		return "appearance"
	case domain.TargetScreenIssue:
		return "screen"
	case domain.TargetBatteryCapacity:
		return "battery"
	default:
		return "camera"
	}
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
