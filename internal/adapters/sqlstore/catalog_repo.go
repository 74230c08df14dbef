package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/manthysbr/inspectd/internal/core/domain"
)

// catalogKey normalizes identity parts so "128 GB" and "128gb" share a row.
func catalogKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func (r *Repository) LookupBasePrice(ctx context.Context, brand, model, storage string) (float64, error) {
	var price float64
	err := r.queryRow(ctx, `
		SELECT base_price FROM device_models
		WHERE brand_key = ? AND model_key = ? AND storage_key = ? AND is_active`,
		catalogKey(brand), catalogKey(model), catalogKey(storage),
	).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrDeviceModelNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup base price: %w", err)
	}
	return price, nil
}

func (r *Repository) UpsertDeviceModel(ctx context.Context, m domain.DeviceModel) error {
	updated := m.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := r.exec(ctx, `
		INSERT INTO device_models (brand_key, model_key, storage_key, brand, model, storage_capacity, base_price, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (brand_key, model_key, storage_key) DO UPDATE SET
			brand = excluded.brand,
			model = excluded.model,
			storage_capacity = excluded.storage_capacity,
			base_price = excluded.base_price,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		catalogKey(m.Brand), catalogKey(m.Model), catalogKey(m.StorageCapacity),
		m.Brand, m.Model, m.StorageCapacity, m.BasePrice, m.Active, updated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert device model: %w", err)
	}
	return nil
}

// ListDeviceModels returns every catalog row ordered by brand and model.
func (r *Repository) ListDeviceModels(ctx context.Context) ([]domain.DeviceModel, error) {
	rows, err := r.query(ctx, `
		SELECT brand, model, storage_capacity, base_price, is_active, updated_at
		FROM device_models ORDER BY brand_key, model_key, storage_key`)
	if err != nil {
		return nil, fmt.Errorf("list device models: %w", err)
	}
	defer rows.Close()

	models := []domain.DeviceModel{}
	for rows.Next() {
		var m domain.DeviceModel
		if err := rows.Scan(&m.Brand, &m.Model, &m.StorageCapacity, &m.BasePrice, &m.Active, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.UpdatedAt = m.UpdatedAt.UTC()
		models = append(models, m)
	}
	return models, rows.Err()
}

// ListPricingRules returns every rule, active or not, in evaluation order.
func (r *Repository) ListPricingRules(ctx context.Context) ([]domain.PricingRule, error) {
	rows, err := r.query(ctx, `
		SELECT id, position, target, category, reason, keywords, deduction_type, deduction_value, threshold, is_active
		FROM pricing_rules ORDER BY position ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pricing rules: %w", err)
	}
	defer rows.Close()

	rules := []domain.PricingRule{}
	for rows.Next() {
		var (
			rule             domain.PricingRule
			target, kind, kw string
		)
		if err := rows.Scan(&rule.ID, &rule.Position, &target, &rule.Category, &rule.Reason, &kw, &kind, &rule.Value, &rule.Threshold, &rule.Active); err != nil {
			return nil, err
		}
		rule.Target = domain.RuleTarget(target)
		rule.Kind = domain.DeductionKind(kind)
		if err := json.Unmarshal([]byte(kw), &rule.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords of rule %s: %w", rule.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// SavePricingRule inserts or replaces a rule. A rule without a position is
// appended after the last one.
func (r *Repository) SavePricingRule(ctx context.Context, rule domain.PricingRule) error {
	if rule.Position == 0 {
		var max sql.NullInt64
		if err := r.queryRow(ctx, `SELECT MAX(position) FROM pricing_rules`).Scan(&max); err != nil {
			return fmt.Errorf("next rule position: %w", err)
		}
		rule.Position = int(max.Int64) + 10
	}

	keywords := rule.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	kw, err := marshalText(keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}

	_, err = r.exec(ctx, `
		INSERT INTO pricing_rules (id, position, target, category, reason, keywords, deduction_type, deduction_value, threshold, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			position = excluded.position,
			target = excluded.target,
			category = excluded.category,
			reason = excluded.reason,
			keywords = excluded.keywords,
			deduction_type = excluded.deduction_type,
			deduction_value = excluded.deduction_value,
			threshold = excluded.threshold,
			is_active = excluded.is_active`,
		rule.ID, rule.Position, string(rule.Target), rule.Category, rule.Reason, kw,
		string(rule.Kind), rule.Value, rule.Threshold, rule.Active,
	)
	if err != nil {
		return fmt.Errorf("save pricing rule: %w", err)
	}
	return nil
}
