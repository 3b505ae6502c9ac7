package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/ktmr/autotrack/pkg/models"
)

// RuleStore provides classification-rule database operations.
type RuleStore struct {
	db *gorm.DB
}

// NewRuleStore creates a new rule store.
func NewRuleStore(store *Store) *RuleStore {
	return &RuleStore{db: store.DB}
}

// Create inserts a new rule.
func (s *RuleStore) Create(ctx context.Context, projectID int64, ruleType models.RuleType, pattern string, priority int) (models.Rule, error) {
	if !ruleType.Valid() {
		return models.Rule{}, fmt.Errorf("invalid rule type %q", ruleType)
	}
	row := &Rule{
		ProjectID: projectID,
		Type:      ruleType,
		Pattern:   pattern,
		Priority:  priority,
		IsActive:  true,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	return row.toModel(), nil
}

// FindAll returns rules ordered by priority descending, then by ID for a
// deterministic tie-break. With activeOnly, inactive rules are excluded.
func (s *RuleStore) FindAll(ctx context.Context, activeOnly bool) ([]models.Rule, error) {
	q := s.db.WithContext(ctx).Order("priority DESC, id ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}

	var rows []Rule
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find rules: %w", err)
	}
	return toModelRules(rows), nil
}

// FindByProject returns one project's rules, priority descending.
func (s *RuleStore) FindByProject(ctx context.Context, projectID int64, activeOnly bool) ([]models.Rule, error) {
	q := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("priority DESC, id ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}

	var rows []Rule
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find rules for project %d: %w", projectID, err)
	}
	return toModelRules(rows), nil
}

// SetActive flips a rule's active flag.
func (s *RuleStore) SetActive(ctx context.Context, id int64, active bool) error {
	res := s.db.WithContext(ctx).Model(&Rule{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("set rule %d active: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a rule.
func (s *RuleStore) Delete(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&Rule{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete rule %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func toModelRules(rows []Rule) []models.Rule {
	out := make([]models.Rule, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out
}
