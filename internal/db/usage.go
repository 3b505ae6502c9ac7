package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ModelUsage is aggregated usage for one model.
type ModelUsage struct {
	Model        string  `json:"model"`
	TokensIn     int     `json:"tokens_in"`
	TokensOut    int     `json:"tokens_out"`
	Cost         float64 `json:"cost"`
	RequestCount int     `json:"request_count"`
}

// MonthlyUsage is the aggregated reasoning-service usage for one calendar
// month.
type MonthlyUsage struct {
	Month          string       `json:"month"` // YYYY-MM
	TotalTokensIn  int          `json:"total_tokens_in"`
	TotalTokensOut int          `json:"total_tokens_out"`
	TotalCost      float64      `json:"total_cost"`
	RequestCount   int          `json:"request_count"`
	ByModel        []ModelUsage `json:"by_model"`
}

// BudgetStatus reports the month's spend against the configured ceiling.
type BudgetStatus struct {
	MonthlyBudget float64 `json:"monthly_budget"`
	CurrentUsage  float64 `json:"current_usage"`
	Remaining     float64 `json:"remaining"`
	PercentUsed   float64 `json:"percent_used"`
	IsOverBudget  bool    `json:"is_over_budget"`
}

// UsageStore is the budget ledger: every reasoning-service call is
// recorded here and the gate reads the monthly aggregate back.
type UsageStore struct {
	db *gorm.DB
}

// NewUsageStore creates a new usage store.
func NewUsageStore(store *Store) *UsageStore {
	return &UsageStore{db: store.DB}
}

// Record logs one reasoning-service call.
func (s *UsageStore) Record(ctx context.Context, model string, tokensIn, tokensOut int, cost float64, requestType string) error {
	row := &AIUsageLog{
		Model:       model,
		TokensIn:    tokensIn,
		TokensOut:   tokensOut,
		Cost:        cost,
		RequestType: nullString(requestType),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// MonthlyUsage aggregates usage for the month containing now.
func (s *UsageStore) MonthlyUsage(ctx context.Context, now time.Time) (MonthlyUsage, error) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 1, 0)

	var total struct {
		RequestCount   int
		TotalTokensIn  int
		TotalTokensOut int
		TotalCost      float64
	}
	err := s.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) AS request_count,
		       COALESCE(SUM(tokens_in), 0) AS total_tokens_in,
		       COALESCE(SUM(tokens_out), 0) AS total_tokens_out,
		       COALESCE(SUM(cost), 0) AS total_cost
		FROM ai_usage_logs
		WHERE created_at >= ? AND created_at < ?`, start, end).Scan(&total).Error
	if err != nil {
		return MonthlyUsage{}, fmt.Errorf("monthly usage: %w", err)
	}

	var byModel []ModelUsage
	err = s.db.WithContext(ctx).Raw(`
		SELECT model,
		       COUNT(*) AS request_count,
		       COALESCE(SUM(tokens_in), 0) AS tokens_in,
		       COALESCE(SUM(tokens_out), 0) AS tokens_out,
		       COALESCE(SUM(cost), 0) AS cost
		FROM ai_usage_logs
		WHERE created_at >= ? AND created_at < ?
		GROUP BY model
		ORDER BY cost DESC`, start, end).Scan(&byModel).Error
	if err != nil {
		return MonthlyUsage{}, fmt.Errorf("monthly usage by model: %w", err)
	}

	return MonthlyUsage{
		Month:          start.Format("2006-01"),
		TotalTokensIn:  total.TotalTokensIn,
		TotalTokensOut: total.TotalTokensOut,
		TotalCost:      total.TotalCost,
		RequestCount:   total.RequestCount,
		ByModel:        byModel,
	}, nil
}

// MonthlyCost returns just the month's total spend.
func (s *UsageStore) MonthlyCost(ctx context.Context, now time.Time) (float64, error) {
	usage, err := s.MonthlyUsage(ctx, now)
	if err != nil {
		return 0, err
	}
	return usage.TotalCost, nil
}

// BudgetStatus derives the spend-vs-ceiling report for the current month.
func (s *UsageStore) BudgetStatus(ctx context.Context, monthlyBudget float64, now time.Time) (BudgetStatus, error) {
	cost, err := s.MonthlyCost(ctx, now)
	if err != nil {
		return BudgetStatus{}, err
	}

	status := BudgetStatus{
		MonthlyBudget: monthlyBudget,
		CurrentUsage:  cost,
		Remaining:     monthlyBudget - cost,
		IsOverBudget:  cost >= monthlyBudget,
	}
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	if monthlyBudget > 0 {
		status.PercentUsed = cost / monthlyBudget * 100
	}
	return status, nil
}

// DeleteOldLogs removes usage rows older than the retention window and
// returns the number deleted.
func (s *UsageStore) DeleteOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&AIUsageLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete old usage logs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
