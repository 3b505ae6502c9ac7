// Package aijudge asks the reasoning service the two questions the
// tracker cannot answer deterministically: did the work context change,
// and which project is this activity for. Every call is gated by the
// monthly budget and flows through the shared request queue.
package aijudge

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/ktmr/autotrack/internal/llm"
	"github.com/ktmr/autotrack/pkg/models"
)

// Completer is the LLM client surface the service needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Result, error)
	HasCredential() bool
}

// BudgetSource reports the month's spend for the budget gate.
type BudgetSource interface {
	MonthlyCost(ctx context.Context, now time.Time) (float64, error)
}

// Config selects the models and spending ceiling for the service.
type Config struct {
	ChangeModel   string
	JudgmentModel string
	MonthlyBudget float64
}

// Service implements AI change detection and project judgment. Both
// operations are read-only: the caller decides what to do with the
// verdicts.
type Service struct {
	client Completer
	budget BudgetSource
	now    func() time.Time

	mu  sync.RWMutex
	cfg Config
}

// New creates the judgment service.
func New(client Completer, budget BudgetSource, cfg Config) *Service {
	return &Service{
		client: client,
		budget: budget,
		cfg:    cfg,
		now:    time.Now,
	}
}

// HasCredential reports whether external calls are possible at all.
func (s *Service) HasCredential() bool {
	return s.client.HasCredential()
}

// SetConfig swaps the models and spending ceiling at runtime.
func (s *Service) SetConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// withinBudget reports whether this month's spend is still under the
// ceiling. Ledger read failures fail closed: no spend is risked on an
// unknown balance.
func (s *Service) withinBudget(ctx context.Context) bool {
	spent, err := s.budget.MonthlyCost(ctx, s.now())
	if err != nil {
		log.Warn().Err(err).Msg("Budget check failed, skipping external call")
		return false
	}
	return spent < s.config().MonthlyBudget
}

// DetectChange judges whether the work context meaningfully changed
// between the two samples. Cheap structural short-circuits avoid the
// external call entirely where the answer is unambiguous.
func (s *Service) DetectChange(ctx context.Context, current models.ScreenSample, previous *models.ScreenSample) (models.ChangeJudgment, error) {
	if previous == nil {
		return models.ChangeJudgment{HasChange: true, Confidence: 100, Reasoning: "first observation"}, nil
	}
	if current.AppName != previous.AppName {
		return models.ChangeJudgment{HasChange: true, Confidence: 100, Reasoning: "application changed"}, nil
	}
	if current.Hostname() != previous.Hostname() {
		return models.ChangeJudgment{HasChange: true, Confidence: 100, Reasoning: "site changed"}, nil
	}
	if current.Identical(*previous) {
		return models.ChangeJudgment{HasChange: false, Confidence: 100, Reasoning: "identical context"}, nil
	}

	if !s.withinBudget(ctx) {
		return models.ChangeJudgment{Reasoning: "budget exceeded"}, nil
	}

	res, err := s.client.Complete(ctx, llm.Request{
		Model:       s.config().ChangeModel,
		System:      changeSystemPrompt,
		User:        changeUserPrompt(*previous, current),
		Temperature: 0.1,
		MaxTokens:   100,
		RequestType: "change_detection",
	})
	if err != nil {
		return models.ChangeJudgment{}, err
	}

	judgment := parseChangeJudgment(res.Content)
	judgment.TokensUsed = res.TokensIn + res.TokensOut
	judgment.Cost = res.Cost
	return judgment, nil
}

// JudgeProject classifies the sample against the known projects. The
// returned project id and alternatives are guaranteed to reference
// projects from the supplied list; anything else the model invents is
// discarded.
func (s *Service) JudgeProject(ctx context.Context, sample models.ScreenSample, projects []models.Project) (models.ProjectJudgment, error) {
	if len(projects) == 0 {
		return models.ProjectJudgment{Confidence: 100, Reasoning: "no projects to classify against"}, nil
	}

	if !s.withinBudget(ctx) {
		return models.ProjectJudgment{Reasoning: "budget exceeded"}, nil
	}

	res, err := s.client.Complete(ctx, llm.Request{
		Model:       s.config().JudgmentModel,
		System:      judgmentSystemPrompt,
		User:        judgmentUserPrompt(sample, projects),
		Temperature: 0.3,
		MaxTokens:   500,
		RequestType: "project_judgment",
	})
	if err != nil {
		return models.ProjectJudgment{}, err
	}

	judgment := parseProjectJudgment(res.Content, projects)
	judgment.TokensUsed = res.TokensIn + res.TokensOut
	judgment.Cost = res.Cost
	return judgment, nil
}

// parseChangeJudgment extracts the verdict from a completion. Malformed
// responses degrade to a no-change verdict instead of erroring.
func parseChangeJudgment(content string) models.ChangeJudgment {
	obj, ok := extractObject(content)
	if !ok {
		return models.ChangeJudgment{Reasoning: "unparseable response"}
	}
	var raw struct {
		HasChange  bool   `json:"hasChange"`
		Confidence int    `json:"confidence"`
		Reasoning  string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		log.Debug().Err(err).Msg("Change judgment JSON did not parse")
		return models.ChangeJudgment{Reasoning: "unparseable response"}
	}
	return models.ChangeJudgment{
		HasChange:  raw.HasChange,
		Confidence: clampConfidence(raw.Confidence),
		Reasoning:  raw.Reasoning,
	}
}

func parseProjectJudgment(content string, projects []models.Project) models.ProjectJudgment {
	obj, ok := extractObject(content)
	if !ok {
		return models.ProjectJudgment{Reasoning: "unparseable response"}
	}
	var raw struct {
		ProjectID    *int64 `json:"projectId"`
		Confidence   int    `json:"confidence"`
		Reasoning    string `json:"reasoning"`
		IsWork       *bool  `json:"isWork"`
		Alternatives []struct {
			ProjectID int64 `json:"projectId"`
			Score     int   `json:"score"`
		} `json:"alternatives"`
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		log.Debug().Err(err).Msg("Project judgment JSON did not parse")
		return models.ProjectJudgment{Reasoning: "unparseable response"}
	}

	judgment := models.ProjectJudgment{
		Confidence: clampConfidence(raw.Confidence),
		Reasoning:  raw.Reasoning,
		IsWork:     true,
	}
	if raw.IsWork != nil {
		judgment.IsWork = *raw.IsWork
	}
	if raw.ProjectID != nil {
		if p := models.FindProject(projects, *raw.ProjectID); p != nil {
			id := p.ID
			judgment.ProjectID = &id
			judgment.ProjectName = p.Name
		} else {
			log.Debug().Int64("project_id", *raw.ProjectID).Msg("Discarding unknown project id from judgment")
		}
	}
	for _, alt := range raw.Alternatives {
		p := models.FindProject(projects, alt.ProjectID)
		if p == nil {
			continue
		}
		judgment.Alternatives = append(judgment.Alternatives, models.Alternative{
			ProjectID:   p.ID,
			ProjectName: p.Name,
			Score:       clampConfidence(alt.Score),
		})
	}
	return judgment
}

func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
