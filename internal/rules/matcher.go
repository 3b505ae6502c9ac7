// Package rules evaluates user-authored classification rules against
// screen samples. Matching is deterministic: rules are tried in priority
// order and the first hit wins with full confidence.
package rules

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/ktmr/autotrack/pkg/models"
)

// evalBudget is a soft per-rule evaluation budget. Exceeding it does not
// abort the match; it is logged so the offending pattern can be fixed.
const evalBudget = 100 * time.Millisecond

// RuleSource provides the active rule set, ordered by descending priority.
type RuleSource interface {
	FindAll(ctx context.Context, activeOnly bool) ([]models.Rule, error)
}

// ProjectRuleSource is implemented by sources that can scope the rule
// set to one project.
type ProjectRuleSource interface {
	FindByProject(ctx context.Context, projectID int64, activeOnly bool) ([]models.Rule, error)
}

// Matcher matches screen samples against the stored rule set. Compiled
// regular expressions are cached per pattern.
type Matcher struct {
	source RuleSource

	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

// NewMatcher creates a matcher backed by the given rule source.
func NewMatcher(source RuleSource) *Matcher {
	return &Matcher{
		source: source,
		cache:  map[string]*regexp.Regexp{},
	}
}

// Match loads the active rules and returns the highest-priority rule that
// matches the sample, or nil when none match. Individual rule failures
// (bad regex, malformed keyword list) are logged and skipped; matching
// itself never fails on rule content.
func (m *Matcher) Match(ctx context.Context, sample models.ScreenSample, extraKeywords []string) (*models.MatchedRule, error) {
	ruleSet, err := m.source.FindAll(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return m.MatchRules(ruleSet, sample, extraKeywords), nil
}

// MatchProject matches the sample against a single project's active
// rules only. The matcher's source must be able to scope by project.
func (m *Matcher) MatchProject(ctx context.Context, projectID int64, sample models.ScreenSample, extraKeywords []string) (*models.MatchedRule, error) {
	src, ok := m.source.(ProjectRuleSource)
	if !ok {
		return nil, fmt.Errorf("rule source cannot scope by project")
	}
	ruleSet, err := src.FindByProject(ctx, projectID, true)
	if err != nil {
		return nil, fmt.Errorf("load project rules: %w", err)
	}
	return m.MatchRules(ruleSet, sample, extraKeywords), nil
}

// MatchRules evaluates the given rules against the sample. Rules are
// assumed ordered by descending priority; the first match wins with
// confidence 100.
func (m *Matcher) MatchRules(ruleSet []models.Rule, sample models.ScreenSample, extraKeywords []string) *models.MatchedRule {
	for _, r := range ruleSet {
		start := time.Now()
		hit := m.evalRule(r, sample, extraKeywords)
		if elapsed := time.Since(start); elapsed > evalBudget {
			log.Warn().
				Int64("rule_id", r.ID).
				Str("type", string(r.Type)).
				Dur("elapsed", elapsed).
				Msg("Rule evaluation exceeded budget")
		}
		if hit {
			return &models.MatchedRule{
				RuleID:      r.ID,
				ProjectID:   r.ProjectID,
				MatchedText: r.Pattern,
			}
		}
	}
	return nil
}

func (m *Matcher) evalRule(r models.Rule, sample models.ScreenSample, extraKeywords []string) bool {
	switch r.Type {
	case models.RuleTypeAppName:
		return strings.Contains(strings.ToLower(sample.AppName), strings.ToLower(r.Pattern))
	case models.RuleTypeWindowTitle:
		return m.matchRegexp(r, sample.WindowTitle)
	case models.RuleTypeURL:
		return m.matchRegexp(r, sample.URL)
	case models.RuleTypeKeyword:
		return matchKeywords(r, sample, extraKeywords)
	}
	return false
}

func (m *Matcher) matchRegexp(r models.Rule, text string) bool {
	if text == "" {
		return false
	}
	re, err := m.compile(r.Pattern)
	if err != nil {
		log.Warn().Int64("rule_id", r.ID).Err(err).Msg("Skipping rule with invalid pattern")
		return false
	}
	return re.MatchString(text)
}

func (m *Matcher) compile(pattern string) (*regexp.Regexp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if re, ok := m.cache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	m.cache[pattern] = re
	return re, nil
}

// matchKeywords parses the pattern as a JSON array of keywords (a bare
// string counts as a one-element set) and reports whether any keyword
// occurs in the sample's combined text.
func matchKeywords(r models.Rule, sample models.ScreenSample, extraKeywords []string) bool {
	keywords, err := parseKeywords(r.Pattern)
	if err != nil {
		log.Warn().Int64("rule_id", r.ID).Err(err).Msg("Skipping rule with malformed keyword list")
		return false
	}

	parts := []string{sample.WindowTitle, sample.URL, sample.AppName}
	parts = append(parts, extraKeywords...)
	haystack := strings.ToLower(strings.Join(parts, " "))

	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func parseKeywords(pattern string) ([]string, error) {
	trimmed := strings.TrimSpace(pattern)
	if strings.HasPrefix(trimmed, "[") {
		var keywords []string
		if err := json.Unmarshal([]byte(trimmed), &keywords); err != nil {
			return nil, fmt.Errorf("parse keyword list: %w", err)
		}
		return keywords, nil
	}
	return []string{trimmed}, nil
}
