package models

import "time"

// RuleType selects which sample field a rule is evaluated against.
type RuleType string

const (
	RuleTypeAppName     RuleType = "app_name"
	RuleTypeWindowTitle RuleType = "window_title"
	RuleTypeURL         RuleType = "url"
	RuleTypeKeyword     RuleType = "keyword"
)

// Valid reports whether the rule type is one of the known values.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeAppName, RuleTypeWindowTitle, RuleTypeURL, RuleTypeKeyword:
		return true
	}
	return false
}

// Rule is a user-authored deterministic classification rule. For app_name
// rules the pattern is a case-insensitive substring; for window_title and
// url rules it is a regular expression; for keyword rules it is a JSON
// array of keywords (a bare string is accepted as a one-element set).
type Rule struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	Type      RuleType  `json:"type"`
	Pattern   string    `json:"pattern"`
	Priority  int       `json:"priority"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
