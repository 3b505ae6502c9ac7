package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ktmr/autotrack/pkg/models"
)

// maxPatternLen caps regex patterns before any structural screening.
const maxPatternLen = 200

// ValidationResult reports whether a pattern is acceptable for its rule
// type, with a human-readable reason when it is not.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// riskyShapes are regex constructs that tend to backtrack catastrophically
// in other engines. Go's engine runs in linear time, but patterns are kept
// portable and honest about intent, so these are rejected up front.
var riskyShapes = []*regexp.Regexp{
	regexp.MustCompile(`\([^)]*[*+][^)]*\)[*+]`), // quantified group with inner quantifier, e.g. (.*)+
	regexp.MustCompile(`[*+]\s*[*+]`),            // stacked quantifiers
	regexp.MustCompile(`\{\d{3,}`),               // huge counted repetition
}

// ValidatePattern checks a rule pattern without evaluating it against any
// sample. It never panics; malformed input yields an invalid result.
func ValidatePattern(ruleType models.RuleType, pattern string) ValidationResult {
	if strings.TrimSpace(pattern) == "" {
		return ValidationResult{Error: "pattern must not be empty"}
	}

	switch ruleType {
	case models.RuleTypeAppName:
		return ValidationResult{Valid: true}

	case models.RuleTypeWindowTitle, models.RuleTypeURL:
		if len(pattern) > maxPatternLen {
			return ValidationResult{Error: fmt.Sprintf("pattern exceeds %d characters", maxPatternLen)}
		}
		for _, shape := range riskyShapes {
			if shape.MatchString(pattern) {
				return ValidationResult{Error: "pattern contains a nested or stacked quantifier"}
			}
		}
		if _, err := regexp.Compile("(?i)" + pattern); err != nil {
			return ValidationResult{Error: fmt.Sprintf("invalid regular expression: %v", err)}
		}
		return ValidationResult{Valid: true}

	case models.RuleTypeKeyword:
		keywords, err := parseKeywords(pattern)
		if err != nil {
			return ValidationResult{Error: "keyword pattern must be a JSON array of strings"}
		}
		for _, kw := range keywords {
			if strings.TrimSpace(kw) != "" {
				return ValidationResult{Valid: true}
			}
		}
		return ValidationResult{Error: "keyword list must contain at least one keyword"}
	}

	return ValidationResult{Error: fmt.Sprintf("unknown rule type %q", ruleType)}
}
