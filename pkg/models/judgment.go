package models

import "time"

// ChangeType names the signal that reported a context change.
type ChangeType string

const (
	ChangeNone  ChangeType = "none"
	ChangeTitle ChangeType = "title"
	ChangeURL   ChangeType = "url"
	ChangeOCR   ChangeType = "ocr"
	ChangeImage ChangeType = "image"
	ChangeRule  ChangeType = "rule"
	ChangeAI    ChangeType = "ai"
)

// MatchedRule is the evidence attached when the rule layer fires.
type MatchedRule struct {
	RuleID      int64  `json:"rule_id"`
	ProjectID   int64  `json:"project_id"`
	ProjectName string `json:"project_name,omitempty"`
	MatchedText string `json:"matched_text,omitempty"`
}

// ChangeDetectionResult is the outcome of one pass through the detection
// cascade. Layer 0 means no layer reported a change.
type ChangeDetectionResult struct {
	HasChange      bool          `json:"has_change"`
	ChangeType     ChangeType    `json:"change_type"`
	Layer          int           `json:"layer"`
	Confidence     int           `json:"confidence"`
	OCRText        string        `json:"ocr_text,omitempty"`
	ImageHash      string        `json:"image_hash,omitempty"`
	MatchedRule    *MatchedRule  `json:"matched_rule,omitempty"`
	Reasoning      string        `json:"reasoning,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// ChangeJudgment is the AI change-detection verdict.
type ChangeJudgment struct {
	HasChange  bool   `json:"has_change"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
	TokensUsed int    `json:"tokens_used"`
	Cost       float64 `json:"cost"`
}

// Alternative is a lower-ranked project candidate from a judgment.
type Alternative struct {
	ProjectID   int64  `json:"project_id"`
	ProjectName string `json:"project_name,omitempty"`
	Score       int    `json:"score"`
}

// ProjectJudgment is the AI project-classification verdict. A nil
// ProjectID means no known project matched.
type ProjectJudgment struct {
	ProjectID    *int64        `json:"project_id,omitempty"`
	ProjectName  string        `json:"project_name,omitempty"`
	Confidence   int           `json:"confidence"`
	Reasoning    string        `json:"reasoning"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
	IsWork       bool          `json:"is_work"`
	TokensUsed   int           `json:"tokens_used"`
	Cost         float64       `json:"cost"`
}
