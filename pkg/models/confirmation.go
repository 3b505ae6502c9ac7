package models

import "time"

// ConfirmationAction is the user's answer to a confirmation request.
type ConfirmationAction string

const (
	ConfirmationConfirm ConfirmationAction = "confirm"
	ConfirmationChange  ConfirmationAction = "change"
	ConfirmationSplit   ConfirmationAction = "split"
)

// SuggestedProject is the classifier's best guess carried on a
// confirmation request. A nil ID means the entry is unassigned.
type SuggestedProject struct {
	ID   *int64 `json:"id,omitempty"`
	Name string `json:"name"`
}

// ConfirmationRequest asks a human to confirm a low-confidence
// classification.
type ConfirmationRequest struct {
	RequestID        string           `json:"request_id"`
	EntryID          int64            `json:"entry_id"`
	SuggestedProject SuggestedProject `json:"suggested_project"`
	Confidence       int              `json:"confidence"`
	Reasoning        string           `json:"reasoning,omitempty"`
	Alternatives     []Alternative    `json:"alternatives,omitempty"`
	RequestedAt      time.Time        `json:"requested_at"`
}

// ConfirmationResponse is the user's decision on a pending confirmation.
type ConfirmationResponse struct {
	EntryID      int64              `json:"entry_id"`
	Action       ConfirmationAction `json:"action"`
	NewProjectID *int64             `json:"new_project_id,omitempty"`
	SplitTime    *time.Time         `json:"split_time,omitempty"`
}

// TrackingStatus is a point-in-time snapshot of the tracking engine.
type TrackingStatus struct {
	IsRunning          bool       `json:"is_running"`
	IsPaused           bool       `json:"is_paused"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CurrentEntryID     *int64     `json:"current_entry_id,omitempty"`
	CurrentProjectID   *int64     `json:"current_project_id,omitempty"`
	CurrentProjectName string     `json:"current_project_name,omitempty"`
	ElapsedSeconds     int64      `json:"elapsed_seconds"`
	Confidence         int        `json:"confidence"`
}
