package models

import "time"

// Entry is a contiguous span of tracked time. A nil EndTime means the entry
// is ongoing; at most one ongoing entry exists while tracking is active.
type Entry struct {
	ID         int64      `json:"id"`
	ProjectID  *int64     `json:"project_id,omitempty"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Confidence int        `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
	Subtask    string     `json:"subtask,omitempty"`
	IsManual   bool       `json:"is_manual"`
	IsWork     bool       `json:"is_work"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Duration returns the entry span, using now for ongoing entries.
func (e *Entry) Duration(now time.Time) time.Duration {
	end := now
	if e.EndTime != nil {
		end = *e.EndTime
	}
	return end.Sub(e.StartTime)
}

// Ongoing reports whether the entry has not been ended yet.
func (e *Entry) Ongoing() bool {
	return e.EndTime == nil
}

// NewEntryParams carries the fields needed to create an entry.
type NewEntryParams struct {
	ProjectID  *int64
	StartTime  time.Time
	Confidence int
	Reasoning  string
	Subtask    string
	IsManual   bool
	IsWork     bool
}

// EntryUpdate is a partial update of an entry. Nil fields are left
// untouched.
type EntryUpdate struct {
	ProjectID  **int64 // outer nil = no change; inner nil = clear project
	StartTime  *time.Time
	EndTime    **time.Time
	Confidence *int
	Reasoning  *string
	Subtask    *string
	IsWork     *bool
}

// SetProjectID marks the update to assign the given project (nil clears it).
func (u *EntryUpdate) SetProjectID(id *int64) {
	u.ProjectID = &id
}

// SetEndTime marks the update to set the end time (nil reopens the entry).
func (u *EntryUpdate) SetEndTime(t *time.Time) {
	u.EndTime = &t
}
