package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ktmr/autotrack/pkg/models"
)

// ErrNotFound is returned when an operation targets a missing row.
var ErrNotFound = errors.New("record not found")

// EntryStore provides time-entry database operations.
type EntryStore struct {
	db *gorm.DB
}

// NewEntryStore creates a new entry store.
func NewEntryStore(store *Store) *EntryStore {
	return &EntryStore{db: store.DB}
}

// Create inserts a new entry.
func (s *EntryStore) Create(ctx context.Context, params models.NewEntryParams) (models.Entry, error) {
	row := &Entry{
		StartTime:  params.StartTime,
		Confidence: params.Confidence,
		Reasoning:  nullString(params.Reasoning),
		Subtask:    nullString(params.Subtask),
		IsManual:   params.IsManual,
		IsWork:     params.IsWork,
	}
	if params.ProjectID != nil {
		row.ProjectID = sql.NullInt64{Int64: *params.ProjectID, Valid: true}
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.Entry{}, fmt.Errorf("create entry: %w", err)
	}
	return row.toModel(), nil
}

// FindByID returns the entry with the given ID.
func (s *EntryStore) FindByID(ctx context.Context, id int64) (models.Entry, error) {
	var row Entry
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Entry{}, ErrNotFound
	}
	if err != nil {
		return models.Entry{}, fmt.Errorf("find entry %d: %w", id, err)
	}
	return row.toModel(), nil
}

// FindCurrent returns the ongoing entry (end_time IS NULL), or nil.
func (s *EntryStore) FindCurrent(ctx context.Context) (*models.Entry, error) {
	var row Entry
	err := s.db.WithContext(ctx).
		Where("end_time IS NULL").
		Order("start_time DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find current entry: %w", err)
	}
	m := row.toModel()
	return &m, nil
}

// FindByDateRange returns entries whose start time falls in [from, to),
// newest first.
func (s *EntryStore) FindByDateRange(ctx context.Context, from, to time.Time, includeNonWork bool) ([]models.Entry, error) {
	q := s.db.WithContext(ctx).
		Where("start_time >= ? AND start_time < ?", from, to).
		Order("start_time DESC")
	if !includeNonWork {
		q = q.Where("is_work = ?", true)
	}

	var rows []Entry
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find entries: %w", err)
	}

	out := make([]models.Entry, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// End sets the entry's end time. A zero endTime means now.
func (s *EntryStore) End(ctx context.Context, id int64, endTime time.Time) (models.Entry, error) {
	if endTime.IsZero() {
		endTime = time.Now()
	}
	res := s.db.WithContext(ctx).Model(&Entry{}).Where("id = ?", id).
		Update("end_time", sql.NullTime{Time: endTime, Valid: true})
	if res.Error != nil {
		return models.Entry{}, fmt.Errorf("end entry %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.Entry{}, ErrNotFound
	}
	return s.FindByID(ctx, id)
}

// Update applies a partial update to an entry.
func (s *EntryStore) Update(ctx context.Context, id int64, upd models.EntryUpdate) (models.Entry, error) {
	fields := map[string]any{}
	if upd.ProjectID != nil {
		if *upd.ProjectID != nil {
			fields["project_id"] = **upd.ProjectID
		} else {
			fields["project_id"] = nil
		}
	}
	if upd.StartTime != nil {
		fields["start_time"] = *upd.StartTime
	}
	if upd.EndTime != nil {
		if *upd.EndTime != nil {
			fields["end_time"] = **upd.EndTime
		} else {
			fields["end_time"] = nil
		}
	}
	if upd.Confidence != nil {
		fields["confidence"] = *upd.Confidence
	}
	if upd.Reasoning != nil {
		fields["reasoning"] = nullString(*upd.Reasoning)
	}
	if upd.Subtask != nil {
		fields["subtask"] = nullString(*upd.Subtask)
	}
	if upd.IsWork != nil {
		fields["is_work"] = *upd.IsWork
	}

	if len(fields) == 0 {
		return s.FindByID(ctx, id)
	}

	res := s.db.WithContext(ctx).Model(&Entry{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return models.Entry{}, fmt.Errorf("update entry %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.Entry{}, ErrNotFound
	}
	return s.FindByID(ctx, id)
}

// Delete removes an entry.
func (s *EntryStore) Delete(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&Entry{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete entry %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Split cuts an entry in two at splitTime. The original entry keeps the
// first half; a new entry covers the rest (inheriting project, subtask,
// confidence).
func (s *EntryStore) Split(ctx context.Context, id int64, splitTime time.Time) (before, after models.Entry, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Entry
		if err := tx.First(&row, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if splitTime.Before(row.StartTime) || (row.EndTime.Valid && !splitTime.Before(row.EndTime.Time)) {
			return fmt.Errorf("split time %v outside entry span", splitTime)
		}

		second := Entry{
			ProjectID:  row.ProjectID,
			StartTime:  splitTime,
			EndTime:    row.EndTime,
			Confidence: row.Confidence,
			Subtask:    row.Subtask,
			IsWork:     row.IsWork,
		}
		if err := tx.Create(&second).Error; err != nil {
			return err
		}

		if err := tx.Model(&Entry{}).Where("id = ?", id).
			Update("end_time", sql.NullTime{Time: splitTime, Valid: true}).Error; err != nil {
			return err
		}

		var first Entry
		if err := tx.First(&first, id).Error; err != nil {
			return err
		}
		before = first.toModel()
		after = second.toModel()
		return nil
	})
	if err != nil {
		return models.Entry{}, models.Entry{}, fmt.Errorf("split entry %d: %w", id, err)
	}
	return before, after, nil
}

// Merge collapses the given entries into the earliest one, which takes the
// span from the earliest start to the latest end. The other entries are
// deleted. A non-nil projectID reassigns the merged entry.
func (s *EntryStore) Merge(ctx context.Context, ids []int64, projectID *int64) (models.Entry, error) {
	if len(ids) < 2 {
		return models.Entry{}, fmt.Errorf("merge needs at least 2 entries, got %d", len(ids))
	}

	var merged models.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []Entry
		if err := tx.Where("id IN ?", ids).Order("start_time ASC").Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) < 2 {
			return ErrNotFound
		}

		first := rows[0]
		last := rows[len(rows)-1]

		fields := map[string]any{"end_time": last.EndTime}
		if projectID != nil {
			fields["project_id"] = *projectID
		}
		if err := tx.Model(&Entry{}).Where("id = ?", first.ID).Updates(fields).Error; err != nil {
			return err
		}

		for _, row := range rows[1:] {
			if err := tx.Delete(&Entry{}, row.ID).Error; err != nil {
				return err
			}
		}

		var out Entry
		if err := tx.First(&out, first.ID).Error; err != nil {
			return err
		}
		merged = out.toModel()
		return nil
	})
	if err != nil {
		return models.Entry{}, fmt.Errorf("merge entries: %w", err)
	}
	return merged, nil
}

// ProjectHours is aggregated work time for one project.
type ProjectHours struct {
	ProjectID   *int64
	ProjectName string
	TotalHours  float64
}

// TotalHoursByProject sums work-entry hours per project over [from, to).
// Ongoing entries count up to now. Unassigned entries report a nil project.
func (s *EntryStore) TotalHoursByProject(ctx context.Context, from, to time.Time) ([]ProjectHours, error) {
	var rows []struct {
		ProjectID   sql.NullInt64
		ProjectName sql.NullString
		TotalHours  float64
	}
	err := s.db.WithContext(ctx).Raw(`
		SELECT e.project_id,
		       p.name AS project_name,
		       SUM((julianday(COALESCE(e.end_time, datetime('now'))) - julianday(e.start_time)) * 24) AS total_hours
		FROM entries e
		LEFT JOIN projects p ON e.project_id = p.id
		WHERE e.start_time >= ? AND e.start_time < ? AND e.is_work = 1
		GROUP BY e.project_id
		ORDER BY total_hours DESC`, from, to).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("total hours by project: %w", err)
	}

	out := make([]ProjectHours, len(rows))
	for i, r := range rows {
		ph := ProjectHours{ProjectName: r.ProjectName.String, TotalHours: r.TotalHours}
		if r.ProjectID.Valid {
			id := r.ProjectID.Int64
			ph.ProjectID = &id
		}
		out[i] = ph
	}
	return out, nil
}
