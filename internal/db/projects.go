package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ktmr/autotrack/pkg/models"
)

// ProjectStore provides project-related database operations.
type ProjectStore struct {
	db *gorm.DB
}

// NewProjectStore creates a new project store.
func NewProjectStore(store *Store) *ProjectStore {
	return &ProjectStore{db: store.DB}
}

// Create inserts a new project.
func (s *ProjectStore) Create(ctx context.Context, name, clientName, color string, hourlyRate float64) (models.Project, error) {
	p := &Project{
		Name:       name,
		ClientName: nullString(clientName),
		Color:      nullString(color),
		HourlyRate: hourlyRate,
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return models.Project{}, fmt.Errorf("create project: %w", err)
	}
	return p.toModel(), nil
}

// FindAll returns projects ordered by name. Archived projects are included
// only when includeArchived is true.
func (s *ProjectStore) FindAll(ctx context.Context, includeArchived bool) ([]models.Project, error) {
	q := s.db.WithContext(ctx).Order("name ASC")
	if !includeArchived {
		q = q.Where("archived = ?", false)
	}

	var rows []Project
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find projects: %w", err)
	}

	out := make([]models.Project, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// FindByID returns the project with the given ID, or nil if absent.
func (s *ProjectStore) FindByID(ctx context.Context, id int64) (*models.Project, error) {
	var row Project
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find project %d: %w", id, err)
	}
	m := row.toModel()
	return &m, nil
}

// SetArchived flips the archived flag.
func (s *ProjectStore) SetArchived(ctx context.Context, id int64, archived bool) error {
	res := s.db.WithContext(ctx).Model(&Project{}).Where("id = ?", id).Update("archived", archived)
	if res.Error != nil {
		return fmt.Errorf("archive project %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
