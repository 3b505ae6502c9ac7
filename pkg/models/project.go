package models

import "time"

// Project is a billable project entries are classified into.
type Project struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	ClientName string    `json:"client_name,omitempty"`
	Color      string    `json:"color,omitempty"`
	HourlyRate float64   `json:"hourly_rate,omitempty"`
	Archived   bool      `json:"archived"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FindProject returns the project with the given ID from the list, or nil.
func FindProject(projects []Project, id int64) *Project {
	for i := range projects {
		if projects[i].ID == id {
			return &projects[i]
		}
	}
	return nil
}
