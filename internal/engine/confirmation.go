package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ktmr/autotrack/pkg/models"
)

// maxAlternatives caps how many fallback candidates a confirmation
// request carries.
const maxAlternatives = 3

// requestConfirmation raises a confirmation request for a low-confidence
// entry. Alternatives come from the judgment when it offered any, and
// are padded from the project list otherwise.
func (e *Engine) requestConfirmation(ctx context.Context, entry models.Entry, res resolution) {
	alternatives := make([]models.Alternative, 0, maxAlternatives)
	for _, alt := range res.alternatives {
		if res.projectID != nil && alt.ProjectID == *res.projectID {
			continue
		}
		alternatives = append(alternatives, alt)
		if len(alternatives) == maxAlternatives {
			break
		}
	}
	if len(alternatives) < maxAlternatives {
		projects, err := e.deps.Projects.FindAll(ctx, false)
		if err != nil {
			log.Warn().Err(err).Msg("Project listing failed while building alternatives")
		} else {
			for _, p := range projects {
				if len(alternatives) == maxAlternatives {
					break
				}
				if res.projectID != nil && p.ID == *res.projectID {
					continue
				}
				if containsAlternative(alternatives, p.ID) {
					continue
				}
				alternatives = append(alternatives, models.Alternative{ProjectID: p.ID, ProjectName: p.Name})
			}
		}
	}

	suggestedName := res.projectName
	if suggestedName == "" {
		suggestedName = "Unassigned"
	}
	req := models.ConfirmationRequest{
		RequestID: uuid.NewString(),
		EntryID:   entry.ID,
		SuggestedProject: models.SuggestedProject{
			ID:   res.projectID,
			Name: suggestedName,
		},
		Confidence:   res.confidence,
		Reasoning:    res.reasoning,
		Alternatives: alternatives,
		RequestedAt:  e.now(),
	}

	e.mu.Lock()
	e.pending = &req
	e.mu.Unlock()

	if e.deps.Sink != nil {
		e.deps.Sink.ConfirmationRequested(req)
	}
}

// HandleConfirmation applies the user's answer to a confirmation
// request. Any valid action clears the pending request.
func (e *Engine) HandleConfirmation(ctx context.Context, resp models.ConfirmationResponse) error {
	switch resp.Action {
	case models.ConfirmationConfirm:
		full := 100
		var upd models.EntryUpdate
		upd.Confidence = &full
		if _, err := e.deps.Entries.Update(ctx, resp.EntryID, upd); err != nil {
			return fmt.Errorf("confirm entry %d: %w", resp.EntryID, err)
		}
		e.refreshCurrent(resp.EntryID, nil, false)

	case models.ConfirmationChange:
		if resp.NewProjectID == nil {
			return fmt.Errorf("change action requires a project id")
		}
		full := 100
		var upd models.EntryUpdate
		upd.Confidence = &full
		upd.SetProjectID(resp.NewProjectID)
		if _, err := e.deps.Entries.Update(ctx, resp.EntryID, upd); err != nil {
			return fmt.Errorf("reassign entry %d: %w", resp.EntryID, err)
		}
		e.refreshCurrent(resp.EntryID, resp.NewProjectID, true)
		if name := e.lookupProjectNameFor(ctx, resp.EntryID, resp.NewProjectID); name != "" {
			e.mu.Lock()
			e.projectName = name
			e.mu.Unlock()
		}

	case models.ConfirmationSplit:
		if resp.SplitTime == nil {
			return fmt.Errorf("split action requires a split time")
		}
		if _, _, err := e.deps.Entries.Split(ctx, resp.EntryID, *resp.SplitTime); err != nil {
			return fmt.Errorf("split entry %d: %w", resp.EntryID, err)
		}

	default:
		return fmt.Errorf("unknown confirmation action %q", resp.Action)
	}

	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
	return nil
}

// refreshCurrent updates in-memory state when the answered entry is the
// one still being tracked.
func (e *Engine) refreshCurrent(entryID int64, projectID *int64, reassign bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentEntry == nil || e.currentEntry.ID != entryID {
		return
	}
	e.currentEntry.Confidence = 100
	if reassign {
		e.currentEntry.ProjectID = projectID
		e.currentProject = projectID
	}
}

func (e *Engine) lookupProjectNameFor(ctx context.Context, entryID int64, projectID *int64) string {
	e.mu.Lock()
	isCurrent := e.currentEntry != nil && e.currentEntry.ID == entryID
	e.mu.Unlock()
	if !isCurrent || projectID == nil {
		return ""
	}
	return e.lookupProjectName(ctx, *projectID)
}

func containsAlternative(alts []models.Alternative, projectID int64) bool {
	for _, a := range alts {
		if a.ProjectID == projectID {
			return true
		}
	}
	return false
}
