package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ktmr/autotrack/pkg/models"
)

// resolution is the outcome of one project-resolution pass.
type resolution struct {
	projectID    *int64
	projectName  string
	confidence   int
	reasoning    string
	alternatives []models.Alternative
}

// judgeAndUpdate re-derives the project for the current context and
// reconciles the open entry with it. Rules win outright; the AI is
// consulted only with a credential and a network; otherwise the work
// stays unassigned.
func (e *Engine) judgeAndUpdate(ctx context.Context, sample models.ScreenSample) {
	res := e.resolveProject(ctx, sample)

	e.mu.Lock()
	current := e.currentProject
	entry := e.currentEntry
	e.mu.Unlock()

	if sameProject(current, res.projectID) {
		if entry == nil {
			return
		}
		var upd models.EntryUpdate
		upd.Confidence = &res.confidence
		upd.Reasoning = &res.reasoning
		updated, err := e.deps.Entries.Update(ctx, entry.ID, upd)
		if err != nil {
			log.Warn().Err(err).Int64("entry_id", entry.ID).Msg("Failed to refresh entry confidence")
			return
		}
		e.mu.Lock()
		if e.currentEntry != nil && e.currentEntry.ID == updated.ID {
			e.currentEntry = &updated
		}
		e.mu.Unlock()
		return
	}

	log.Info().
		Str("from", e.projectNameSnapshot()).
		Str("to", res.projectName).
		Int("confidence", res.confidence).
		Msg("Project changed")

	if entry != nil {
		e.closeOrDrop(ctx, *entry)
	}

	newEntry, err := e.deps.Entries.Create(ctx, models.NewEntryParams{
		ProjectID:  res.projectID,
		StartTime:  e.now(),
		Confidence: res.confidence,
		Reasoning:  res.reasoning,
		IsWork:     true,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to open entry for new project")
		e.mu.Lock()
		e.currentEntry = nil
		e.currentProject = nil
		e.projectName = ""
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	e.currentEntry = &newEntry
	e.currentProject = res.projectID
	e.projectName = res.projectName
	e.mu.Unlock()
	e.notifyCreated(newEntry)

	if res.confidence < e.config().AutoConfirmThreshold {
		e.requestConfirmation(ctx, newEntry, res)
	}
}

// resolveProject applies the priority chain: rule match, then AI
// judgment, then unassigned.
func (e *Engine) resolveProject(ctx context.Context, sample models.ScreenSample) resolution {
	if e.deps.Rules != nil {
		hit, err := e.deps.Rules.Match(ctx, sample, nil)
		if err != nil {
			log.Warn().Err(err).Msg("Rule matching failed during project resolution")
		} else if hit != nil {
			name := e.lookupProjectName(ctx, hit.ProjectID)
			id := hit.ProjectID
			return resolution{
				projectID:   &id,
				projectName: name,
				confidence:  100,
				reasoning:   "matched rule",
			}
		}
	}

	if e.deps.Judge != nil && e.deps.Judge.HasCredential() && e.online() {
		projects, err := e.deps.Projects.FindAll(ctx, false)
		if err != nil {
			log.Warn().Err(err).Msg("Project listing failed, leaving work unassigned")
			return resolution{}
		}
		judgment, err := e.deps.Judge.JudgeProject(ctx, sample, projects)
		if err != nil {
			log.Warn().Err(err).Msg("AI judgment failed, leaving work unassigned")
			return resolution{}
		}
		return resolution{
			projectID:    judgment.ProjectID,
			projectName:  judgment.ProjectName,
			confidence:   judgment.Confidence,
			reasoning:    judgment.Reasoning,
			alternatives: judgment.Alternatives,
		}
	}

	return resolution{}
}

func (e *Engine) online() bool {
	return e.deps.Network == nil || e.deps.Network.IsOnline()
}

func (e *Engine) lookupProjectName(ctx context.Context, id int64) string {
	p, err := e.deps.Projects.FindByID(ctx, id)
	if err != nil || p == nil {
		return ""
	}
	return p.Name
}

func (e *Engine) projectNameSnapshot() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.projectName
}

func sameProject(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
