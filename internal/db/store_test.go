package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ktmr/autotrack/pkg/models"
)

type StoreSuite struct {
	suite.Suite
	store    *Store
	projects *ProjectStore
	entries  *EntryStore
	rules    *RuleStore
	usage    *UsageStore
	ctx      context.Context
}

func (s *StoreSuite) SetupTest() {
	store, err := NewMemoryStore()
	require.NoError(s.T(), err)
	s.store = store
	s.projects = NewProjectStore(store)
	s.entries = NewEntryStore(store)
	s.rules = NewRuleStore(store)
	s.usage = NewUsageStore(store)
	s.ctx = context.Background()
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		s.store.Close()
	}
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) mustProject(name string) models.Project {
	p, err := s.projects.Create(s.ctx, name, "Acme", "#ff8800", 90)
	s.Require().NoError(err)
	return p
}

func (s *StoreSuite) TestProjectCreateAndFind() {
	p := s.mustProject("Website Redesign")
	s.NotZero(p.ID)
	s.Equal("Website Redesign", p.Name)
	s.Equal("Acme", p.ClientName)

	got, err := s.projects.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(p.Name, got.Name)

	missing, err := s.projects.FindByID(s.ctx, 9999)
	s.Require().NoError(err)
	s.Nil(missing)
}

func (s *StoreSuite) TestProjectArchiveFiltering() {
	a := s.mustProject("Alpha")
	s.mustProject("Beta")

	s.Require().NoError(s.projects.SetArchived(s.ctx, a.ID, true))

	active, err := s.projects.FindAll(s.ctx, false)
	s.Require().NoError(err)
	s.Len(active, 1)
	s.Equal("Beta", active[0].Name)

	all, err := s.projects.FindAll(s.ctx, true)
	s.Require().NoError(err)
	s.Len(all, 2)

	s.ErrorIs(s.projects.SetArchived(s.ctx, 9999, true), ErrNotFound)
}

func (s *StoreSuite) TestEntryLifecycle() {
	p := s.mustProject("Alpha")
	start := time.Now().Add(-time.Hour).Truncate(time.Second)

	e, err := s.entries.Create(s.ctx, models.NewEntryParams{
		ProjectID:  &p.ID,
		StartTime:  start,
		Confidence: 100,
		Reasoning:  "matched rule",
		IsWork:     true,
	})
	s.Require().NoError(err)
	s.NotZero(e.ID)
	s.Nil(e.EndTime)

	cur, err := s.entries.FindCurrent(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(cur)
	s.Equal(e.ID, cur.ID)

	end := start.Add(30 * time.Minute)
	ended, err := s.entries.End(s.ctx, e.ID, end)
	s.Require().NoError(err)
	s.Require().NotNil(ended.EndTime)
	s.WithinDuration(end, *ended.EndTime, time.Second)

	cur, err = s.entries.FindCurrent(s.ctx)
	s.Require().NoError(err)
	s.Nil(cur)
}

func (s *StoreSuite) TestEntryUpdatePartial() {
	p := s.mustProject("Alpha")
	e, err := s.entries.Create(s.ctx, models.NewEntryParams{
		StartTime:  time.Now().Add(-10 * time.Minute),
		Confidence: 0,
		IsWork:     true,
	})
	s.Require().NoError(err)
	s.Nil(e.ProjectID)

	conf := 92
	reason := "window title matched project keywords"
	var upd models.EntryUpdate
	upd.SetProjectID(&p.ID)
	upd.Confidence = &conf
	upd.Reasoning = &reason

	got, err := s.entries.Update(s.ctx, e.ID, upd)
	s.Require().NoError(err)
	s.Require().NotNil(got.ProjectID)
	s.Equal(p.ID, *got.ProjectID)
	s.Equal(92, got.Confidence)
	s.Equal(reason, got.Reasoning)

	// clearing the project with an explicit nil
	var clear models.EntryUpdate
	clear.SetProjectID(nil)
	got, err = s.entries.Update(s.ctx, e.ID, clear)
	s.Require().NoError(err)
	s.Nil(got.ProjectID)
	s.Equal(92, got.Confidence)
}

func (s *StoreSuite) TestEntryDelete() {
	e, err := s.entries.Create(s.ctx, models.NewEntryParams{
		StartTime: time.Now(),
		IsWork:    true,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.entries.Delete(s.ctx, e.ID))

	_, err = s.entries.FindByID(s.ctx, e.ID)
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestEntrySplit() {
	p := s.mustProject("Alpha")
	start := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	end := start.Add(time.Hour)

	e, err := s.entries.Create(s.ctx, models.NewEntryParams{
		ProjectID:  &p.ID,
		StartTime:  start,
		Confidence: 80,
		Subtask:    "review",
		IsWork:     true,
	})
	s.Require().NoError(err)
	_, err = s.entries.End(s.ctx, e.ID, end)
	s.Require().NoError(err)

	splitAt := start.Add(20 * time.Minute)
	before, after, err := s.entries.Split(s.ctx, e.ID, splitAt)
	s.Require().NoError(err)

	s.Equal(e.ID, before.ID)
	s.Require().NotNil(before.EndTime)
	s.WithinDuration(splitAt, *before.EndTime, time.Second)

	s.NotEqual(before.ID, after.ID)
	s.WithinDuration(splitAt, after.StartTime, time.Second)
	s.Require().NotNil(after.EndTime)
	s.WithinDuration(end, *after.EndTime, time.Second)
	s.Require().NotNil(after.ProjectID)
	s.Equal(p.ID, *after.ProjectID)
	s.Equal("review", after.Subtask)

	// split point outside the entry span is rejected
	_, _, err = s.entries.Split(s.ctx, e.ID, start.Add(-time.Minute))
	s.Error(err)
}

func (s *StoreSuite) TestEntryMerge() {
	p := s.mustProject("Alpha")
	base := time.Now().Add(-3 * time.Hour).Truncate(time.Second)

	var ids []int64
	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		e, err := s.entries.Create(s.ctx, models.NewEntryParams{
			StartTime: start,
			IsWork:    true,
		})
		s.Require().NoError(err)
		_, err = s.entries.End(s.ctx, e.ID, start.Add(50*time.Minute))
		s.Require().NoError(err)
		ids = append(ids, e.ID)
	}

	merged, err := s.entries.Merge(s.ctx, ids, &p.ID)
	s.Require().NoError(err)
	s.WithinDuration(base, merged.StartTime, time.Second)
	s.Require().NotNil(merged.EndTime)
	s.WithinDuration(base.Add(2*time.Hour+50*time.Minute), *merged.EndTime, time.Second)
	s.Require().NotNil(merged.ProjectID)
	s.Equal(p.ID, *merged.ProjectID)

	_, err = s.entries.FindByID(s.ctx, ids[1])
	s.ErrorIs(err, ErrNotFound)
	_, err = s.entries.FindByID(s.ctx, ids[2])
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestEntryDateRange() {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	work, err := s.entries.Create(s.ctx, models.NewEntryParams{StartTime: base, IsWork: true})
	s.Require().NoError(err)
	_, err = s.entries.End(s.ctx, work.ID, base.Add(time.Hour))
	s.Require().NoError(err)

	personal, err := s.entries.Create(s.ctx, models.NewEntryParams{StartTime: base.Add(2 * time.Hour), IsWork: false})
	s.Require().NoError(err)
	_, err = s.entries.End(s.ctx, personal.ID, base.Add(3*time.Hour))
	s.Require().NoError(err)

	// IsWork=false must survive the insert, not revert to a column default
	got, err := s.entries.FindByID(s.ctx, personal.ID)
	s.Require().NoError(err)
	s.False(got.IsWork)

	// outside the queried day
	_, err = s.entries.Create(s.ctx, models.NewEntryParams{StartTime: base.AddDate(0, 0, 2), IsWork: true})
	s.Require().NoError(err)

	from := base.Truncate(24 * time.Hour)
	to := from.AddDate(0, 0, 1)

	workOnly, err := s.entries.FindByDateRange(s.ctx, from, to, false)
	s.Require().NoError(err)
	s.Len(workOnly, 1)
	s.Equal(work.ID, workOnly[0].ID)

	all, err := s.entries.FindByDateRange(s.ctx, from, to, true)
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *StoreSuite) TestRuleOrderingAndFilters() {
	p := s.mustProject("Alpha")

	low, err := s.rules.Create(s.ctx, p.ID, models.RuleTypeAppName, "Code", 1)
	s.Require().NoError(err)
	high, err := s.rules.Create(s.ctx, p.ID, models.RuleTypeURL, `github\.com/acme`, 10)
	s.Require().NoError(err)

	all, err := s.rules.FindAll(s.ctx, false)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(high.ID, all[0].ID)
	s.Equal(low.ID, all[1].ID)

	s.Require().NoError(s.rules.SetActive(s.ctx, high.ID, false))

	active, err := s.rules.FindAll(s.ctx, true)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal(low.ID, active[0].ID)

	_, err = s.rules.Create(s.ctx, p.ID, models.RuleType("bogus"), "x", 0)
	s.Error(err)
}

func (s *StoreSuite) TestRuleDelete() {
	p := s.mustProject("Alpha")
	r, err := s.rules.Create(s.ctx, p.ID, models.RuleTypeKeyword, `["standup","retro"]`, 5)
	s.Require().NoError(err)

	s.Require().NoError(s.rules.Delete(s.ctx, r.ID))
	s.ErrorIs(s.rules.Delete(s.ctx, r.ID), ErrNotFound)
}

func (s *StoreSuite) TestUsageMonthlyAggregates() {
	now := time.Now()
	s.Require().NoError(s.usage.Record(s.ctx, "gpt-4o-mini", 1200, 80, 0.00023, "change_detection"))
	s.Require().NoError(s.usage.Record(s.ctx, "gpt-4o-mini", 900, 300, 0.00032, "project_judgment"))
	s.Require().NoError(s.usage.Record(s.ctx, "gpt-4o", 500, 200, 0.00325, "project_judgment"))

	usage, err := s.usage.MonthlyUsage(s.ctx, now)
	s.Require().NoError(err)
	s.Equal(now.Format("2006-01"), usage.Month)
	s.Equal(3, usage.RequestCount)
	s.Equal(2600, usage.TotalTokensIn)
	s.Equal(580, usage.TotalTokensOut)
	s.InDelta(0.0038, usage.TotalCost, 1e-9)

	s.Require().Len(usage.ByModel, 2)
	s.Equal("gpt-4o", usage.ByModel[0].Model)
	s.Equal(1, usage.ByModel[0].RequestCount)
	s.Equal("gpt-4o-mini", usage.ByModel[1].Model)
	s.Equal(2, usage.ByModel[1].RequestCount)
}

func (s *StoreSuite) TestUsageBudgetStatus() {
	now := time.Now()
	s.Require().NoError(s.usage.Record(s.ctx, "gpt-4o-mini", 100, 50, 2.5, "project_judgment"))

	status, err := s.usage.BudgetStatus(s.ctx, 5.0, now)
	s.Require().NoError(err)
	s.InDelta(2.5, status.CurrentUsage, 1e-9)
	s.InDelta(2.5, status.Remaining, 1e-9)
	s.InDelta(50, status.PercentUsed, 1e-9)
	s.False(status.IsOverBudget)

	s.Require().NoError(s.usage.Record(s.ctx, "gpt-4o", 100, 50, 3.0, "project_judgment"))

	status, err = s.usage.BudgetStatus(s.ctx, 5.0, now)
	s.Require().NoError(err)
	s.True(status.IsOverBudget)
	s.Zero(status.Remaining)
}

func (s *StoreSuite) TestTotalHoursByProject() {
	p := s.mustProject("Alpha")
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	e, err := s.entries.Create(s.ctx, models.NewEntryParams{ProjectID: &p.ID, StartTime: base, IsWork: true})
	s.Require().NoError(err)
	_, err = s.entries.End(s.ctx, e.ID, base.Add(90*time.Minute))
	s.Require().NoError(err)

	hours, err := s.entries.TotalHoursByProject(s.ctx, base.AddDate(0, 0, -1), base.AddDate(0, 0, 1))
	s.Require().NoError(err)
	s.Require().Len(hours, 1)
	s.Require().NotNil(hours[0].ProjectID)
	s.Equal(p.ID, *hours[0].ProjectID)
	s.Equal("Alpha", hours[0].ProjectName)
	s.InDelta(1.5, hours[0].TotalHours, 0.01)
}
