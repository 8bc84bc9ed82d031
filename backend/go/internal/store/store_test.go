package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"Steward/backend/go/internal/config"
	"Steward/backend/go/internal/database/sqldb"
	"Steward/backend/go/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, agents ...models.Agent) *Store {
	t.Helper()
	db, err := sqldb.Open(config.StoreConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close(db) })

	s := New(db)
	require.NoError(t, s.AutoMigrate(context.Background()))
	require.NoError(t, s.SyncAgents(context.Background(), agents))
	return s
}

// newFileStore 使用临时文件库和多个连接，并发测试里的认领真正在不同连接上竞争。
func newFileStore(t *testing.T, agents ...models.Agent) *Store {
	t.Helper()
	db, err := sqldb.Open(config.StoreConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "steward.db"),
		MaxOpenConns: 8,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close(db) })

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.Equal(t, 8, sqlDB.Stats().MaxOpenConnections)

	s := New(db)
	require.NoError(t, s.AutoMigrate(context.Background()))
	require.NoError(t, s.SyncAgents(context.Background(), agents))
	return s
}

func agent(id string, autonomy int) models.Agent {
	return models.Agent{ID: id, Name: id, AutonomyLevel: autonomy, Enabled: true}
}

func queuedTask(t *testing.T, s *Store, agentID string) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:            uuid.NewString(),
		Title:         "task for " + agentID,
		TaskType:      models.TaskTypeResearch,
		AssignedAgent: agentID,
		Priority:      models.PriorityNormal,
		Status:        models.TaskQueued,
	}
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

func TestClaimTask_ConcurrentClaimsOnOneAgent(t *testing.T) {
	s := newFileStore(t, agent("research-agent", 3))
	ctx := context.Background()

	var tasks []*models.Task
	for i := 0; i < 5; i++ {
		tasks = append(tasks, queuedTask(t, s, "research-agent"))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := tasks[i%len(tasks)]
			claimed, err := s.ClaimTask(ctx, task.ID, "research-agent")
			if err != nil {
				assert.ErrorIs(t, err, ErrClaimConflict)
				return
			}
			mu.Lock()
			winners = append(winners, claimed.ID)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1, "only one claim may succeed for a single agent")

	working, err := s.ListTasks(ctx, TaskQuery{Statuses: []models.TaskStatus{models.TaskWorking}, AssignedAgent: "research-agent"})
	require.NoError(t, err)
	require.Len(t, working, 1)
	assert.Equal(t, winners[0], working[0].ID)
	assert.NotNil(t, working[0].StartedAt)

	a, err := s.GetAgent(ctx, "research-agent")
	require.NoError(t, err)
	require.NotNil(t, a.CurrentTaskID)
	assert.Equal(t, winners[0], *a.CurrentTaskID)
}

func TestClaimTask_SameTaskManyAgentsOfSameID(t *testing.T) {
	s := newFileStore(t, agent("finance-agent", 2))
	ctx := context.Background()
	task := queuedTask(t, s, "finance-agent")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimTask(ctx, task.ID, "finance-agent"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestClaimTask_RejectsDisabledAgentAndRollsBack(t *testing.T) {
	disabled := agent("broadcast-agent", 3)
	s := newTestStore(t, disabled)
	ctx := context.Background()
	require.NoError(t, s.SetAgentEnabled(ctx, "broadcast-agent", false))
	task := queuedTask(t, s, "broadcast-agent")

	_, err := s.ClaimTask(ctx, task.ID, "broadcast-agent")
	require.ErrorIs(t, err, ErrClaimConflict)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskQueued, got.Status, "task update must roll back with the agent update")
	assert.Nil(t, got.StartedAt)
}

func TestClaimTask_WrongAgent(t *testing.T) {
	s := newTestStore(t, agent("research-agent", 3), agent("status-agent", 3))
	task := queuedTask(t, s, "research-agent")

	_, err := s.ClaimTask(context.Background(), task.ID, "status-agent")
	assert.ErrorIs(t, err, ErrClaimConflict)
}

func TestCompleteTask_DoneStampsCompletionAndReleasesAgent(t *testing.T) {
	s := newTestStore(t, agent("research-agent", 3))
	ctx := context.Background()
	task := queuedTask(t, s, "research-agent")
	_, err := s.ClaimTask(ctx, task.ID, "research-agent")
	require.NoError(t, err)

	done, err := s.CompleteTask(ctx, task.ID, Completion{Status: models.TaskDone, Output: "answer", Confidence: 0.8})
	require.NoError(t, err)
	assert.Equal(t, models.TaskDone, done.Status)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, "answer", done.Output)

	a, err := s.GetAgent(ctx, "research-agent")
	require.NoError(t, err)
	assert.Nil(t, a.CurrentTaskID)

	_, err = s.CompleteTask(ctx, task.ID, Completion{Status: models.TaskDone})
	assert.ErrorIs(t, err, ErrPreconditionFailed, "terminal tasks are immutable")
}

func TestCompleteTask_ReviewHasNoCompletion(t *testing.T) {
	s := newTestStore(t, agent("drafting-agent", 2))
	ctx := context.Background()
	task := queuedTask(t, s, "drafting-agent")
	_, err := s.ClaimTask(ctx, task.ID, "drafting-agent")
	require.NoError(t, err)

	rev, err := s.CompleteTask(ctx, task.ID, Completion{Status: models.TaskReview, NeedsReview: true})
	require.NoError(t, err)
	assert.Equal(t, models.TaskReview, rev.Status)
	assert.Nil(t, rev.CompletedAt)

	a, err := s.GetAgent(ctx, "drafting-agent")
	require.NoError(t, err)
	assert.Nil(t, a.CurrentTaskID)

	approved, err := s.ReviewTask(ctx, task.ID, []models.TaskStatus{models.TaskReview}, models.TaskDone, "alice", "ok")
	require.NoError(t, err)
	assert.Equal(t, models.TaskDone, approved.Status)
	assert.Equal(t, "alice", approved.ReviewedBy)
	assert.NotNil(t, approved.CompletedAt)
}

func TestFailTask_SecondCallIsNoop(t *testing.T) {
	s := newTestStore(t, agent("status-agent", 3))
	ctx := context.Background()
	task := queuedTask(t, s, "status-agent")
	_, err := s.ClaimTask(ctx, task.ID, "status-agent")
	require.NoError(t, err)

	require.NoError(t, s.FailTask(ctx, task.ID, "timed out"))
	err = s.FailTask(ctx, task.ID, "timed out again")
	require.ErrorIs(t, err, ErrPreconditionFailed)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, got.Status)
	assert.Equal(t, "timed out", got.Error)
	assert.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, s.FailTask(ctx, "missing", "x"), ErrNotFound)
}

func TestListTasks_StartedBeforeAndPriorityOrder(t *testing.T) {
	s := newTestStore(t, agent("research-agent", 3))
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-20 * time.Minute)
	recent := now.Add(-time.Minute)

	for i, started := range []time.Time{old, recent} {
		require.NoError(t, s.CreateTask(ctx, &models.Task{
			ID:            fmt.Sprintf("w%d", i),
			AssignedAgent: "research-agent",
			Status:        models.TaskWorking,
			StartedAt:     &started,
		}))
	}
	cutoff := now.Add(-15 * time.Minute)
	stale, err := s.ListTasks(ctx, TaskQuery{Statuses: []models.TaskStatus{models.TaskWorking}, StartedBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "w0", stale[0].ID)

	for _, p := range []int{4, 1, 3} {
		require.NoError(t, s.CreateTask(ctx, &models.Task{
			ID: fmt.Sprintf("q%d", p), AssignedAgent: "research-agent", Status: models.TaskQueued, Priority: p,
		}))
	}
	queued, err := s.ListTasks(ctx, TaskQuery{Statuses: []models.TaskStatus{models.TaskQueued}, ByPriority: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, "q1", queued[0].ID)
	assert.Equal(t, "q3", queued[1].ID)
}

func TestSyncAgents_PreservesRuntimeState(t *testing.T) {
	s := newTestStore(t, agent("research-agent", 3))
	ctx := context.Background()
	task := queuedTask(t, s, "research-agent")
	_, err := s.ClaimTask(ctx, task.ID, "research-agent")
	require.NoError(t, err)

	updated := agent("research-agent", 2)
	updated.Name = "Research"
	require.NoError(t, s.SyncAgents(ctx, []models.Agent{updated}))

	a, err := s.GetAgent(ctx, "research-agent")
	require.NoError(t, err)
	assert.Equal(t, "Research", a.Name)
	assert.Equal(t, 2, a.AutonomyLevel)
	require.NotNil(t, a.CurrentTaskID)
	assert.Equal(t, task.ID, *a.CurrentTaskID)
}

func TestCursor_PersistsAcrossStoreInstances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetCursor(ctx, "relationship_digest")
	require.NoError(t, err)
	assert.False(t, ok)

	pos := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetCursor(ctx, "relationship_digest", pos))
	require.NoError(t, s.SetCursor(ctx, "relationship_digest", pos.Add(time.Hour)))

	reopened := New(s.db)
	got, ok, err := reopened.GetCursor(ctx, "relationship_digest")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(pos.Add(time.Hour)), "got %s", got)
}

func TestProposalTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := &models.Proposal{ID: "p1", TargetContactID: "c1", ExecutionChannel: "email", Status: models.ProposalPendingReview}
	require.NoError(t, s.CreateProposal(ctx, p))

	got, err := s.TransitionProposal(ctx, "p1", models.ProposalPendingReview, ProposalUpdate{To: models.ProposalApproved, ReviewedBy: "bob"})
	require.NoError(t, err)
	assert.Equal(t, models.ProposalApproved, got.Status)
	assert.NotNil(t, got.ReviewedAt)

	_, err = s.TransitionProposal(ctx, "p1", models.ProposalPendingReview, ProposalUpdate{To: models.ProposalRejected})
	assert.True(t, errors.Is(err, ErrPreconditionFailed))

	_, err = s.TransitionProposal(ctx, "nope", models.ProposalPendingReview, ProposalUpdate{To: models.ProposalRejected})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimProposal_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateProposal(ctx, &models.Proposal{ID: "p1", ExecutionChannel: "slack", Status: models.ProposalApproved}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	staleBefore := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ClaimProposal(ctx, "p1", staleBefore)
			if err != nil {
				assert.ErrorIs(t, err, ErrClaimConflict)
				return
			}
			mu.Lock()
			wins++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := s.ClaimProposal(ctx, "p1", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err, "a stale claim can be retaken")
	assert.NotNil(t, got.ExecutionStartedAt)

	require.NoError(t, s.CreateProposal(ctx, &models.Proposal{ID: "p2", ExecutionChannel: "slack", Status: models.ProposalPendingReview}))
	_, err = s.ClaimProposal(ctx, "p2", staleBefore)
	assert.ErrorIs(t, err, ErrClaimConflict, "only approved proposals can be claimed")
	_, err = s.ClaimProposal(ctx, "nope", staleBefore)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTasks_ActionableAndMarkSuggested(t *testing.T) {
	s := newTestStore(t, agent("research-agent", 3), agent("broadcast-agent", 1), agent("finance-agent", 2))
	ctx := context.Background()
	require.NoError(t, s.SetAgentEnabled(ctx, "finance-agent", false))

	running := queuedTask(t, s, "research-agent")
	_, err := s.ClaimTask(ctx, running.ID, "research-agent")
	require.NoError(t, err)
	blocked := queuedTask(t, s, "research-agent")
	suggest := queuedTask(t, s, "broadcast-agent")
	disabled := queuedTask(t, s, "finance-agent")

	q := TaskQuery{Statuses: []models.TaskStatus{models.TaskQueued}, Actionable: true}
	got, err := s.ListTasks(ctx, q)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, suggest.ID, got[0].ID)

	marked, err := s.MarkSuggested(ctx, suggest.ID)
	require.NoError(t, err)
	assert.True(t, marked)
	marked, err = s.MarkSuggested(ctx, suggest.ID)
	require.NoError(t, err)
	assert.False(t, marked, "a task is suggested once")

	got, err = s.ListTasks(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, got)

	all, err := s.ListTasks(ctx, TaskQuery{Statuses: []models.TaskStatus{models.TaskQueued}})
	require.NoError(t, err)
	assert.Len(t, all, 3, "%s and %s stay queued", blocked.ID, disabled.ID)
}

func TestRetrieval(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveContacts(ctx, []models.Contact{
		{ID: "c1", Name: "Jane Doe", Organisation: "Acme Corp"},
		{ID: "c2", Name: "Sam Lee", Organisation: "Globex"},
	}))
	require.NoError(t, s.SaveProjects(ctx, []models.Project{
		{ID: "p1", Name: "Harvest", Status: "active"},
		{ID: "p2", Name: "Archive", Status: "closed"},
	}))

	contacts, err := s.SearchContacts(ctx, []string{"acme"}, 5)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "c1", contacts[0].ID)

	projects, err := s.ActiveProjects(ctx, 5)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "p1", projects[0].ID)
}
