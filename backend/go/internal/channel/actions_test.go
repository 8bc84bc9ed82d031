package channel

import (
	"context"
	"testing"

	"Steward/backend/go/internal/config"
	"Steward/backend/go/internal/database/sqldb"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/review"
	"Steward/backend/go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostActions(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{}
	actions := NewPostActions(adapter, "C-OUT")

	result, err := actions.Execute(ctx, &models.Proposal{
		ExecutionChannel: "slack",
		ActionPayload:    []byte(`{"to":"Dana","subject":"intro","body":"Great to meet you."}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "已发送到 C-OUT", result)
	sent := adapter.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "C-OUT", sent[0].ChannelID)
	assert.Equal(t, "@Dana Great to meet you.", sent[0].Text)

	_, err = actions.Execute(ctx, &models.Proposal{ExecutionChannel: "email", ActionPayload: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrUnsupportedChannel)

	_, err = NewPostActions(adapter, "").Execute(ctx, &models.Proposal{ExecutionChannel: "slack", ActionPayload: []byte(`{}`)})
	assert.Error(t, err)
	assert.Len(t, adapter.sent(), 1)
}

func TestPostActions_ApprovedEmailProposalIsDelivered(t *testing.T) {
	db, err := sqldb.Open(config.StoreConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close(db) })
	st := store.New(db)
	ctx := context.Background()
	require.NoError(t, st.AutoMigrate(ctx))

	require.NoError(t, st.CreateTask(ctx, &models.Task{ID: "t-out", Title: "Follow up with Jane", AssignedAgent: "outreach-agent", Status: models.TaskReview}))
	require.NoError(t, st.CreateProposal(ctx, &models.Proposal{
		ID:               "p-mail",
		TaskID:           "t-out",
		TargetContactID:  "c-jane",
		ExecutionChannel: "slack",
		ActionPayload:    []byte(`{"to":"Jane Doe","email":"jane@acme.test","subject":"Follow up","body":"Hi Jane, just checking in."}`),
		Status:           models.ProposalPendingReview,
	}))

	adapter := &fakeAdapter{}
	svc := review.New(st, nil, nil).WithActions(NewPostActions(adapter, "C-OUT"))
	item, err := svc.Approve(ctx, "p-mail", "U1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ProposalCompleted, item.Proposal.Status)

	sent := adapter.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "C-OUT", sent[0].ChannelID)
	assert.Equal(t, "To Jane Doe <jane@acme.test>\n*Follow up*\nHi Jane, just checking in.", sent[0].Text)

	parent, err := st.GetTask(ctx, "t-out")
	require.NoError(t, err)
	assert.Equal(t, models.TaskDone, parent.Status)
}
