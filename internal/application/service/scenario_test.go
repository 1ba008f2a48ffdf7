package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/garyjia/idea-hub/internal/application/service"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	domainwf "github.com/garyjia/idea-hub/internal/domain/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Walks one idea from submission to completion through every component.
func TestScenario_DarkModeEndToEnd(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	idea, err := s.ideas.Submit(ctx, service.SubmitInput{RawInput: "Add dark mode", Category: "ui"}, author)
	require.NoError(t, err)

	s.clock.Advance(time.Hour)
	reviewed, err := s.reviews.Create(ctx, service.ReviewInput{
		IdeaID:   idea.ID,
		Stage:    entity.ReviewStageAnalyst,
		Decision: entity.DecisionAccepted,
	}, analyst)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateAnalystReview, reviewed.Idea.Status)

	actions, err := s.engine.PermittedActions(ctx, idea.ID, manager)
	require.NoError(t, err)
	assert.Contains(t, actions, domainwf.TriggerRouteToFinance)

	_, err = s.engine.Route(ctx, idea.ID, domainwf.TriggerRouteToFinance, manager)
	require.NoError(t, err)

	s.clock.Advance(2 * time.Hour)
	financed, err := s.reviews.Create(ctx, service.ReviewInput{
		IdeaID:   idea.ID,
		Stage:    entity.ReviewStageFinance,
		Decision: entity.DecisionAccepted,
	}, finance)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateDeveloperAssignment, financed.Idea.Status)

	invite, err := s.assignments.Invite(ctx, idea.ID, developer.UserID, manager)
	require.NoError(t, err)
	accepted, err := s.assignments.Respond(ctx, invite.ID, entity.ResponseAccept, developer)
	require.NoError(t, err)
	assert.Equal(t, entity.AssignmentAccepted, accepted.Status)

	current, err := s.ideas.Get(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateImplementation, current.Status)

	done, err := s.engine.Route(ctx, idea.ID, domainwf.TriggerComplete, developer)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCompleted, done.Status)

	history, err := s.ideas.History(ctx, idea.ID)
	require.NoError(t, err)
	var path []domainwf.State
	for _, e := range history {
		if e.Event != entity.EventStatusChanged {
			continue
		}
		payload, err := e.DecodePayload()
		require.NoError(t, err)
		path = append(path, domainwf.State(payload["to"].(string)))
	}
	assert.Equal(t, []domainwf.State{
		domainwf.StateAnalystReview,
		domainwf.StateFinanceReview,
		domainwf.StateDeveloperAssignment,
		domainwf.StateImplementation,
		domainwf.StateCompleted,
	}, path)

	queued, err := s.notifications.List(ctx, entity.NotificationFilter{Recipient: author.Email}, entity.Page{})
	require.NoError(t, err)
	assert.Equal(t, 6, queued.Total, "one submitted and five status changes")

	d, err := s.dashboard.Summary(ctx, s.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, d.StatusCounts[domainwf.StateCompleted])
	assert.Zero(t, d.SLA.Total())
}
