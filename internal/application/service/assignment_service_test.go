package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/idea-hub/internal/domain/entity"
	domainwf "github.com/garyjia/idea-hub/internal/domain/workflow"
	"github.com/garyjia/idea-hub/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignmentService_ClaimConcurrency(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	idea := s.submitTo(t, domainwf.StateDeveloperAssignment)

	listing, err := s.assignments.List(ctx, idea.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, entity.AssignmentListed, listing.Status)

	const claimants = 32
	for i := 0; i < claimants; i++ {
		s.addDevelopers(t, fmt.Sprintf("dev-%02d", i))
	}
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]error, claimants)
		winners = make([]*entity.Assignment, claimants)
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dev := entity.Caller{UserID: fmt.Sprintf("dev-%02d", i), Role: entity.RoleDeveloper}
			<-start
			winners[i], results[i] = s.assignments.Claim(ctx, idea.ID, dev.UserID, dev)
		}(i)
	}
	close(start)
	wg.Wait()

	var won []int
	for i, err := range results {
		if err == nil {
			won = append(won, i)
			continue
		}
		requireAppError(t, err, apperror.ErrConflict, apperror.CodeAlreadyClaimed)
	}
	require.Len(t, won, 1, "exactly one claimant must win")

	winner := winners[won[0]]
	assert.Equal(t, entity.AssignmentClaimed, winner.Status)
	assert.Equal(t, fmt.Sprintf("dev-%02d", won[0]), winner.DeveloperID)
	assert.NotNil(t, winner.ClaimedAt)

	stored, err := s.ideas.Get(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateImplementation, stored.Status)

	all, err := s.assignRepo.ListByIdea(ctx, idea.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, entity.AssignmentClaimed, all[0].Status)

	history, err := s.ideas.History(ctx, idea.ID)
	require.NoError(t, err)
	var statusChanges int
	for _, ev := range history {
		if ev.Event == entity.EventStatusChanged {
			statusChanges++
		}
	}
	assert.Equal(t, 3, statusChanges, "analyst, developers, implementation")

	assert.Equal(t, 1, s.metrics.won)
	assert.Equal(t, claimants-1, s.metrics.lost)
}

func TestAssignmentService_ClaimErrors(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	idea := s.submitTo(t, domainwf.StateDeveloperAssignment)

	t.Run("unknown idea", func(t *testing.T) {
		_, err := s.assignments.Claim(ctx, 999, developer.UserID, developer)
		requireAppError(t, err, apperror.ErrNotFound, apperror.CodeIdeaNotFound)
	})

	t.Run("not listed", func(t *testing.T) {
		_, err := s.assignments.Claim(ctx, idea.ID, developer.UserID, developer)
		requireAppError(t, err, apperror.ErrNotFound, apperror.CodeListingNotFound)
	})

	t.Run("developer claims for someone else", func(t *testing.T) {
		_, err := s.assignments.Claim(ctx, idea.ID, "dev-other", developer)
		requireAppError(t, err, apperror.ErrForbidden, apperror.CodeRoleForbidden)
	})

	t.Run("analyst cannot claim", func(t *testing.T) {
		_, err := s.assignments.Claim(ctx, idea.ID, analyst.UserID, analyst)
		requireAppError(t, err, apperror.ErrForbidden, apperror.CodeRoleForbidden)
	})

	t.Run("manager claims on behalf of developer", func(t *testing.T) {
		_, err := s.assignments.List(ctx, idea.ID, manager)
		require.NoError(t, err)

		a, err := s.assignments.Claim(ctx, idea.ID, "dev-z", manager)
		require.NoError(t, err)
		assert.Equal(t, "dev-z", a.DeveloperID)
	})
}

func TestAssignmentService_ClaimRollsBackWhenIdeaMoved(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	idea := s.submitTo(t, domainwf.StateDeveloperAssignment)

	listing, err := s.assignments.List(ctx, idea.ID, manager)
	require.NoError(t, err)

	// Move the idea out of developer_assignment behind the listing's back
	moved := *idea
	moved.Status = domainwf.StateImplementation
	ok, err := s.ideaRepo.UpdateStatus(ctx, &moved, domainwf.StateDeveloperAssignment)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.assignments.Claim(ctx, idea.ID, developer.UserID, developer)
	requireAppError(t, err, apperror.ErrConflict, apperror.CodeIdeaStatusChanged)

	reloaded, err := s.assignments.Get(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.AssignmentListed, reloaded.Status, "claim must roll back")
	assert.Empty(t, reloaded.DeveloperID)
	assert.Nil(t, reloaded.ClaimedAt)
}

func TestAssignmentService_UnknownDeveloper(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	idea := s.submitTo(t, domainwf.StateDeveloperAssignment)

	require.NoError(t, s.users.Create(ctx, &entity.User{
		ID:    analyst.UserID,
		Email: analyst.Email,
		Role:  entity.RoleAnalyst,
	}))

	t.Run("invite unknown id", func(t *testing.T) {
		_, err := s.assignments.Invite(ctx, idea.ID, "no-such-developer", manager)
		requireAppError(t, err, apperror.ErrNotFound, apperror.CodeDeveloperNotFound)
	})

	t.Run("invite non-developer", func(t *testing.T) {
		_, err := s.assignments.Invite(ctx, idea.ID, analyst.UserID, manager)
		requireAppError(t, err, apperror.ErrNotFound, apperror.CodeDeveloperNotFound)
	})

	_, err := s.assignments.List(ctx, idea.ID, manager)
	require.NoError(t, err)

	t.Run("manager claims for unknown id", func(t *testing.T) {
		_, err := s.assignments.Claim(ctx, idea.ID, "ghost", manager)
		requireAppError(t, err, apperror.ErrNotFound, apperror.CodeDeveloperNotFound)
	})

	t.Run("unregistered developer claims", func(t *testing.T) {
		ghost := entity.Caller{UserID: "ghost-dev", Role: entity.RoleDeveloper}
		_, err := s.assignments.Claim(ctx, idea.ID, "", ghost)
		requireAppError(t, err, apperror.ErrNotFound, apperror.CodeDeveloperNotFound)
	})

	all, err := s.assignRepo.ListByIdea(ctx, idea.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, entity.AssignmentListed, all[0].Status, "listing stays open")
}

func TestAssignmentService_InviteObservesClaimCommittedFirst(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	idea := s.submitTo(t, domainwf.StateDeveloperAssignment)

	_, err := s.assignments.List(ctx, idea.ID, manager)
	require.NoError(t, err)

	var claimErr error
	engine := newRacingEngine(s.engine, func() {
		_, claimErr = s.assignments.Claim(ctx, idea.ID, developer.UserID, developer)
	})

	_, err = s.assignmentsWith(engine).Invite(ctx, idea.ID, "dev-e", manager)
	requireAppError(t, err, apperror.ErrConflict, apperror.CodeActiveAssignmentExists)

	<-engine.done
	require.NoError(t, claimErr)

	stored, err := s.ideas.Get(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateImplementation, stored.Status)

	all, err := s.assignRepo.ListByIdea(ctx, idea.ID)
	require.NoError(t, err)
	require.Len(t, all, 1, "no invitation may be created for a claimed idea")
	assert.Equal(t, entity.AssignmentClaimed, all[0].Status)
	assert.Equal(t, developer.UserID, all[0].DeveloperID)
}

func TestAssignmentService_ListObservesAcceptCommittedFirst(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	idea := s.submitTo(t, domainwf.StateDeveloperAssignment)

	invite, err := s.assignments.Invite(ctx, idea.ID, developer.UserID, manager)
	require.NoError(t, err)

	var acceptErr error
	engine := newRacingEngine(s.engine, func() {
		_, acceptErr = s.assignments.Respond(ctx, invite.ID, entity.ResponseAccept, developer)
	})

	_, err = s.assignmentsWith(engine).List(ctx, idea.ID, manager)
	requireAppError(t, err, apperror.ErrConflict, apperror.CodeActiveAssignmentExists)

	<-engine.done
	require.NoError(t, acceptErr)

	stored, err := s.ideas.Get(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateImplementation, stored.Status)

	page, err := s.assignments.Marketplace(ctx, entity.Page{})
	require.NoError(t, err)
	assert.Zero(t, page.Total, "accepted idea must not reach the marketplace")
}

func TestAssignmentService_InviteDeclineReinvite(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	idea := s.submitTo(t, domainwf.StateDeveloperAssignment)

	invite, err := s.assignments.Invite(ctx, idea.ID, developer.UserID, manager)
	require.NoError(t, err)
	assert.Equal(t, entity.AssignmentInvited, invite.Status)
	assert.NotNil(t, invite.InvitedAt)

	declined, err := s.assignments.Respond(ctx, invite.ID, entity.ResponseDecline, developer)
	require.NoError(t, err)
	assert.Equal(t, entity.AssignmentDeclined, declined.Status)
	assert.NotNil(t, declined.RespondedAt)

	stored, err := s.ideas.Get(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateDeveloperAssignment, stored.Status, "declining never advances the idea")

	_, err = s.assignments.Respond(ctx, invite.ID, entity.ResponseAccept, developer)
	requireAppError(t, err, apperror.ErrConflict, apperror.CodeAlreadyResolved)

	again, err := s.assignments.Invite(ctx, idea.ID, "dev-e", manager)
	require.NoError(t, err)
	assert.Equal(t, entity.AssignmentInvited, again.Status)

	history, err := s.assignments.History(ctx, invite.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, entity.EventAssignmentInvited, history[0].Event)
	assert.Equal(t, entity.EventAssignmentDeclined, history[1].Event)
}

func TestAssignmentService_InviteAccept(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	idea := s.submitTo(t, domainwf.StateDeveloperAssignment)

	invite, err := s.assignments.Invite(ctx, idea.ID, developer.UserID, manager)
	require.NoError(t, err)

	_, err = s.assignments.Respond(ctx, invite.ID, entity.ResponseAccept, entity.Caller{UserID: "dev-other", Role: entity.RoleDeveloper})
	requireAppError(t, err, apperror.ErrForbidden, apperror.CodeRoleForbidden)

	_, err = s.assignments.Respond(ctx, invite.ID, entity.ResponseAction("maybe"), developer)
	requireAppError(t, err, apperror.ErrValidation, apperror.CodeValidationFailed)

	accepted, err := s.assignments.Respond(ctx, invite.ID, entity.ResponseAccept, developer)
	require.NoError(t, err)
	assert.Equal(t, entity.AssignmentAccepted, accepted.Status)

	stored, err := s.ideas.Get(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateImplementation, stored.Status)

	page, err := s.assignments.ListAssignments(ctx, entity.AssignmentFilter{DeveloperID: developer.UserID}, entity.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 50, page.Limit)
}

func TestAssignmentService_OneActiveAssignmentPerIdea(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	idea := s.submitTo(t, domainwf.StateDeveloperAssignment)

	_, err := s.assignments.Invite(ctx, idea.ID, developer.UserID, manager)
	require.NoError(t, err)

	_, err = s.assignments.List(ctx, idea.ID, manager)
	requireAppError(t, err, apperror.ErrConflict, apperror.CodeActiveAssignmentExists)

	_, err = s.assignments.Invite(ctx, idea.ID, "dev-e", manager)
	requireAppError(t, err, apperror.ErrConflict, apperror.CodeActiveAssignmentExists)

	// The storage constraint holds even when the pre-check is bypassed
	now := time.Now().UTC()
	err = s.assignRepo.Create(ctx, &entity.Assignment{IdeaID: idea.ID, Status: entity.AssignmentListed, ListedAt: &now})
	require.Error(t, err)
}

func TestAssignmentService_PreconditionOrder(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	idea := s.submitTo(t, domainwf.StateAnalystReview)

	_, err := s.assignments.Invite(ctx, 999, developer.UserID, analyst)
	requireAppError(t, err, apperror.ErrNotFound, apperror.CodeIdeaNotFound)

	_, err = s.assignments.Invite(ctx, idea.ID, developer.UserID, analyst)
	requireAppError(t, err, apperror.ErrInvalidTransition, apperror.CodeInvalidTransition)

	_, err = s.assignments.Invite(ctx, idea.ID, "", manager)
	requireAppError(t, err, apperror.ErrValidation, apperror.CodeValidationFailed)

	ready := s.submitTo(t, domainwf.StateDeveloperAssignment)
	_, err = s.assignments.List(ctx, ready.ID, analyst)
	requireAppError(t, err, apperror.ErrForbidden, apperror.CodeRoleForbidden)

	_, err = s.assignments.Respond(ctx, 999, entity.ResponseAccept, developer)
	requireAppError(t, err, apperror.ErrNotFound, apperror.CodeAssignmentNotFound)
}

func TestAssignmentService_Marketplace(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	first := s.submitTo(t, domainwf.StateDeveloperAssignment)
	second := s.submitTo(t, domainwf.StateDeveloperAssignment)
	_, err := s.assignments.List(ctx, first.ID, manager)
	require.NoError(t, err)
	s.clock.Advance(time.Minute)
	_, err = s.assignments.List(ctx, second.ID, manager)
	require.NoError(t, err)

	page, err := s.assignments.Marketplace(ctx, entity.Page{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, first.ID, page.Items[0].IdeaID)
	assert.Equal(t, "Add dark mode", page.Items[0].Title)

	_, err = s.assignments.Claim(ctx, first.ID, developer.UserID, developer)
	require.NoError(t, err)

	page, err = s.assignments.Marketplace(ctx, entity.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, second.ID, page.Items[0].IdeaID)
}

func TestAssignmentService_ExpireInvitations(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	stale := s.submitTo(t, domainwf.StateDeveloperAssignment)
	staleInvite, err := s.assignments.Invite(ctx, stale.ID, developer.UserID, manager)
	require.NoError(t, err)

	s.clock.Advance(4 * 24 * time.Hour)
	fresh := s.submitTo(t, domainwf.StateDeveloperAssignment)
	freshInvite, err := s.assignments.Invite(ctx, fresh.ID, "dev-e", manager)
	require.NoError(t, err)

	s.clock.Advance(2 * 24 * time.Hour)
	report, err := s.assignments.ExpireInvitations(ctx, s.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Escalated, 1)
	assert.Equal(t, staleInvite.ID, report.Escalated[0].AssignmentID)
	assert.NotZero(t, report.Escalated[0].ListingID)

	expired, err := s.assignments.Get(ctx, staleInvite.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.AssignmentNoResponse, expired.Status)

	untouched, err := s.assignments.Get(ctx, freshInvite.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.AssignmentInvited, untouched.Status)

	page, err := s.assignments.Marketplace(ctx, entity.Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, stale.ID, page.Items[0].IdeaID)

	history, err := s.assignments.History(ctx, staleInvite.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.EventAssignmentEscalated, history[len(history)-1].Event)
	assert.Equal(t, entity.SystemCaller.UserID, history[len(history)-1].ActorID)

	admin, err := s.notifications.List(ctx, entity.NotificationFilter{Recipient: "admin@example.com"}, entity.Page{})
	require.NoError(t, err)
	require.Equal(t, 1, admin.Total)
	assert.Contains(t, admin.Items[0].Subject, "1 invitation(s) expired")

	// A second run finds nothing new
	report, err = s.assignments.ExpireInvitations(ctx, s.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, report.Escalated)
}
