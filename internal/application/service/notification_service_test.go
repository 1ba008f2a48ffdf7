package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/garyjia/idea-hub/internal/application/service"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	"github.com/garyjia/idea-hub/pkg/apperror"
	"github.com/garyjia/idea-hub/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNotificationService_DeadMailboxThenRetry(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	task, err := s.notifications.Enqueue(ctx, "dead@example.com", service.TemplateIdeaSubmitted, map[string]interface{}{
		"IdeaID": 7,
		"Title":  "Add dark mode",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationPending, task.Status)
	assert.Equal(t, "Idea #7 received", task.Subject)

	s.sender.failWith(errors.New("mailbox unavailable"))
	for attempt := 1; attempt <= 3; attempt++ {
		task, err = s.notifications.Deliver(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, task.AttemptCount)
		assert.Equal(t, "mailbox unavailable", task.LastError)
	}
	assert.Equal(t, entity.NotificationFailed, task.Status)
	assert.Equal(t, 3, task.AttemptCount)

	// Failed tasks are not attempted again until retried
	task, err = s.notifications.Deliver(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, s.sender.calls)

	_, err = s.notifications.Retry(ctx, task.ID, developer)
	requireAppError(t, err, apperror.ErrForbidden, apperror.CodeRoleForbidden)

	task, err = s.notifications.Retry(ctx, task.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationPending, task.Status)

	s.sender.failWith(nil)
	task, err = s.notifications.Deliver(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationSent, task.Status)
	assert.Equal(t, 4, task.AttemptCount)
	assert.Equal(t, "msg-dead@example.com", task.ProviderMessageID)
	assert.NotNil(t, task.SentAt)

	_, err = s.notifications.Retry(ctx, task.ID, manager)
	requireAppError(t, err, apperror.ErrConflict, apperror.CodeNotificationNotFailed)

	history, err := s.audit.History(ctx, entity.EntityNotification, task.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entity.EventNotificationRetried, history[0].Event)

	assert.Equal(t, 2, s.metrics.deliveries[service.DeliveryRetrying])
	assert.Equal(t, 1, s.metrics.deliveries[service.DeliveryFailed])
	assert.Equal(t, 1, s.metrics.deliveries[service.DeliverySent])
}

type failingAudit struct{}

func (failingAudit) Record(ctx context.Context, entityType entity.EntityType, entityID int64, event string, actor entity.Caller, payload interface{}) (*entity.AuditEvent, error) {
	return nil, errors.New("audit store unavailable")
}

func TestNotificationService_RetryRollsBackWithoutAudit(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	task, err := s.notifications.Enqueue(ctx, "dead@example.com", service.TemplateIdeaSubmitted, map[string]interface{}{
		"IdeaID": 7,
		"Title":  "Add dark mode",
	})
	require.NoError(t, err)

	s.sender.failWith(errors.New("mailbox unavailable"))
	for attempt := 1; attempt <= 3; attempt++ {
		_, err = s.notifications.Deliver(ctx, task.ID)
		require.NoError(t, err)
	}

	templates, err := service.NewTemplateRegistry(nil)
	require.NoError(t, err)
	broken := service.NewNotificationService(s.notifRepo, templates, s.sender, failingAudit{}, s.txManager,
		utils.NewKVLogger(zap.NewNop()))

	_, err = broken.Retry(ctx, task.ID, manager)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit store unavailable")

	stored, err := s.notifications.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationFailed, stored.Status, "reset must roll back with the audit record")

	retried, err := s.notifications.Retry(ctx, task.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationPending, retried.Status)

	history, err := s.audit.History(ctx, entity.EntityNotification, task.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entity.EventNotificationRetried, history[0].Event)
}

func TestNotificationService_DeliverResolvedElsewhere(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	task, err := s.notifications.Enqueue(ctx, "x@example.com", service.TemplateIdeaSubmitted, map[string]interface{}{
		"IdeaID": 7,
		"Title":  "Add dark mode",
	})
	require.NoError(t, err)

	// Another worker completes the task while this send is in flight
	s.sender.onSend = func() {
		ok, err := s.notifRepo.MarkSent(ctx, task.ID, "msg-other-worker", s.clock.Now())
		require.NoError(t, err)
		require.True(t, ok)
	}

	delivered, err := s.notifications.Deliver(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationSent, delivered.Status)
	assert.Equal(t, "msg-other-worker", delivered.ProviderMessageID)
	assert.Equal(t, 1, delivered.AttemptCount)
	assert.Zero(t, s.metrics.deliveries[service.DeliverySent])
}

func TestNotificationService_Enqueue(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.notifications.Enqueue(ctx, "", service.TemplateIdeaSubmitted, nil)
	requireAppError(t, err, apperror.ErrValidation, apperror.CodeValidationFailed)

	_, err = s.notifications.Enqueue(ctx, "x@example.com", "no.such.template", nil)
	requireAppError(t, err, apperror.ErrValidation, apperror.CodeUnknownTemplate)

	_, err = s.notifications.Get(ctx, 404)
	requireAppError(t, err, apperror.ErrNotFound, apperror.CodeNotificationNotFound)
}

func TestNotificationService_SenderFailureDoesNotAffectTransition(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.sender.failWith(errors.New("smtp down"))

	idea := s.submitTo(t, "analyst_review")
	assert.Equal(t, "analyst_review", string(idea.Status))

	pending, err := s.notifications.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2, "submitted and status_changed")

	for _, task := range pending {
		updated, err := s.notifications.Deliver(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.NotificationPending, updated.Status)
	}

	stored, err := s.ideas.Get(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, idea.Status, stored.Status)
}

func TestTemplateRegistry_Overrides(t *testing.T) {
	overrides, err := service.LoadTemplateOverrides(strings.NewReader(`
idea.submitted:
  subject: "Thanks! #{{.IdeaID}}"
  body: "We got {{.Title}}"
custom.digest:
  subject: "Digest"
  body: "{{.Count}} items"
`))
	require.NoError(t, err)

	registry, err := service.NewTemplateRegistry(overrides)
	require.NoError(t, err)
	assert.True(t, registry.Has("custom.digest"))
	assert.True(t, registry.Has(service.TemplateSLASummary))

	subject, body, err := registry.Render(service.TemplateIdeaSubmitted, map[string]interface{}{"IdeaID": 3, "Title": "Dark mode"})
	require.NoError(t, err)
	assert.Equal(t, "Thanks! #3", subject)
	assert.Equal(t, "We got Dark mode", body)

	empty, err := service.LoadTemplateOverrides(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = service.NewTemplateRegistry(map[string]service.TemplateSource{"broken": {Subject: "{{.Oops"}})
	assert.Error(t, err)
}
