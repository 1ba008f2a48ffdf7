package workflow

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/garyjia/idea-hub/internal/domain/entity"
	domainwf "github.com/garyjia/idea-hub/internal/domain/workflow"
	"github.com/garyjia/idea-hub/pkg/apperror"
)

// Mock implementations

type mockIdeaRepo struct {
	ideas     map[int64]*entity.Idea
	updateErr error
	staleCAS  bool
	updates   int
}

func newMockIdeaRepo(ideas ...*entity.Idea) *mockIdeaRepo {
	m := &mockIdeaRepo{ideas: make(map[int64]*entity.Idea)}
	for _, idea := range ideas {
		m.ideas[idea.ID] = idea
	}
	return m
}

func (m *mockIdeaRepo) Create(ctx context.Context, idea *entity.Idea) error {
	m.ideas[idea.ID] = idea
	return nil
}

func (m *mockIdeaRepo) GetByID(ctx context.Context, id int64) (*entity.Idea, error) {
	idea, exists := m.ideas[id]
	if !exists {
		return nil, nil
	}
	cp := *idea
	return &cp, nil
}

func (m *mockIdeaRepo) List(ctx context.Context, filter entity.IdeaFilter, page entity.Page) ([]*entity.Idea, int, error) {
	return nil, 0, nil
}

func (m *mockIdeaRepo) UpdateStatus(ctx context.Context, idea *entity.Idea, from domainwf.State) (bool, error) {
	if m.updateErr != nil {
		return false, m.updateErr
	}
	stored, exists := m.ideas[idea.ID]
	if !exists || stored.Status != from || m.staleCAS {
		return false, nil
	}
	m.updates++
	cp := *idea
	m.ideas[idea.ID] = &cp
	return true, nil
}

func (m *mockIdeaRepo) ListByStatuses(ctx context.Context, statuses []domainwf.State) ([]*entity.Idea, error) {
	return nil, nil
}

func (m *mockIdeaRepo) CountByStatus(ctx context.Context) (map[domainwf.State]int, error) {
	return nil, nil
}

func (m *mockIdeaRepo) Latest(ctx context.Context, limit int) ([]*entity.Idea, error) {
	return nil, nil
}

type recordedEvent struct {
	entityType entity.EntityType
	entityID   int64
	event      string
	actor      entity.Caller
	payload    interface{}
}

type mockAuditRecorder struct {
	events    []recordedEvent
	recordErr error
}

func (m *mockAuditRecorder) Record(ctx context.Context, entityType entity.EntityType, entityID int64, event string, actor entity.Caller, payload interface{}) (*entity.AuditEvent, error) {
	if m.recordErr != nil {
		return nil, m.recordErr
	}
	m.events = append(m.events, recordedEvent{entityType, entityID, event, actor, payload})
	return &entity.AuditEvent{ID: int64(len(m.events)), EntityType: entityType, EntityID: entityID, Event: event}, nil
}

type enqueued struct {
	recipient string
	template  string
	data      map[string]interface{}
}

type mockNotifier struct {
	tasks []enqueued
}

func (m *mockNotifier) Enqueue(ctx context.Context, recipient, template string, data map[string]interface{}) (*entity.NotificationTask, error) {
	m.tasks = append(m.tasks, enqueued{recipient, template, data})
	return &entity.NotificationTask{ID: int64(len(m.tasks)), Recipient: recipient, Template: template}, nil
}

type mockTxManager struct {
	commitErr error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	return m.commitErr
}

type mockMetrics struct {
	transitions []string
}

func (m *mockMetrics) ObserveTransition(from, to, trigger string) {
	m.transitions = append(m.transitions, from+"->"+to+":"+trigger)
}

func (m *mockMetrics) ObserveClaim(won bool) {}

func (m *mockMetrics) ObserveDelivery(result string) {}

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func callerWithRole(role entity.Role) entity.Caller {
	return entity.Caller{UserID: string(role) + "-1", Role: role}
}

func newIdea(id int64, status domainwf.State) *entity.Idea {
	return &entity.Idea{
		ID:       id,
		RawInput: "Add dark mode",
		Title:    "Add dark mode",
		Status:   status,
		Author:   entity.Author{Name: "X", Email: "x@example.com"},
	}
}

type engineFixture struct {
	repo     *mockIdeaRepo
	audit    *mockAuditRecorder
	notifier *mockNotifier
	tx       *mockTxManager
	metrics  *mockMetrics
	engine   WorkflowEngine
}

func newEngineFixture(ideas ...*entity.Idea) *engineFixture {
	f := &engineFixture{
		repo:     newMockIdeaRepo(ideas...),
		audit:    &mockAuditRecorder{},
		notifier: &mockNotifier{},
		tx:       &mockTxManager{},
		metrics:  &mockMetrics{},
	}
	f.engine = NewEngine(f.repo, f.audit, f.notifier, f.tx,
		WithMetrics(f.metrics),
		WithClock(func() time.Time { return fixedNow }),
	)
	return f
}

// Test factory

func TestBuildIdeaStateMachine(t *testing.T) {
	tests := []struct {
		name         string
		initialState domainwf.State
		trigger      domainwf.Trigger
		wantState    domainwf.State
		wantError    bool
	}{
		{"new -> analyst_review", domainwf.StateNew, domainwf.TriggerRouteToAnalyst, domainwf.StateAnalystReview, false},
		{"analyst_review -> finance_review", domainwf.StateAnalystReview, domainwf.TriggerRouteToFinance, domainwf.StateFinanceReview, false},
		{"analyst_review -> developer_assignment", domainwf.StateAnalystReview, domainwf.TriggerRouteToDevelopers, domainwf.StateDeveloperAssignment, false},
		{"analyst_review -> rejected", domainwf.StateAnalystReview, domainwf.TriggerReject, domainwf.StateRejected, false},
		{"analyst_review -> duplicate", domainwf.StateAnalystReview, domainwf.TriggerMarkDuplicate, domainwf.StateDuplicate, false},
		{"analyst_review -> improvement", domainwf.StateAnalystReview, domainwf.TriggerMarkImprovement, domainwf.StateImprovement, false},
		{"finance_review -> developer_assignment", domainwf.StateFinanceReview, domainwf.TriggerRouteToDevelopers, domainwf.StateDeveloperAssignment, false},
		{"finance_review -> rejected", domainwf.StateFinanceReview, domainwf.TriggerReject, domainwf.StateRejected, false},
		{"developer_assignment -> implementation", domainwf.StateDeveloperAssignment, domainwf.TriggerStartImplementation, domainwf.StateImplementation, false},
		{"implementation -> completed", domainwf.StateImplementation, domainwf.TriggerComplete, domainwf.StateCompleted, false},
		{"implementation -> rejected", domainwf.StateImplementation, domainwf.TriggerReject, domainwf.StateRejected, false},
		{"new cannot skip to finance", domainwf.StateNew, domainwf.TriggerRouteToFinance, domainwf.StateNew, true},
		{"finance_review cannot mark duplicate", domainwf.StateFinanceReview, domainwf.TriggerMarkDuplicate, domainwf.StateFinanceReview, true},
		{"developer_assignment cannot reject", domainwf.StateDeveloperAssignment, domainwf.TriggerReject, domainwf.StateDeveloperAssignment, true},
		{"completed is terminal", domainwf.StateCompleted, domainwf.TriggerReject, domainwf.StateCompleted, true},
		{"duplicate is terminal", domainwf.StateDuplicate, domainwf.TriggerRouteToAnalyst, domainwf.StateDuplicate, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := BuildIdeaStateMachine(tt.initialState)
			err := sm.Fire(context.Background(), tt.trigger)

			if (err != nil) != tt.wantError {
				t.Fatalf("Fire() error = %v, wantError %v", err, tt.wantError)
			}
			if sm.State() != tt.wantState {
				t.Errorf("State() = %v, want %v", sm.State(), tt.wantState)
			}
		})
	}
}

func TestIdeaTransitions_CoverEveryNonTerminalState(t *testing.T) {
	sources := make(map[domainwf.State]bool)
	for _, edge := range IdeaTransitions() {
		sources[edge.From] = true
		if len(AllowedRoles(edge.From, edge.Trigger)) == 0 {
			t.Errorf("edge %s --%s--> %s has no authorized roles", edge.From, edge.Trigger, edge.To)
		}
	}
	for _, s := range domainwf.AllStates {
		if s.IsTerminal() == sources[s] {
			t.Errorf("state %s: terminal=%v but has outgoing edges=%v", s, s.IsTerminal(), sources[s])
		}
	}
	if got := len(IdeaTransitions()); got != 11 {
		t.Errorf("len(IdeaTransitions()) = %d, want 11", got)
	}
}

func TestAuthorized(t *testing.T) {
	tests := []struct {
		from    domainwf.State
		trigger domainwf.Trigger
		role    entity.Role
		want    bool
	}{
		{domainwf.StateNew, domainwf.TriggerRouteToAnalyst, entity.RoleAnalyst, true},
		{domainwf.StateNew, domainwf.TriggerRouteToAnalyst, entity.RoleSubmitter, false},
		{domainwf.StateAnalystReview, domainwf.TriggerRouteToFinance, entity.RoleAnalyst, false},
		{domainwf.StateAnalystReview, domainwf.TriggerRouteToDevelopers, entity.RoleManager, true},
		{domainwf.StateAnalystReview, domainwf.TriggerMarkDuplicate, entity.RoleAnalyst, true},
		{domainwf.StateFinanceReview, domainwf.TriggerRouteToDevelopers, entity.RoleFinance, true},
		{domainwf.StateFinanceReview, domainwf.TriggerReject, entity.RoleAnalyst, false},
		{domainwf.StateDeveloperAssignment, domainwf.TriggerStartImplementation, entity.RoleDeveloper, true},
		{domainwf.StateImplementation, domainwf.TriggerReject, entity.RoleDeveloper, false},
		{domainwf.StateImplementation, domainwf.TriggerComplete, entity.RoleAdmin, true},
	}

	for _, tt := range tests {
		got := Authorized(tt.from, tt.trigger, callerWithRole(tt.role))
		if got != tt.want {
			t.Errorf("Authorized(%s, %s, %s) = %v, want %v", tt.from, tt.trigger, tt.role, got, tt.want)
		}
	}
}

// Test engine

func TestEngine_Transition(t *testing.T) {
	f := newEngineFixture(newIdea(1, domainwf.StateNew))
	analyst := callerWithRole(entity.RoleAnalyst)

	idea, err := f.engine.Transition(context.Background(), 1, domainwf.TriggerRouteToAnalyst, analyst)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	if idea.Status != domainwf.StateAnalystReview {
		t.Errorf("Status = %v, want %v", idea.Status, domainwf.StateAnalystReview)
	}
	if idea.AnalystEnteredAt == nil || !idea.AnalystEnteredAt.Equal(fixedNow) {
		t.Errorf("AnalystEnteredAt = %v, want %v", idea.AnalystEnteredAt, fixedNow)
	}
	if f.repo.ideas[1].Status != domainwf.StateAnalystReview {
		t.Errorf("stored status = %v, want %v", f.repo.ideas[1].Status, domainwf.StateAnalystReview)
	}

	if len(f.audit.events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(f.audit.events))
	}
	ev := f.audit.events[0]
	if ev.event != entity.EventStatusChanged || ev.entityType != entity.EntityIdea || ev.actor.UserID != analyst.UserID {
		t.Errorf("unexpected audit event %+v", ev)
	}
	wantPayload := map[string]interface{}{"from": "new", "to": "analyst_review", "trigger": "route_to_analyst"}
	if !reflect.DeepEqual(ev.payload, wantPayload) {
		t.Errorf("payload = %v, want %v", ev.payload, wantPayload)
	}

	if len(f.notifier.tasks) != 1 || f.notifier.tasks[0].recipient != "x@example.com" ||
		f.notifier.tasks[0].template != TemplateStatusChanged {
		t.Errorf("unexpected notifications %+v", f.notifier.tasks)
	}
	if len(f.metrics.transitions) != 1 {
		t.Errorf("metrics transitions = %d, want 1", len(f.metrics.transitions))
	}
}

func TestEngine_TransitionCheckOrder(t *testing.T) {
	tests := []struct {
		name     string
		ideaID   int64
		trigger  domainwf.Trigger
		role     entity.Role
		wantKind error
		wantCode string
	}{
		{"missing idea wins over everything", 99, domainwf.TriggerComplete, entity.RoleSubmitter, apperror.ErrNotFound, apperror.CodeIdeaNotFound},
		{"illegal trigger before role check", 1, domainwf.TriggerComplete, entity.RoleSubmitter, apperror.ErrInvalidTransition, apperror.CodeInvalidTransition},
		{"analyst cannot route to finance", 1, domainwf.TriggerRouteToFinance, entity.RoleAnalyst, apperror.ErrForbidden, apperror.CodeRoleForbidden},
		{"submitter cannot reject", 1, domainwf.TriggerReject, entity.RoleSubmitter, apperror.ErrForbidden, apperror.CodeRoleForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(newIdea(1, domainwf.StateAnalystReview))

			_, err := f.engine.Transition(context.Background(), tt.ideaID, tt.trigger, callerWithRole(tt.role))
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("Transition() error = %v, want kind %v", err, tt.wantKind)
			}
			appErr, ok := apperror.As(err)
			if !ok || appErr.Code != tt.wantCode {
				t.Errorf("code = %v, want %s", appErr, tt.wantCode)
			}

			if f.repo.updates != 0 || len(f.audit.events) != 0 || len(f.notifier.tasks) != 0 {
				t.Errorf("failed transition wrote state: updates=%d events=%d tasks=%d",
					f.repo.updates, len(f.audit.events), len(f.notifier.tasks))
			}
			if f.repo.ideas[1].Status != domainwf.StateAnalystReview {
				t.Errorf("status changed to %v", f.repo.ideas[1].Status)
			}
		})
	}
}

func TestEngine_TransitionRejectsReplay(t *testing.T) {
	f := newEngineFixture(newIdea(1, domainwf.StateNew))
	analyst := callerWithRole(entity.RoleAnalyst)

	if _, err := f.engine.Transition(context.Background(), 1, domainwf.TriggerRouteToAnalyst, analyst); err != nil {
		t.Fatalf("first Transition() error = %v", err)
	}
	_, err := f.engine.Transition(context.Background(), 1, domainwf.TriggerRouteToAnalyst, analyst)
	if !errors.Is(err, apperror.ErrInvalidTransition) {
		t.Errorf("replayed Transition() error = %v, want InvalidTransition", err)
	}
	if len(f.audit.events) != 1 {
		t.Errorf("audit events = %d, want 1", len(f.audit.events))
	}
}

func TestEngine_TransitionConcurrentChange(t *testing.T) {
	f := newEngineFixture(newIdea(1, domainwf.StateAnalystReview))
	f.repo.staleCAS = true

	_, err := f.engine.Transition(context.Background(), 1, domainwf.TriggerReject, callerWithRole(entity.RoleManager))
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Transition() error = %v, want Conflict", err)
	}
	appErr, _ := apperror.As(err)
	if appErr.Code != apperror.CodeIdeaStatusChanged {
		t.Errorf("code = %s, want %s", appErr.Code, apperror.CodeIdeaStatusChanged)
	}
	if len(f.metrics.transitions) != 0 {
		t.Errorf("metrics recorded for failed transition")
	}
}

func TestEngine_TransitionAuditFailure(t *testing.T) {
	f := newEngineFixture(newIdea(1, domainwf.StateAnalystReview))
	f.audit.recordErr = errors.New("disk full")

	_, err := f.engine.Transition(context.Background(), 1, domainwf.TriggerReject, callerWithRole(entity.RoleManager))
	if err == nil {
		t.Fatal("Transition() expected error when the audit append fails")
	}
}

func TestEngine_TransitionWithoutAuthorEmail(t *testing.T) {
	idea := newIdea(1, domainwf.StateNew)
	idea.Author.Email = ""
	f := newEngineFixture(idea)

	if _, err := f.engine.Transition(context.Background(), 1, domainwf.TriggerRouteToAnalyst, callerWithRole(entity.RoleAdmin)); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if len(f.notifier.tasks) != 0 {
		t.Errorf("notifications = %d, want 0", len(f.notifier.tasks))
	}
}

func TestEngine_WithSimilarity(t *testing.T) {
	f := newEngineFixture(newIdea(1, domainwf.StateAnalystReview), newIdea(2, domainwf.StateAnalystReview))
	analyst := callerWithRole(entity.RoleAnalyst)

	idea, err := f.engine.Transition(context.Background(), 1, domainwf.TriggerMarkDuplicate, analyst, WithSimilarity(7, 0.91))
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if idea.SimilarityParentID == nil || *idea.SimilarityParentID != 7 || *idea.SimilarityScore != 0.91 {
		t.Errorf("similarity link = %v/%v, want 7/0.91", idea.SimilarityParentID, idea.SimilarityScore)
	}

	// The link only applies to duplicate and improvement
	idea, err = f.engine.Transition(context.Background(), 2, domainwf.TriggerReject, analyst, WithSimilarity(7, 0.91))
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if idea.SimilarityParentID != nil {
		t.Errorf("rejected idea got similarity link %v", *idea.SimilarityParentID)
	}
}

func TestEngine_Route(t *testing.T) {
	f := newEngineFixture(newIdea(1, domainwf.StateDeveloperAssignment), newIdea(2, domainwf.StateAnalystReview))
	manager := callerWithRole(entity.RoleManager)

	_, err := f.engine.Route(context.Background(), 1, domainwf.TriggerStartImplementation, manager)
	if !errors.Is(err, apperror.ErrInvalidTransition) {
		t.Errorf("Route(start_implementation) error = %v, want InvalidTransition", err)
	}

	_, err = f.engine.Route(context.Background(), 2, domainwf.Trigger("teleport"), manager)
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Route(unknown) error = %v, want Validation", err)
	}

	idea, err := f.engine.Route(context.Background(), 2, domainwf.TriggerRouteToDevelopers, manager)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if idea.Status != domainwf.StateDeveloperAssignment || idea.DevEnteredAt == nil {
		t.Errorf("idea = %+v, want developer_assignment with dev stamp", idea)
	}
}

func TestEngine_PermittedActions(t *testing.T) {
	f := newEngineFixture(newIdea(1, domainwf.StateAnalystReview), newIdea(2, domainwf.StateCompleted))

	tests := []struct {
		name   string
		ideaID int64
		role   entity.Role
		want   []domainwf.Trigger
	}{
		{"analyst", 1, entity.RoleAnalyst, []domainwf.Trigger{
			domainwf.TriggerMarkDuplicate, domainwf.TriggerMarkImprovement, domainwf.TriggerReject,
		}},
		{"manager", 1, entity.RoleManager, []domainwf.Trigger{
			domainwf.TriggerMarkDuplicate, domainwf.TriggerMarkImprovement, domainwf.TriggerReject,
			domainwf.TriggerRouteToDevelopers, domainwf.TriggerRouteToFinance,
		}},
		{"submitter", 1, entity.RoleSubmitter, []domainwf.Trigger{}},
		{"terminal", 2, entity.RoleAdmin, []domainwf.Trigger{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.engine.PermittedActions(context.Background(), tt.ideaID, callerWithRole(tt.role))
			if err != nil {
				t.Fatalf("PermittedActions() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PermittedActions() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := f.engine.PermittedActions(context.Background(), 42, callerWithRole(entity.RoleAdmin)); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("PermittedActions(missing) error = %v, want NotFound", err)
	}
}
