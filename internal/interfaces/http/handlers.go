package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/idea-hub/internal/application/service"
	"github.com/garyjia/idea-hub/internal/application/workflow"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	domainwf "github.com/garyjia/idea-hub/internal/domain/workflow"
	"github.com/garyjia/idea-hub/pkg/utils"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Version    string      `json:"version"`
	Components interface{} `json:"components,omitempty"`
}

// RouteRequest is the body of POST /api/ideas/:id/route
type RouteRequest struct {
	Action             string   `json:"action"`
	SimilarityParentID *int64   `json:"similarity_parent_id,omitempty"`
	SimilarityScore    *float64 `json:"similarity_score,omitempty"`
}

// DeveloperRequest names the developer for an invitation or claim
type DeveloperRequest struct {
	DeveloperID string `json:"developer_id"`
}

// RespondRequest is a developer's answer to an invitation
type RespondRequest struct {
	Action string `json:"action"`
}

// ActionsResponse lists the routing actions open to the caller
type ActionsResponse struct {
	IdeaID  int64              `json:"idea_id"`
	Status  domainwf.State     `json:"status"`
	Actions []domainwf.Trigger `json:"actions"`
}

// SLAResponse is the overdue summary with the thresholds it was computed against
type SLAResponse struct {
	service.SLASummary
	Total      int                   `json:"total"`
	Thresholds service.SLAThresholds `json:"thresholds"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	status := http.StatusOK
	if h.deps.Health != nil {
		healthy, components := h.deps.Health(c.Request.Context())
		response.Components = components
		if !healthy {
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeOK(c, status, response)
}

// SubmitIdea handles POST /api/ideas
func (h *Handlers) SubmitIdea(c *gin.Context) {
	var req service.SubmitInput
	if !bindJSON(c, &req) {
		return
	}

	idea, err := h.deps.Ideas.Submit(c.Request.Context(), req, callerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, idea)
}

// ListIdeas handles GET /api/ideas
func (h *Handlers) ListIdeas(c *gin.Context) {
	page, ok := pageFrom(c)
	if !ok {
		return
	}

	result, err := h.deps.Ideas.List(c.Request.Context(), ideaFilterFrom(c), page)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, result)
}

// ExportIdeas handles GET /api/ideas/export. The workbook is built in memory so
// a failed export still gets an error envelope.
func (h *Handlers) ExportIdeas(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.deps.Ideas.Export(c.Request.Context(), ideaFilterFrom(c), &buf); err != nil {
		writeError(c, err)
		return
	}

	filename := fmt.Sprintf("ideas-%s.%s", time.Now().UTC().Format("20060102"), h.deps.ExportFileExtension)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, h.deps.ExportContentType, buf.Bytes())
}

// GetIdea handles GET /api/ideas/:id
func (h *Handlers) GetIdea(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	idea, err := h.deps.Ideas.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, idea)
}

// IdeaHistory handles GET /api/ideas/:id/history
func (h *Handlers) IdeaHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	events, err := h.deps.Ideas.History(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, events)
}

// IdeaDuplicates handles GET /api/ideas/:id/duplicates
func (h *Handlers) IdeaDuplicates(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	candidates, err := h.deps.Ideas.Duplicates(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, candidates)
}

// IdeaActions handles GET /api/ideas/:id/actions
func (h *Handlers) IdeaActions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	idea, err := h.deps.Engine.GetIdea(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	actions, err := h.deps.Engine.PermittedActions(ctx, id, callerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, ActionsResponse{IdeaID: id, Status: idea.Status, Actions: actions})
}

// RouteIdea handles POST /api/ideas/:id/route
func (h *Handlers) RouteIdea(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req RouteRequest
	if !bindJSON(c, &req) {
		return
	}

	var opts []workflow.TransitionOption
	if req.SimilarityParentID != nil {
		score := 0.0
		if req.SimilarityScore != nil {
			score = *req.SimilarityScore
		}
		if score < 0 || score > 1 {
			badRequest(c, "similarity_score must be between 0 and 1", map[string]interface{}{"similarity_score": score})
			return
		}
		opts = append(opts, workflow.WithSimilarity(*req.SimilarityParentID, score))
	}

	idea, err := h.deps.Engine.Route(c.Request.Context(), id, domainwf.Trigger(strings.TrimSpace(req.Action)), callerFrom(c), opts...)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, idea)
}

// CreateReview handles POST /api/reviews
func (h *Handlers) CreateReview(c *gin.Context) {
	var req service.ReviewInput
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.deps.Reviews.Create(c.Request.Context(), req, callerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, result)
}

// ListReviews handles GET /api/reviews?idea_id=&stage=
func (h *Handlers) ListReviews(c *gin.Context) {
	ideaID, ok := queryID(c, "idea_id")
	if !ok {
		return
	}
	page, ok := pageFrom(c)
	if !ok {
		return
	}

	result, err := h.deps.Reviews.List(c.Request.Context(), ideaID, c.Query("stage"), page)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, result)
}

// InviteDeveloper handles POST /api/ideas/:id/invitations
func (h *Handlers) InviteDeveloper(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req DeveloperRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.DeveloperID != "" {
		if err := utils.ValidateIdentifier(req.DeveloperID); err != nil {
			badRequest(c, "invalid developer_id", map[string]interface{}{"developer_id": req.DeveloperID})
			return
		}
	}

	assignment, err := h.deps.Assignments.Invite(c.Request.Context(), id, req.DeveloperID, callerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, assignment)
}

// ListOnMarketplace handles POST /api/ideas/:id/listing
func (h *Handlers) ListOnMarketplace(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	listing, err := h.deps.Assignments.List(c.Request.Context(), id, callerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, listing)
}

// RespondToInvitation handles PUT /api/assignments/:id
func (h *Handlers) RespondToInvitation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req RespondRequest
	if !bindJSON(c, &req) {
		return
	}

	assignment, err := h.deps.Assignments.Respond(c.Request.Context(), id, entity.ResponseAction(strings.TrimSpace(req.Action)), callerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, assignment)
}

// ClaimListing handles POST /api/marketplace/:ideaId/claim. An empty
// developer_id claims for the caller.
func (h *Handlers) ClaimListing(c *gin.Context) {
	ideaID, ok := pathID(c, "ideaId")
	if !ok {
		return
	}
	var req DeveloperRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	caller := callerFrom(c)
	developerID := req.DeveloperID
	if developerID == "" {
		developerID = caller.UserID
	}
	if err := utils.ValidateIdentifier(developerID); err != nil {
		badRequest(c, "invalid developer_id", map[string]interface{}{"developer_id": developerID})
		return
	}

	assignment, err := h.deps.Assignments.Claim(c.Request.Context(), ideaID, developerID, caller)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, assignment)
}

// Marketplace handles GET /api/marketplace
func (h *Handlers) Marketplace(c *gin.Context) {
	page, ok := pageFrom(c)
	if !ok {
		return
	}

	result, err := h.deps.Assignments.Marketplace(c.Request.Context(), page)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, result)
}

// ListAssignments handles GET /api/assignments?developer_id=&idea_id=&status=
func (h *Handlers) ListAssignments(c *gin.Context) {
	ideaID, ok := queryID(c, "idea_id")
	if !ok {
		return
	}
	page, ok := pageFrom(c)
	if !ok {
		return
	}

	filter := entity.AssignmentFilter{
		DeveloperID: c.Query("developer_id"),
		IdeaID:      ideaID,
		Status:      entity.AssignmentStatus(c.Query("status")),
	}
	result, err := h.deps.Assignments.ListAssignments(c.Request.Context(), filter, page)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, result)
}

// GetAssignment handles GET /api/assignments/:id
func (h *Handlers) GetAssignment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	assignment, err := h.deps.Assignments.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, assignment)
}

// AssignmentHistory handles GET /api/assignments/:id/history
func (h *Handlers) AssignmentHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	events, err := h.deps.Assignments.History(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, events)
}

// Dashboard handles GET /api/dashboard
func (h *Handlers) Dashboard(c *gin.Context) {
	dashboard, err := h.deps.Dashboard.Summary(c.Request.Context(), h.deps.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, dashboard)
}

// SLASummary handles GET /api/sla
func (h *Handlers) SLASummary(c *gin.Context) {
	summary, err := h.deps.SLA.Summary(c.Request.Context(), h.deps.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, SLAResponse{
		SLASummary: summary,
		Total:      summary.Total(),
		Thresholds: h.deps.SLA.Thresholds(),
	})
}

// SLAOverdue handles GET /api/sla/overdue
func (h *Handlers) SLAOverdue(c *gin.Context) {
	overdue, err := h.deps.SLA.Overdue(c.Request.Context(), h.deps.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, overdue)
}

// ListUsers handles GET /api/users?role=&department=&q=
func (h *Handlers) ListUsers(c *gin.Context) {
	page, ok := pageFrom(c)
	if !ok {
		return
	}

	filter := entity.UserFilter{
		Role:       entity.Role(c.Query("role")),
		Department: entity.Department(c.Query("department")),
		Query:      c.Query("q"),
	}
	result, err := h.deps.Users.List(c.Request.Context(), filter, page)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, result)
}

// CreateUser handles POST /api/users
func (h *Handlers) CreateUser(c *gin.Context) {
	var req service.UserInput
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.deps.Users.Create(c.Request.Context(), req, callerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, user)
}

// GetUser handles GET /api/users/:id
func (h *Handlers) GetUser(c *gin.Context) {
	user, err := h.deps.Users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, user)
}

// ListNotifications handles GET /api/notifications?status=&recipient=
func (h *Handlers) ListNotifications(c *gin.Context) {
	page, ok := pageFrom(c)
	if !ok {
		return
	}

	filter := entity.NotificationFilter{
		Status:    entity.NotificationStatus(c.Query("status")),
		Recipient: c.Query("recipient"),
	}
	result, err := h.deps.Notifications.List(c.Request.Context(), filter, page)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, result)
}

// RetryNotification handles POST /api/notifications/:id/retry
func (h *Handlers) RetryNotification(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	task, err := h.deps.Notifications.Retry(c.Request.Context(), id, callerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, task)
}

// AuditHistory handles GET /api/audit?entity_type=&entity_id=
func (h *Handlers) AuditHistory(c *gin.Context) {
	entityType := entity.EntityType(c.Query("entity_type"))
	if !entityType.IsValid() {
		badRequest(c, "entity_type must be idea, assignment or notification", map[string]interface{}{"entity_type": string(entityType)})
		return
	}
	entityID, ok := queryID(c, "entity_id")
	if !ok {
		return
	}
	if entityID == 0 {
		badRequest(c, "entity_id is required", nil)
		return
	}

	events, err := h.deps.Audit.History(c.Request.Context(), entityType, entityID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, events)
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request body", map[string]interface{}{"reason": err.Error()})
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name, map[string]interface{}{name: raw})
		return 0, false
	}
	return id, true
}

// queryID parses an optional positive id query parameter; absent yields 0
func queryID(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name, map[string]interface{}{name: raw})
		return 0, false
	}
	return id, true
}

func pageFrom(c *gin.Context) (entity.Page, bool) {
	var page entity.Page
	for name, dst := range map[string]*int{"skip": &page.Skip, "limit": &page.Limit} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "invalid "+name, map[string]interface{}{name: raw})
			return entity.Page{}, false
		}
		*dst = n
	}
	return page, true
}

func ideaFilterFrom(c *gin.Context) entity.IdeaFilter {
	return entity.IdeaFilter{
		Status:      domainwf.State(c.Query("status")),
		AuthorEmail: c.Query("author_email"),
		Category:    c.Query("category"),
	}
}
