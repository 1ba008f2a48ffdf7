package entity

// Role is the caller's role as supplied by the identity provider
type Role string

const (
	RoleSubmitter Role = "submitter"
	RoleAnalyst   Role = "analyst"
	RoleFinance   Role = "finance"
	RoleManager   Role = "manager"
	RoleDeveloper Role = "developer"
	RoleAdmin     Role = "admin"
)

var validRoles = map[Role]bool{
	RoleSubmitter: true,
	RoleAnalyst:   true,
	RoleFinance:   true,
	RoleManager:   true,
	RoleDeveloper: true,
	RoleAdmin:     true,
}

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	return validRoles[r]
}

// AssignmentStatus is the state of a developer assignment
type AssignmentStatus string

const (
	AssignmentInvited    AssignmentStatus = "invited"
	AssignmentAccepted   AssignmentStatus = "accepted"
	AssignmentDeclined   AssignmentStatus = "declined"
	AssignmentListed     AssignmentStatus = "listed"
	AssignmentClaimed    AssignmentStatus = "claimed"
	AssignmentNoResponse AssignmentStatus = "no_response"
)

var validAssignmentStatuses = map[AssignmentStatus]bool{
	AssignmentInvited:    true,
	AssignmentAccepted:   true,
	AssignmentDeclined:   true,
	AssignmentListed:     true,
	AssignmentClaimed:    true,
	AssignmentNoResponse: true,
}

// IsValid reports whether s is a known assignment status
func (s AssignmentStatus) IsValid() bool {
	return validAssignmentStatuses[s]
}

// IsActive reports whether the assignment still blocks other assignments for its idea
func (s AssignmentStatus) IsActive() bool {
	return s == AssignmentInvited || s == AssignmentListed
}

// IsWon reports whether the assignment put its idea into implementation
func (s AssignmentStatus) IsWon() bool {
	return s == AssignmentAccepted || s == AssignmentClaimed
}

// ResponseAction is a developer's answer to an invitation
type ResponseAction string

const (
	ResponseAccept  ResponseAction = "accept"
	ResponseDecline ResponseAction = "decline"
)

// NotificationStatus is the delivery state of a queued notification
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// IsValid reports whether s is a known notification status
func (s NotificationStatus) IsValid() bool {
	return s == NotificationPending || s == NotificationSent || s == NotificationFailed
}

// EntityType names the kind of record an audit event refers to
type EntityType string

const (
	EntityIdea         EntityType = "idea"
	EntityAssignment   EntityType = "assignment"
	EntityNotification EntityType = "notification"
)

// IsValid reports whether t is a known entity type
func (t EntityType) IsValid() bool {
	return t == EntityIdea || t == EntityAssignment || t == EntityNotification
}

// Audit event names
const (
	EventIdeaCreated         = "created"
	EventStatusChanged       = "status_changed"
	EventReviewCreated       = "review.created"
	EventAssignmentInvited   = "invited"
	EventAssignmentAccepted  = "accepted"
	EventAssignmentDeclined  = "declined"
	EventAssignmentListed    = "listed"
	EventAssignmentClaimed   = "claimed"
	EventAssignmentEscalated = "escalated"
	EventNotificationRetried = "retried"
)

// Review stages and decisions
const (
	ReviewStageAnalyst = "analyst"
	ReviewStageFinance = "finance"

	DecisionAccepted  = "accepted"
	DecisionRejected  = "rejected"
	DecisionNeedsInfo = "needs_info"
)
