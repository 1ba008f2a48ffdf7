package apperror

// Error code constants. Messages are for logs and developers; clients branch
// on codes.

// Lookup codes.
const (
	CodeIdeaNotFound         = "IDEA_NOT_FOUND"
	CodeAssignmentNotFound   = "ASSIGNMENT_NOT_FOUND"
	CodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	CodeListingNotFound      = "LISTING_NOT_FOUND"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeDeveloperNotFound    = "DEVELOPER_NOT_FOUND"
)

// Directory codes.
const (
	CodeUserExists = "USER_EXISTS"
)

// Workflow codes.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeIdeaStatusChanged = "IDEA_STATUS_CHANGED"
)

// Assignment codes.
const (
	CodeAlreadyClaimed         = "ASSIGNMENT_ALREADY_CLAIMED"
	CodeAlreadyResolved        = "ASSIGNMENT_ALREADY_RESOLVED"
	CodeActiveAssignmentExists = "ACTIVE_ASSIGNMENT_EXISTS"
)

// Notification codes.
const (
	CodeNotificationNotFailed = "NOTIFICATION_NOT_FAILED"
	CodeSenderUnavailable     = "SENDER_UNAVAILABLE"
	CodeUnknownTemplate       = "UNKNOWN_TEMPLATE"
)

// Access and input codes.
const (
	CodeRoleForbidden    = "ROLE_FORBIDDEN"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeTokenInvalid     = "TOKEN_INVALID"
)

// Collaborator codes.
const (
	CodeScorerUnavailable = "SCORER_UNAVAILABLE"
	CodeExportUnavailable = "EXPORT_UNAVAILABLE"
)
