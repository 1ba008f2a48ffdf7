package entity

import "time"

// Assignment links one idea to one developer, either by direct invitation or
// through a marketplace listing
type Assignment struct {
	ID          int64            `json:"id"`
	IdeaID      int64            `json:"idea_id"`
	DeveloperID string           `json:"developer_id,omitempty"`
	Status      AssignmentStatus `json:"status"`
	CreatedBy   string           `json:"created_by,omitempty"`
	InvitedAt   *time.Time       `json:"invited_at,omitempty"`
	RespondedAt *time.Time       `json:"responded_at,omitempty"`
	ListedAt    *time.Time       `json:"listed_at,omitempty"`
	ClaimedAt   *time.Time       `json:"claimed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// AssignmentFilter narrows assignment listings
type AssignmentFilter struct {
	DeveloperID string
	IdeaID      int64
	Status      AssignmentStatus
}

// AssignmentPage is one page of assignments with the unpaged total
type AssignmentPage struct {
	Items []*Assignment `json:"items"`
	Total int           `json:"total"`
	Skip  int           `json:"skip"`
	Limit int           `json:"limit"`
}

// MarketplaceEntry is an open listing joined with its idea summary
type MarketplaceEntry struct {
	AssignmentID int64     `json:"assignment_id"`
	IdeaID       int64     `json:"idea_id"`
	Title        string    `json:"title"`
	Category     string    `json:"category,omitempty"`
	ListedAt     time.Time `json:"listed_at"`
}
