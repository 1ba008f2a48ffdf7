package entity

import "time"

// Review is an analyst or finance decision recorded against an idea
type Review struct {
	ID                    int64     `json:"id"`
	IdeaID                int64     `json:"idea_id"`
	ReviewerID            string    `json:"reviewer_id"`
	Stage                 string    `json:"stage"`
	Decision              string    `json:"decision"`
	Notes                 string    `json:"notes,omitempty"`
	RecommendedDepartment string    `json:"recommended_department,omitempty"`
	DecidedAt             time.Time `json:"decided_at"`
}

// ReviewPage is one page of reviews with the unpaged total
type ReviewPage struct {
	Items []*Review `json:"items"`
	Total int       `json:"total"`
	Skip  int       `json:"skip"`
	Limit int       `json:"limit"`
}
