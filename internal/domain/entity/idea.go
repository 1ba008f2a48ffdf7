package entity

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/garyjia/idea-hub/internal/domain/workflow"
)

// TitleMaxLength bounds the derived title before the ellipsis.
const TitleMaxLength = 100

// Author identifies who submitted an idea
type Author struct {
	UserID     string `json:"user_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
}

// Idea is the unit of work driven through the pipeline
type Idea struct {
	ID                 int64          `json:"id"`
	RawInput           string         `json:"raw_input"`
	Title              string         `json:"title"`
	Category           string         `json:"category,omitempty"`
	ReadinessLevel     string         `json:"readiness_level,omitempty"`
	Author             Author         `json:"author"`
	Status             workflow.State `json:"status"`
	SimilarityParentID *int64         `json:"similarity_parent_id,omitempty"`
	SimilarityScore    *float64       `json:"similarity_score,omitempty"`
	AnalystEnteredAt   *time.Time     `json:"analyst_entered_at,omitempty"`
	FinanceEnteredAt   *time.Time     `json:"finance_entered_at,omitempty"`
	DevEnteredAt       *time.Time     `json:"dev_entered_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// StageEnteredAt returns the entry time of the stage the idea currently waits in
func (i *Idea) StageEnteredAt() *time.Time {
	switch i.Status.Stage() {
	case workflow.StageAnalyst:
		return i.AnalystEnteredAt
	case workflow.StageFinance:
		return i.FinanceEnteredAt
	case workflow.StageDeveloper:
		return i.DevEnteredAt
	default:
		return nil
	}
}

// StampStage records entry into the stage of state s, overwriting any
// earlier visit.
func (i *Idea) StampStage(s workflow.State, at time.Time) {
	t := at
	switch s.Stage() {
	case workflow.StageAnalyst:
		i.AnalystEnteredAt = &t
	case workflow.StageFinance:
		i.FinanceEnteredAt = &t
	case workflow.StageDeveloper:
		i.DevEnteredAt = &t
	}
}

// DeriveTitle builds a display title from free-form input: the first
// TitleMaxLength characters, cut back to a word boundary, with "..." appended
// when the input was truncated.
func DeriveTitle(rawInput string) string {
	text := strings.Join(strings.Fields(rawInput), " ")
	if utf8.RuneCountInString(text) <= TitleMaxLength {
		return text
	}

	runes := []rune(text)
	cut := string(runes[:TitleMaxLength])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}

// IdeaFilter narrows idea listings
type IdeaFilter struct {
	Status      workflow.State
	AuthorEmail string
	Category    string
}

// Page is a skip/limit window
type Page struct {
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

// IdeaPage is one page of ideas with the unpaged total
type IdeaPage struct {
	Items []*Idea `json:"items"`
	Total int     `json:"total"`
	Skip  int     `json:"skip"`
	Limit int     `json:"limit"`
}
