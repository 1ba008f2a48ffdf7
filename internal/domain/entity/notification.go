package entity

import "time"

// NotificationTask is a queued outbound notification
type NotificationTask struct {
	ID                int64              `json:"id"`
	Recipient         string             `json:"recipient"`
	Template          string             `json:"template"`
	Subject           string             `json:"subject"`
	Body              string             `json:"body"`
	Status            NotificationStatus `json:"status"`
	AttemptCount      int                `json:"attempt_count"`
	LastError         string             `json:"last_error,omitempty"`
	ProviderMessageID string             `json:"provider_message_id,omitempty"`
	SentAt            *time.Time         `json:"sent_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// NotificationFilter narrows notification listings
type NotificationFilter struct {
	Status    NotificationStatus
	Recipient string
}

// NotificationPage is one page of notifications with the unpaged total
type NotificationPage struct {
	Items []*NotificationTask `json:"items"`
	Total int                 `json:"total"`
	Skip  int                 `json:"skip"`
	Limit int                 `json:"limit"`
}
