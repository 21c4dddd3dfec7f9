package model

import "time"

// UserCreationLog records one panel provisioning attempt, success or not.
// These rows feed the admin debug panel; writing them must never change
// the outcome of the call they describe.
type UserCreationLog struct {
	ID             string
	PanelID        string
	SubscriptionID *string
	Username       string
	RequestBody    string
	ResponseBody   string
	Success        bool
	ErrorMessage   *string
	CreatedAt      time.Time
}

// WebhookLog records one outbound webhook POST attempt.
type WebhookLog struct {
	ID           string
	URL          string
	EventType    string
	Payload      string
	StatusCode   *int
	ResponseBody *string
	ErrorMessage *string
	CreatedAt    time.Time
}

// EmailNotification records one transactional email send attempt.
type EmailNotification struct {
	ID           string
	Recipient    string
	Subject      string
	EventType    string
	Success      bool
	ErrorMessage *string
	CreatedAt    time.Time
}
