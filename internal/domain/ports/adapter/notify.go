package adapter

import "context"

// EmailMessage is a transactional email to a single recipient.
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
}

// Mailer sends transactional email through an external API.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// WebhookSender POSTs a JSON event payload to a customer-configured URL and
// reports the response status for logging.
type WebhookSender interface {
	Send(ctx context.Context, url string, payload []byte) (statusCode int, responseBody string, err error)
}
