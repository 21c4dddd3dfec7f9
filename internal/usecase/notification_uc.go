// File: internal/usecase/notification_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/domain/ports/repository"
	"vpn-subscription-shop/internal/infra/metrics"
)

// Event types emitted by the order workflow.
const (
	EventNewSubscription       = "new_subscription"
	EventManualPaymentApproval = "manual_payment_approval"
	EventSubscriptionApproved  = "subscription_approved"
	EventSubscriptionRejected  = "subscription_rejected"
	EventSubscriptionActivated = "subscription_activated"
	EventProvisioningFailed    = "provisioning_failed"
)

var _ NotificationUseCase = (*notificationUC)(nil)

// NotificationUseCase is the fire-and-forget dispatcher: every send attempt,
// success or failure, is appended to a log table, and no failure here may
// ever fail the parent operation. All methods return nothing for that reason.
type NotificationUseCase interface {
	NotifyEvent(ctx context.Context, eventType string, sub *model.Subscription)
	SendDecisionEmail(ctx context.Context, sub *model.Subscription, approveURL, rejectURL string)
	// SendTestWebhook exercises the configured webhook targets from the
	// admin debug panel and returns per-URL results.
	SendTestWebhook(ctx context.Context, eventType string) []WebhookResult
}

type WebhookResult struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error,omitempty"`
}

type notificationUC struct {
	mailer      adapter.Mailer
	webhooks    adapter.WebhookSender
	webhookURLs []string
	adminAddr   string
	emailLogs   repository.EmailNotificationRepository
	webhookLogs repository.WebhookLogRepository
	log         *zerolog.Logger
}

func NewNotificationUseCase(
	mailer adapter.Mailer,
	webhooks adapter.WebhookSender,
	webhookURLs []string,
	adminAddr string,
	emailLogs repository.EmailNotificationRepository,
	webhookLogs repository.WebhookLogRepository,
	logger *zerolog.Logger,
) *notificationUC {
	return &notificationUC{
		mailer:      mailer,
		webhooks:    webhooks,
		webhookURLs: webhookURLs,
		adminAddr:   adminAddr,
		emailLogs:   emailLogs,
		webhookLogs: webhookLogs,
		log:         logger,
	}
}

type eventPayload struct {
	Event        string    `json:"event"`
	Subscription *subEvent `json:"subscription,omitempty"`
	SentAt       time.Time `json:"sent_at"`
}

type subEvent struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Mobile       string `json:"mobile"`
	Status       string `json:"status"`
	PriceToman   int64  `json:"price_toman"`
	DataLimitGB  int    `json:"data_limit_gb"`
	DurationDays int    `json:"duration_days"`
}

func toSubEvent(s *model.Subscription) *subEvent {
	if s == nil {
		return nil
	}
	return &subEvent{
		ID:           s.ID,
		Username:     s.Username,
		Mobile:       s.Mobile,
		Status:       string(s.Status),
		PriceToman:   s.PriceToman,
		DataLimitGB:  s.DataLimitGB,
		DurationDays: s.DurationDays,
	}
}

// NotifyEvent fans an event out to every configured webhook URL and, for
// events an admin cares about, to the admin mailbox.
func (u *notificationUC) NotifyEvent(ctx context.Context, eventType string, sub *model.Subscription) {
	payload, _ := json.Marshal(eventPayload{
		Event:        eventType,
		Subscription: toSubEvent(sub),
		SentAt:       time.Now(),
	})
	for _, url := range u.webhookURLs {
		u.postWebhook(ctx, url, eventType, payload)
	}

	if u.adminAddr == "" {
		return
	}
	switch eventType {
	case EventNewSubscription, EventProvisioningFailed:
		subj := "[vpn-shop] " + eventType
		body := "<p>Event: " + eventType + "</p>"
		if sub != nil {
			body += "<p>Subscription " + sub.ID + " (" + sub.Username + "), status " + string(sub.Status) + "</p>"
		}
		u.sendEmail(ctx, u.adminAddr, subj, body, eventType)
	}
}

// SendDecisionEmail mails the admin the one-time approve/reject links for a
// manual payment.
func (u *notificationUC) SendDecisionEmail(ctx context.Context, sub *model.Subscription, approveURL, rejectURL string) {
	if u.adminAddr == "" {
		u.log.Warn().Msg("no admin email configured, manual payment will wait in the admin panel")
		return
	}
	body := "<p>Manual payment awaiting review.</p>" +
		"<p>Subscription " + sub.ID + " for " + sub.Username + " (" + sub.Mobile + ")</p>"
	if sub.ReceiptImageURL != nil {
		body += `<p><a href="` + *sub.ReceiptImageURL + `">Receipt image</a></p>`
	}
	body += `<p><a href="` + approveURL + `">Approve</a> | <a href="` + rejectURL + `">Reject</a></p>`
	u.sendEmail(ctx, u.adminAddr, "[vpn-shop] manual payment review", body, EventManualPaymentApproval)
}

func (u *notificationUC) SendTestWebhook(ctx context.Context, eventType string) []WebhookResult {
	if eventType == "" {
		eventType = "webhook_test"
	}
	payload, _ := json.Marshal(eventPayload{Event: eventType, SentAt: time.Now()})
	results := make([]WebhookResult, 0, len(u.webhookURLs))
	for _, url := range u.webhookURLs {
		status, _, err := u.postWebhook(ctx, url, eventType, payload)
		r := WebhookResult{URL: url, StatusCode: status}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

func (u *notificationUC) postWebhook(ctx context.Context, url, eventType string, payload []byte) (int, string, error) {
	status, body, err := u.webhooks.Send(ctx, url, payload)

	entry := &model.WebhookLog{
		ID:        uuid.NewString(),
		URL:       url,
		EventType: eventType,
		Payload:   string(payload),
		CreatedAt: time.Now(),
	}
	if status != 0 {
		entry.StatusCode = &status
		entry.ResponseBody = &body
	}
	outcome := "ok"
	if err != nil {
		msg := err.Error()
		entry.ErrorMessage = &msg
		outcome = "error"
		u.log.Warn().Str("url", url).Err(err).Msg("webhook delivery failed")
	}
	metrics.IncNotification("webhook", outcome)
	if logErr := u.webhookLogs.Save(ctx, nil, entry); logErr != nil {
		u.log.Error().Err(logErr).Msg("webhook log write failed")
	}
	return status, body, err
}

func (u *notificationUC) sendEmail(ctx context.Context, to, subject, html, eventType string) {
	err := u.mailer.Send(ctx, adapter.EmailMessage{To: to, Subject: subject, HTML: html})

	entry := &model.EmailNotification{
		ID:        uuid.NewString(),
		Recipient: to,
		Subject:   subject,
		EventType: eventType,
		Success:   err == nil,
		CreatedAt: time.Now(),
	}
	outcome := "ok"
	if err != nil {
		msg := err.Error()
		entry.ErrorMessage = &msg
		outcome = "error"
		u.log.Warn().Str("to", to).Err(err).Msg("email send failed")
	}
	metrics.IncNotification("email", outcome)
	if logErr := u.emailLogs.Save(ctx, nil, entry); logErr != nil {
		u.log.Error().Err(logErr).Msg("email log write failed")
	}
}
