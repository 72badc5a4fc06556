package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	businessflow "github.com/amirphl/claim-router/business_flow"
)

// Notification sink kinds accepted by configuration
const (
	NotificationSinkNone    = "none"
	NotificationSinkLog     = "log"
	NotificationSinkWebhook = "webhook"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body
const SignatureHeader = "X-Claim-Router-Signature"

// NewNotificationSink builds the sink named by kind; "none" returns nil
func NewNotificationSink(kind, webhookURL, secret string, timeout time.Duration, logger *slog.Logger) (businessflow.NotificationSink, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", NotificationSinkNone:
		return nil, nil
	case NotificationSinkLog:
		return NewLogSink(logger), nil
	case NotificationSinkWebhook:
		if webhookURL == "" {
			return nil, fmt.Errorf("webhook url is required for the webhook notification sink")
		}
		return NewWebhookSink(webhookURL, secret, timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown notification sink %q", kind)
	}
}

// LogSink writes every assignment change to the structured log
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) NotifyAssignmentChanged(_ context.Context, event businessflow.AssignmentEvent) error {
	attrs := []any{
		"action", event.Action,
		"assignment_id", event.Assignment.ID,
		"company_id", event.Assignment.CompanyID,
		"status", event.After.Status,
		"actor", event.Actor,
	}
	if event.After.UserID != nil {
		attrs = append(attrs, "user_id", *event.After.UserID)
	}
	if event.Before != nil {
		attrs = append(attrs, "previous_status", event.Before.Status)
	}
	s.logger.Info("Assignment changed", attrs...)
	return nil
}

// WebhookSink POSTs each assignment change as JSON to a fixed URL
type WebhookSink struct {
	url    string
	secret []byte
	client *http.Client
	logger *slog.Logger
}

// NewWebhookSink creates a webhook sink; an empty secret disables signing
func NewWebhookSink(url, secret string, timeout time.Duration, logger *slog.Logger) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
	if secret != "" {
		s.secret = []byte(secret)
	}
	return s
}

func (s *WebhookSink) NotifyAssignmentChanged(ctx context.Context, event businessflow.AssignmentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode assignment event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if s.secret != nil {
		req.Header.Set(SignatureHeader, Sign(s.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook http status: %d", resp.StatusCode)
	}

	s.logger.Debug("Assignment change delivered", "assignment_id", event.Assignment.ID, "action", event.Action)
	return nil
}

// Sign returns the hex HMAC-SHA256 of body
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
