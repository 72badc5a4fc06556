package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	businessflow "github.com/amirphl/claim-router/business_flow"
	"github.com/amirphl/claim-router/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvent() businessflow.AssignmentEvent {
	user := uint(7)
	return businessflow.AssignmentEvent{
		Action:     models.AuditActionAssignmentReassigned,
		Assignment: models.Assignment{ID: 42, CompanyID: 1, ClaimID: "CL-1", DocumentNumber: "FV-1", Status: models.AssignmentStatusAssigned, UserID: &user},
		Before:     &businessflow.AssignmentSnapshot{Status: models.AssignmentStatusPending},
		After:      businessflow.AssignmentSnapshot{Status: models.AssignmentStatusAssigned, UserID: &user},
		Actor:      "ops",
		OccurredAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestWebhookSink_DeliversSignedEvent(t *testing.T) {
	var (
		gotBody      []byte
		gotSignature string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, "s3cret", time.Second, discardLogger())
	require.NoError(t, sink.NotifyAssignmentChanged(context.Background(), sampleEvent()))

	assert.Equal(t, Sign([]byte("s3cret"), gotBody), gotSignature)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, models.AuditActionAssignmentReassigned, decoded["action"])
	assert.Equal(t, "pending", decoded["before"].(map[string]any)["status"])
	assert.Equal(t, "assigned", decoded["after"].(map[string]any)["status"])
}

func TestWebhookSink_ReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, "", time.Second, discardLogger())
	err := sink.NotifyAssignmentChanged(context.Background(), sampleEvent())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNewNotificationSink(t *testing.T) {
	logger := discardLogger()

	sink, err := NewNotificationSink("none", "", "", 0, logger)
	require.NoError(t, err)
	assert.Nil(t, sink)

	sink, err = NewNotificationSink("log", "", "", 0, logger)
	require.NoError(t, err)
	assert.IsType(t, &LogSink{}, sink)
	assert.NoError(t, sink.NotifyAssignmentChanged(context.Background(), sampleEvent()))

	_, err = NewNotificationSink("webhook", "", "", 0, logger)
	assert.Error(t, err)

	_, err = NewNotificationSink("carrier-pigeon", "", "", 0, logger)
	assert.Error(t, err)
}
