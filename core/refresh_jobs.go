package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	// RefreshJobID identifies the background token refresh job on the queue.
	RefreshJobID = "client.credentials.refresh"

	RefreshJobParamStorageKey = "storage_key"
	RefreshJobParamRefreshAt  = "refresh_at"
)

// NewRefreshJobMessage builds the queue message that schedules a background
// refresh for the credential stored under storageKey. The idempotency key
// collapses duplicate schedules for one storage key, so re-login and repeated
// foreground refreshes do not pile up queue entries.
func NewRefreshJobMessage(storageKey string, refreshAt time.Time) *JobExecutionMessage {
	storageKey = strings.TrimSpace(storageKey)
	return &JobExecutionMessage{
		JobID: RefreshJobID,
		Parameters: map[string]any{
			RefreshJobParamStorageKey: storageKey,
			RefreshJobParamRefreshAt:  refreshAt.UTC().Format(time.RFC3339),
		},
		IdempotencyKey: RefreshJobID + "::" + storageKey,
	}
}

// RefreshJobSchedule extracts the storage key and due time from a refresh job
// message. Messages for other job IDs are rejected.
func RefreshJobSchedule(msg *JobExecutionMessage) (string, time.Time, error) {
	if msg == nil {
		return "", time.Time{}, fmt.Errorf("core: refresh job message is nil")
	}
	if msg.JobID != RefreshJobID {
		return "", time.Time{}, fmt.Errorf("core: unexpected job id %q", msg.JobID)
	}
	storageKey, _ := msg.Parameters[RefreshJobParamStorageKey].(string)
	storageKey = strings.TrimSpace(storageKey)
	if storageKey == "" {
		return "", time.Time{}, fmt.Errorf("core: refresh job message has no storage key")
	}
	rawAt, _ := msg.Parameters[RefreshJobParamRefreshAt].(string)
	if strings.TrimSpace(rawAt) == "" {
		return storageKey, time.Time{}, nil
	}
	refreshAt, err := time.Parse(time.RFC3339, rawAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("core: refresh job due time is invalid: %w", err)
	}
	return storageKey, refreshAt, nil
}
