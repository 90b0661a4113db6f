package store

import (
	"context"
	"encoding/json"
)

// RecordWebhookEvent stores a verified provider event. Redeliveries keep the
// original received_at and clear the previous outcome.
func (s *Store) RecordWebhookEvent(ctx context.Context, eventID, eventType string, payload json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO UPDATE
		SET processed_at = NULL, processing_error = NULL`,
		eventID, eventType, payload)
	return err
}

// MarkWebhookEventProcessed records the handling outcome; processingErr is
// nil on success.
func (s *Store) MarkWebhookEventProcessed(ctx context.Context, eventID string, processingErr *string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_events SET processed_at = NOW(), processing_error = $1 WHERE event_id = $2",
		processingErr, eventID)
	return err
}
