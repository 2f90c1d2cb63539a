package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SignalFox/app/models"
)

// Document is what gets written for one audit log entry.
type Document struct {
	AttemptID     uint            `json:"attempt_id"`
	Provider      string          `json:"provider"`
	Event         string          `json:"event"`
	Reference     string          `json:"reference"`
	Outcome       string          `json:"outcome,omitempty"`
	ProviderTxnID string          `json:"provider_txn_id,omitempty"`
	Error         string          `json:"error,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
	ArchivedAt    time.Time       `json:"archived_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	RawPayload    string          `json:"raw_payload,omitempty"`
}

// Archiver copies raw webhook payloads of audit entries into object storage.
type Archiver struct {
	store Store
	cfg   *Config
	now   func() time.Time
}

func NewArchiver(store Store, cfg *Config) *Archiver {
	return &Archiver{store: store, cfg: cfg, now: time.Now}
}

// Archive writes the entry and returns the object key. Writing the same
// attempt twice overwrites the same key.
func (a *Archiver) Archive(ctx context.Context, attempt *models.WebhookAttempt) (string, error) {
	if a == nil || a.store == nil {
		return "", ErrDisabled
	}

	doc := Document{
		AttemptID:     attempt.ID,
		Provider:      attempt.Provider,
		Event:         attempt.Event,
		Reference:     attempt.Reference,
		Outcome:       attempt.Outcome,
		ProviderTxnID: attempt.ProviderTxnID,
		Error:         attempt.Error,
		Reason:        attempt.Reason,
		ReceivedAt:    attempt.CreatedAt.UTC(),
		ArchivedAt:    a.now().UTC(),
	}
	if json.Valid([]byte(attempt.PayloadJSON)) {
		doc.Payload = json.RawMessage(attempt.PayloadJSON)
	} else {
		doc.RawPayload = attempt.PayloadJSON
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode archive document: %w", err)
	}

	key := a.cfg.ObjectKey(attempt.Provider, attempt.ID, attempt.CreatedAt)
	meta := map[string]string{
		"attempt-id": strconv.FormatUint(uint64(attempt.ID), 10),
		"provider":   attempt.Provider,
	}
	if err := a.store.Put(ctx, key, body, meta); err != nil {
		return "", err
	}

	log.Infof("[Archive] Stored webhook attempt %d as %s", attempt.ID, key)
	return key, nil
}
