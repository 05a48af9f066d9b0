package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
)

const validationEventType = "subscription.validation"

// webhookEvent is the wire form of one inbound provider event.
type webhookEvent struct {
	ID            string         `json:"id"`
	EventType     string         `json:"eventType"`
	CorrelationID string         `json:"correlationId"`
	Data          map[string]any `json:"data"`
	EventTime     time.Time      `json:"eventTime"`
}

type webhookResult struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// handleWebhook accepts the provider's JSON event array. The transport is
// always acknowledged: per-event processing problems are logged and
// reported in the results body, never as an HTTP failure that would
// trigger a redelivery storm.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var events []webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		s.log.Warn("Malformed webhook payload", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	}

	// The handshake event normally arrives alone, but the batch contract
	// does not promise that. Route every regular event first so a batched
	// handshake never swallows its siblings, then answer the validation.
	var validationCode string
	var hasValidation bool
	results := make([]webhookResult, 0, len(events))
	for _, ev := range events {
		if ev.EventType == validationEventType {
			validationCode, _ = ev.Data["validationCode"].(string)
			hasValidation = true
			continue
		}

		s.svc.Route(r.Context(), domain.ProviderEvent{
			ID:            ev.ID,
			Type:          domain.EventType(ev.EventType),
			CorrelationID: ev.CorrelationID,
			Data:          ev.Data,
			EventTime:     ev.EventTime,
		})
		results = append(results, webhookResult{EventID: ev.ID, Status: "accepted"})
	}

	if hasValidation {
		writeJSON(w, http.StatusOK, map[string]string{"validationResponse": validationCode})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
