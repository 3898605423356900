package api

import (
	"encoding/json"
	"net/http"

	"github.com/meridian/voter-gateway/internal/pkg/httputil"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
	"github.com/meridian/voter-gateway/internal/sparkpost"
)

// EmailWebhook ingests provider event batches. It always answers 200
// with received/processed counts; a non-200 would make the provider
// retry a batch we may have partially applied.
//
//	POST /webhooks/email
func (h *Handlers) EmailWebhook(w http.ResponseWriter, r *http.Request) {
	var events []sparkpost.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		logger.Warn("unparseable webhook payload", "error", err.Error())
		httputil.OK(w, map[string]int{"received": 0, "processed": 0})
		return
	}

	received, processed := h.webhooks.Ingest(r.Context(), events)
	httputil.OK(w, map[string]int{"received": received, "processed": processed})
}
