package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian/voter-gateway/internal/auth"
	"github.com/meridian/voter-gateway/internal/campaign"
	"github.com/meridian/voter-gateway/internal/pkg/httputil"
)

type campaignPayload struct {
	ListID      string `json:"list_id"`
	Subject     string `json:"subject"`
	DocumentRef string `json:"document_ref"`
}

// CreateCampaign stores a draft campaign.
//
//	POST /api/campaigns
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignPayload
	if !httputil.Decode(w, r, &req) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), auth.UserID(r.Context()), campaign.CreateInput{
		ListID:      req.ListID,
		Subject:     req.Subject,
		DocumentRef: req.DocumentRef,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, c)
}

// ListCampaigns returns the caller's campaigns.
//
//	GET /api/campaigns
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	out, err := h.campaigns.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, out)
}

// GetCampaign returns one campaign.
//
//	GET /api/campaigns/{id}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

type campaignUpdatePayload struct {
	ListID      *string `json:"list_id"`
	Subject     *string `json:"subject"`
	DocumentRef *string `json:"document_ref"`
}

// UpdateCampaign edits a draft (or failed) campaign.
//
//	PUT /api/campaigns/{id}
func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignUpdatePayload
	if !httputil.Decode(w, r, &req) {
		return
	}
	c, err := h.campaigns.Update(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), campaign.UpdateInput{
		ListID:      req.ListID,
		Subject:     req.Subject,
		DocumentRef: req.DocumentRef,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

// DeleteCampaign removes a campaign that is not mid-send.
//
//	DELETE /api/campaigns/{id}
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.Delete(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// SendCampaign runs the live dispatch.
//
//	POST /api/campaigns/{id}/send
func (h *Handlers) SendCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Send(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

// TestCampaign sends the rendered campaign to the caller's own address.
//
//	POST /api/campaigns/{id}/test
func (h *Handlers) TestCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.campaigns.SendTest(ctx, auth.UserID(ctx), chi.URLParam(r, "id"), auth.UserEmail(ctx)); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "test_sent"})
}

// CampaignStats returns the campaign's current counters.
//
//	GET /api/campaigns/{id}/stats
func (h *Handlers) CampaignStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.campaigns.Stats(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// CampaignEvents returns the raw provider event stream.
//
//	GET /api/campaigns/{id}/events
func (h *Handlers) CampaignEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.campaigns.Events(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, events)
}
