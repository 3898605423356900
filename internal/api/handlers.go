// Package api is the HTTP boundary: REST handlers, the email webhook,
// and the WebSocket upgrade endpoint.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/meridian/voter-gateway/internal/campaign"
	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/lists"
	"github.com/meridian/voter-gateway/internal/pkg/httputil"
	"github.com/meridian/voter-gateway/internal/session"
	"github.com/meridian/voter-gateway/internal/sparkpost"
	"github.com/meridian/voter-gateway/internal/warehouse"
)

// QueryExecutor is the guarded warehouse pipeline.
type QueryExecutor interface {
	Prepare(sqlText string) (string, error)
	Execute(ctx context.Context, sqlText string) (*domain.QueryResult, error)
}

// SQLGenerator turns a natural-language prompt into guarded SQL.
type SQLGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ListService is the saved-list surface the handlers need.
type ListService interface {
	Create(ctx context.Context, userID string, in lists.CreateInput) (*domain.SavedQuery, error)
	Get(ctx context.Context, userID, listID string) (*domain.SavedQuery, error)
	List(ctx context.Context, userID string) ([]domain.SavedQuery, error)
	Update(ctx context.Context, userID, listID string, in lists.UpdateInput) (*domain.SavedQuery, error)
	Delete(ctx context.Context, userID, listID string) error
	Run(ctx context.Context, userID, listID string) (*domain.QueryResult, error)
	ExportCSV(ctx context.Context, userID, listID string, w io.Writer) error
}

// SessionService is the read/manage surface over chat sessions; turns
// themselves only flow through the WebSocket transport.
type SessionService interface {
	List(ctx context.Context, userID string) ([]domain.Session, error)
	Get(ctx context.Context, userID, sessionID string) (*domain.Session, error)
	History(ctx context.Context, userID, sessionID string, afterSeq int) ([]domain.Message, error)
	Rename(ctx context.Context, userID, sessionID, name string) error
	Archive(ctx context.Context, userID, sessionID string) error
}

// CampaignService is the campaign lifecycle surface.
type CampaignService interface {
	Create(ctx context.Context, userID string, in campaign.CreateInput) (*domain.Campaign, error)
	Get(ctx context.Context, userID, campaignID string) (*domain.Campaign, error)
	List(ctx context.Context, userID string) ([]domain.Campaign, error)
	Update(ctx context.Context, userID, campaignID string, in campaign.UpdateInput) (*domain.Campaign, error)
	Delete(ctx context.Context, userID, campaignID string) error
	Send(ctx context.Context, userID, campaignID string) (*domain.Campaign, error)
	SendTest(ctx context.Context, userID, campaignID, callerEmail string) error
	Stats(ctx context.Context, userID, campaignID string) (*domain.CampaignStats, error)
	Events(ctx context.Context, userID, campaignID string) ([]domain.CampaignEvent, error)
}

// WebhookIngester reconciles provider email events.
type WebhookIngester interface {
	Ingest(ctx context.Context, events []sparkpost.WebhookEvent) (received, processed int)
}

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	executor  QueryExecutor
	sqlgen    SQLGenerator
	lists     ListService
	sessions  SessionService
	campaigns CampaignService
	webhooks  WebhookIngester
}

// NewHandlers wires the handler set.
func NewHandlers(executor QueryExecutor, sqlgen SQLGenerator, listSvc ListService, sessionSvc SessionService, campaignSvc CampaignService, webhooks WebhookIngester) *Handlers {
	return &Handlers{
		executor:  executor,
		sqlgen:    sqlgen,
		lists:     listSvc,
		sessions:  sessionSvc,
		campaigns: campaignSvc,
		webhooks:  webhooks,
	}
}

// writeServiceError maps domain errors onto HTTP statuses. Anything
// unrecognized becomes a 500 with a generic body.
func writeServiceError(w http.ResponseWriter, err error) {
	var reject *warehouse.RejectError
	var qerr *domain.QueryError

	switch {
	case errors.As(err, &reject):
		httputil.ErrorCode(w, http.StatusBadRequest, string(reject.Reason), reject.Detail)
	case errors.As(err, &qerr):
		switch qerr.Kind {
		case domain.QueryErrGuardReject:
			httputil.ErrorCode(w, http.StatusBadRequest, string(qerr.Kind), qerr.Detail)
		case domain.QueryErrTimeout:
			httputil.ErrorCode(w, http.StatusGatewayTimeout, string(qerr.Kind), qerr.Detail)
		default:
			httputil.ErrorCode(w, http.StatusBadGateway, string(qerr.Kind), qerr.Detail)
		}
	case errors.Is(err, lists.ErrNotFound), errors.Is(err, session.ErrNotFound), errors.Is(err, campaign.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, lists.ErrRecentlyDeleted):
		httputil.Error(w, http.StatusGone, err.Error())
	case errors.Is(err, lists.ErrNameRequired), errors.Is(err, lists.ErrSQLRequired),
		errors.Is(err, campaign.ErrMissingContent), errors.Is(err, campaign.ErrNoRecipients):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, campaign.ErrNotEditable):
		httputil.Error(w, http.StatusConflict, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
