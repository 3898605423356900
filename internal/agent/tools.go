package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meridian/voter-gateway/internal/docs"
	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/enrichment"
	"github.com/meridian/voter-gateway/internal/geocode"
	"github.com/meridian/voter-gateway/internal/lists"
	"github.com/meridian/voter-gateway/internal/search"
	"github.com/meridian/voter-gateway/internal/warehouse"
)

// toolResultRowCap bounds how many result rows are echoed back to the
// model; the full result still streams to the client.
const toolResultRowCap = 50

// WarehouseRunner is the guarded query surface.
type WarehouseRunner interface {
	Execute(ctx context.Context, sql string) (*domain.QueryResult, error)
}

// Geocoder resolves addresses.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geocode.Point, error)
}

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, query string, n int) ([]search.Result, error)
}

// ListStore is the saved-list surface the model may call.
type ListStore interface {
	Create(ctx context.Context, userID string, in lists.CreateInput) (*domain.SavedQuery, error)
	List(ctx context.Context, userID string) ([]domain.SavedQuery, error)
}

// Enricher is the enrichment coordinator surface.
type Enricher interface {
	Get(ctx context.Context, personID string) (*domain.EnrichmentRecord, error)
	EnrichOne(ctx context.Context, sessionID, personID string, opts enrichment.Options) (enrichment.Outcome, error)
	EnrichBatch(ctx context.Context, sessionID string, personIDs []string, opts enrichment.Options) ([]enrichment.Outcome, enrichment.Summary, error)
}

// DocStore is the external document service surface, called with the
// user's delegated credentials.
type DocStore interface {
	Create(ctx context.Context, title, body string) (*docs.Document, error)
	Get(ctx context.Context, id string) (*docs.Document, error)
	Update(ctx context.Context, id, body string) error
	List(ctx context.Context, limit int) ([]docs.Document, error)
}

// Toolset binds tool names to gateway operations for one user/session.
type Toolset struct {
	Warehouse WarehouseRunner
	Geocoder  Geocoder
	Searcher  Searcher
	Lists     ListStore
	Enricher  Enricher
	Docs      DocStore
}

// Definitions returns the tool schemas advertised to the model.
func (ts *Toolset) Definitions() []Tool {
	return []Tool{
		{
			Type: "function",
			Function: ToolFunction{
				Name:        "warehouse_select",
				Description: "Run a SELECT query against the voter warehouse. Only allow-listed tables are queryable; the statement is validated and vocabulary-corrected before execution.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"sql": map[string]interface{}{
							"type":        "string",
							"description": "The SELECT statement to run.",
						},
					},
					"required": []string{"sql"},
				},
			},
		},
		{
			Type: "function",
			Function: ToolFunction{
				Name:        "geocode",
				Description: "Resolve a street address to latitude/longitude for radius queries. Unresolvable addresses return the New Jersey centroid with approximate=true.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"address": map[string]interface{}{
							"type":        "string",
							"description": "Street address, e.g. '12 Maple Ave, Trenton NJ'.",
						},
					},
					"required": []string{"address"},
				},
			},
		},
		{
			Type: "function",
			Function: ToolFunction{
				Name:        "web_search",
				Description: "Search the web, biased toward New Jersey civic and election sources. Use for current events, election dates, and anything not in the warehouse.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query": map[string]interface{}{
							"type":        "string",
							"description": "Search query.",
						},
						"n": map[string]interface{}{
							"type":        "integer",
							"description": "Number of results (default 5).",
						},
					},
					"required": []string{"query"},
				},
			},
		},
		{
			Type: "function",
			Function: ToolFunction{
				Name:        "save_list",
				Description: "Save a query as a named voter list the user can re-run and send campaigns to. Pass the SQL that produced the result the user wants to keep.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"name": map[string]interface{}{
							"type":        "string",
							"description": "Short display name.",
						},
						"description": map[string]interface{}{
							"type":        "string",
							"description": "What the list contains.",
						},
						"sql": map[string]interface{}{
							"type":        "string",
							"description": "The SELECT statement defining the list.",
						},
						"row_count": map[string]interface{}{
							"type":        "integer",
							"description": "Row count last observed for this query.",
						},
					},
					"required": []string{"name", "sql"},
				},
			},
		},
		{
			Type: "function",
			Function: ToolFunction{
				Name:        "list_lists",
				Description: "List the user's saved voter lists.",
				Parameters: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
					"required":   []string{},
				},
			},
		},
		{
			Type: "function",
			Function: ToolFunction{
				Name:        "enrich_one",
				Description: "Fetch, create, or summarize third-party enrichment for one person. action 'fetch' returns the stored record; 'enrich' calls the paid provider (respecting budget); 'summary' returns which fields are available.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"person_id": map[string]interface{}{
							"type":        "string",
							"description": "Warehouse person id.",
						},
						"action": map[string]interface{}{
							"type":        "string",
							"description": "'fetch', 'enrich', or 'summary'.",
						},
						"min_likelihood": map[string]interface{}{
							"type":        "number",
							"description": "Provider match threshold 1-10 (default 5).",
						},
						"force": map[string]interface{}{
							"type":        "boolean",
							"description": "Re-enrich even if a fresh record exists; also confirms spend above the session threshold.",
						},
					},
					"required": []string{"person_id", "action"},
				},
			},
		},
		{
			Type: "function",
			Function: ToolFunction{
				Name:        "enrich_batch",
				Description: "Enrich up to 100 persons in one call. Preferred over enrich_one whenever three or more people are involved. Skips already-fresh records unless skip_existing=false.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"person_ids": map[string]interface{}{
							"type":        "array",
							"items":       map[string]interface{}{"type": "string"},
							"description": "Warehouse person ids, at most 100.",
						},
						"min_likelihood": map[string]interface{}{
							"type":        "number",
							"description": "Provider match threshold 1-10 (default 5).",
						},
						"skip_existing": map[string]interface{}{
							"type":        "boolean",
							"description": "Skip persons with a fresh record (default true).",
						},
						"force": map[string]interface{}{
							"type":        "boolean",
							"description": "Re-enrich everyone and confirm spend above the session threshold.",
						},
					},
					"required": []string{"person_ids"},
				},
			},
		},
		{
			Type: "function",
			Function: ToolFunction{
				Name:        "doc_create",
				Description: "Create a document in the user's document account, e.g. a campaign email draft.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"title": map[string]interface{}{"type": "string"},
						"body":  map[string]interface{}{"type": "string"},
					},
					"required": []string{"title"},
				},
			},
		},
		{
			Type: "function",
			Function: ToolFunction{
				Name:        "doc_read",
				Description: "Read a document's text by id.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"document_id": map[string]interface{}{"type": "string"},
					},
					"required": []string{"document_id"},
				},
			},
		},
		{
			Type: "function",
			Function: ToolFunction{
				Name:        "doc_list",
				Description: "List the user's documents, newest first.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"limit": map[string]interface{}{"type": "integer"},
					},
					"required": []string{},
				},
			},
		},
		{
			Type: "function",
			Function: ToolFunction{
				Name:        "doc_update",
				Description: "Replace a document's body text.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"document_id": map[string]interface{}{"type": "string"},
						"body":        map[string]interface{}{"type": "string"},
					},
					"required": []string{"document_id", "body"},
				},
			},
		},
	}
}

// Execute dispatches one tool call and returns the result serialized for
// the model. Errors return a non-nil error; the loop reports them as tool
// errors without ending the turn.
func (ts *Toolset) Execute(ctx context.Context, userID, sessionID, name string, input json.RawMessage) (string, error) {
	switch name {
	case "warehouse_select":
		var args struct {
			SQL string `json:"sql"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("bad warehouse_select input: %w", err)
		}
		res, err := ts.Warehouse.Execute(warehouse.WithCaller(ctx, "agent"), args.SQL)
		if err != nil {
			return "", err
		}
		return marshalResult(trimmedResult(res))

	case "geocode":
		var args struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("bad geocode input: %w", err)
		}
		p, err := ts.Geocoder.Geocode(ctx, args.Address)
		if err != nil {
			return "", err
		}
		return marshalResult(p)

	case "web_search":
		var args struct {
			Query string `json:"query"`
			N     int    `json:"n"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("bad web_search input: %w", err)
		}
		results, err := ts.Searcher.Search(ctx, args.Query, args.N)
		if err != nil {
			return "", err
		}
		return marshalResult(results)

	case "save_list":
		var args struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			SQL         string `json:"sql"`
			RowCount    int    `json:"row_count"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("bad save_list input: %w", err)
		}
		l, err := ts.Lists.Create(ctx, userID, lists.CreateInput{
			Name:        args.Name,
			Description: args.Description,
			SQLText:     args.SQL,
			RowCount:    args.RowCount,
		})
		if err != nil {
			return "", err
		}
		return marshalResult(map[string]string{"list_id": l.ID, "name": l.Name})

	case "list_lists":
		all, err := ts.Lists.List(ctx, userID)
		if err != nil {
			return "", err
		}
		return marshalResult(all)

	case "enrich_one":
		var args struct {
			PersonID      string  `json:"person_id"`
			Action        string  `json:"action"`
			MinLikelihood float64 `json:"min_likelihood"`
			Force         bool    `json:"force"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("bad enrich_one input: %w", err)
		}
		switch args.Action {
		case "fetch":
			rec, err := ts.Enricher.Get(ctx, args.PersonID)
			if err == enrichment.ErrNoRecord {
				return marshalResult(map[string]string{"status": "no_record"})
			}
			if err != nil {
				return "", err
			}
			return marshalResult(rec)
		case "summary":
			rec, err := ts.Enricher.Get(ctx, args.PersonID)
			if err == enrichment.ErrNoRecord {
				return marshalResult(map[string]string{"status": "no_record"})
			}
			if err != nil {
				return "", err
			}
			return marshalResult(map[string]interface{}{
				"person_id":     rec.PersonID,
				"enriched_at":   rec.EnrichedAt,
				"has_email":     rec.HasEmail,
				"has_phone":     rec.HasPhone,
				"has_linkedin":  rec.HasLinkedIn,
				"has_job":       rec.HasJob,
				"has_education": rec.HasEducation,
			})
		case "enrich":
			opts := enrichment.DefaultOptions()
			opts.Force = args.Force
			opts.MinLikelihood = args.MinLikelihood
			out, err := ts.Enricher.EnrichOne(ctx, sessionID, args.PersonID, opts)
			if err != nil {
				return "", err
			}
			return marshalResult(out)
		default:
			return "", fmt.Errorf("unknown enrich_one action %q", args.Action)
		}

	case "enrich_batch":
		var args struct {
			PersonIDs     []string `json:"person_ids"`
			MinLikelihood float64  `json:"min_likelihood"`
			SkipExisting  *bool    `json:"skip_existing"`
			Force         bool     `json:"force"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("bad enrich_batch input: %w", err)
		}
		opts := enrichment.DefaultOptions()
		opts.Force = args.Force
		opts.MinLikelihood = args.MinLikelihood
		if args.SkipExisting != nil {
			opts.SkipExisting = *args.SkipExisting
		}
		outcomes, summary, err := ts.Enricher.EnrichBatch(ctx, sessionID, args.PersonIDs, opts)
		if err == enrichment.ErrBulkTooLarge {
			return marshalResult(map[string]string{
				"status": "too_large",
				"hint":   "split the request into batches of at most 100 person_ids",
			})
		}
		if err != nil {
			return "", err
		}
		return marshalResult(map[string]interface{}{"summary": summary, "outcomes": outcomes})

	case "doc_create":
		var args struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("bad doc_create input: %w", err)
		}
		d, err := ts.Docs.Create(ctx, args.Title, args.Body)
		if err != nil {
			return "", err
		}
		return marshalResult(d)

	case "doc_read":
		var args struct {
			DocumentID string `json:"document_id"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("bad doc_read input: %w", err)
		}
		d, err := ts.Docs.Get(ctx, args.DocumentID)
		if err != nil {
			return "", err
		}
		return marshalResult(d)

	case "doc_list":
		var args struct {
			Limit int `json:"limit"`
		}
		if len(input) > 0 {
			if err := json.Unmarshal(input, &args); err != nil {
				return "", fmt.Errorf("bad doc_list input: %w", err)
			}
		}
		ds, err := ts.Docs.List(ctx, args.Limit)
		if err != nil {
			return "", err
		}
		return marshalResult(ds)

	case "doc_update":
		var args struct {
			DocumentID string `json:"document_id"`
			Body       string `json:"body"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("bad doc_update input: %w", err)
		}
		if err := ts.Docs.Update(ctx, args.DocumentID, args.Body); err != nil {
			return "", err
		}
		return marshalResult(map[string]string{"status": "updated"})

	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

// trimmedResult bounds the rows echoed to the model.
func trimmedResult(res *domain.QueryResult) *domain.QueryResult {
	if len(res.Rows) <= toolResultRowCap {
		return res
	}
	cp := *res
	cp.Rows = res.Rows[:toolResultRowCap]
	cp.Truncated = true
	return &cp
}

func marshalResult(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding tool result: %w", err)
	}
	return string(raw), nil
}
