// Package docs stores campaign body documents in the user's hosted
// document account. The agent drafts and revises email copy as documents
// so users can edit outside the chat before a send.
package docs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrNotFound means the document does not exist or is not shared with us.
var ErrNotFound = errors.New("document not found")

// Document is a stored campaign body.
type Document struct {
	ID        string    `json:"document_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Client talks to the document and file APIs with a user-delegated OAuth
// token.
type Client struct {
	docsBase  string
	driveBase string
	http      *http.Client
}

// NewClient builds a client from a token source. Base URLs default to the
// hosted APIs and are overridable for tests.
func NewClient(ctx context.Context, ts oauth2.TokenSource, docsBase, driveBase string) *Client {
	if docsBase == "" {
		docsBase = "https://docs.googleapis.com"
	}
	if driveBase == "" {
		driveBase = "https://www.googleapis.com"
	}
	return &Client{
		docsBase:  docsBase,
		driveBase: driveBase,
		http:      oauth2.NewClient(ctx, ts),
	}
}

// Create makes a new document with the given title and body text.
func (c *Client) Create(ctx context.Context, title, body string) (*Document, error) {
	var created struct {
		DocumentID string `json:"documentId"`
	}
	if err := c.call(ctx, http.MethodPost, c.docsBase+"/v1/documents",
		map[string]string{"title": title}, &created); err != nil {
		return nil, err
	}
	if body != "" {
		if err := c.insertText(ctx, created.DocumentID, body); err != nil {
			return nil, err
		}
	}
	return &Document{ID: created.DocumentID, Title: title, Body: body}, nil
}

type docResponse struct {
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	Body       struct {
		Content []struct {
			EndIndex  int `json:"endIndex"`
			Paragraph *struct {
				Elements []struct {
					TextRun *struct {
						Content string `json:"content"`
					} `json:"textRun"`
				} `json:"elements"`
			} `json:"paragraph"`
		} `json:"content"`
	} `json:"body"`
}

// Get fetches a document and flattens its paragraphs to plain text.
func (c *Client) Get(ctx context.Context, id string) (*Document, error) {
	var doc docResponse
	if err := c.call(ctx, http.MethodGet, c.docsBase+"/v1/documents/"+url.PathEscape(id), nil, &doc); err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, block := range doc.Body.Content {
		if block.Paragraph == nil {
			continue
		}
		for _, el := range block.Paragraph.Elements {
			if el.TextRun != nil {
				b.WriteString(el.TextRun.Content)
			}
		}
	}
	return &Document{ID: doc.DocumentID, Title: doc.Title, Body: b.String()}, nil
}

// Read returns just the body text, for callers that render documents
// rather than edit them.
func (c *Client) Read(ctx context.Context, id string) (string, error) {
	doc, err := c.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return doc.Body, nil
}

// Update replaces the document's entire body text.
func (c *Client) Update(ctx context.Context, id, body string) error {
	doc, err := c.getRaw(ctx, id)
	if err != nil {
		return err
	}

	var requests []interface{}
	end := 1
	if n := len(doc.Body.Content); n > 0 {
		end = doc.Body.Content[n-1].EndIndex - 1
	}
	if end > 1 {
		requests = append(requests, map[string]interface{}{
			"deleteContentRange": map[string]interface{}{
				"range": map[string]int{"startIndex": 1, "endIndex": end},
			},
		})
	}
	requests = append(requests, map[string]interface{}{
		"insertText": map[string]interface{}{
			"location": map[string]int{"index": 1},
			"text":     body,
		},
	})
	return c.call(ctx, http.MethodPost,
		c.docsBase+"/v1/documents/"+url.PathEscape(id)+":batchUpdate",
		map[string]interface{}{"requests": requests}, nil)
}

// List returns the user's documents, newest first, up to limit.
func (c *Client) List(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	q := url.Values{}
	q.Set("q", "mimeType='application/vnd.google-apps.document' and trashed=false")
	q.Set("orderBy", "modifiedTime desc")
	q.Set("pageSize", fmt.Sprintf("%d", limit))
	q.Set("fields", "files(id,name,modifiedTime)")

	var parsed struct {
		Files []struct {
			ID           string `json:"id"`
			Name         string `json:"name"`
			ModifiedTime string `json:"modifiedTime"`
		} `json:"files"`
	}
	if err := c.call(ctx, http.MethodGet, c.driveBase+"/drive/v3/files?"+q.Encode(), nil, &parsed); err != nil {
		return nil, err
	}

	out := make([]Document, 0, len(parsed.Files))
	for _, f := range parsed.Files {
		d := Document{ID: f.ID, Title: f.Name}
		d.UpdatedAt, _ = time.Parse(time.RFC3339, f.ModifiedTime)
		out = append(out, d)
	}
	return out, nil
}

func (c *Client) getRaw(ctx context.Context, id string) (*docResponse, error) {
	var doc docResponse
	if err := c.call(ctx, http.MethodGet, c.docsBase+"/v1/documents/"+url.PathEscape(id), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) insertText(ctx context.Context, id, text string) error {
	return c.call(ctx, http.MethodPost,
		c.docsBase+"/v1/documents/"+url.PathEscape(id)+":batchUpdate",
		map[string]interface{}{
			"requests": []interface{}{
				map[string]interface{}{
					"insertText": map[string]interface{}{
						"location": map[string]int{"index": 1},
						"text":     text,
					},
				},
			},
		}, nil)
}

func (c *Client) call(ctx context.Context, method, u string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding docs request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling docs api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading docs response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("docs api status %d: %.200s", resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decoding docs response: %w", err)
		}
	}
	return nil
}
