package lists

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
	"github.com/meridian/voter-gateway/internal/warehouse"
)

// deletedRecallWindow is how long a deleted list id is remembered so the
// agent can explain a stale reference instead of failing blind.
const deletedRecallWindow = 10 * time.Minute

// QueryRunner is the warehouse surface the list service needs.
type QueryRunner interface {
	// Prepare validates and remaps without executing.
	Prepare(sql string) (string, error)
	// Execute runs the statement through the full guarded pipeline.
	Execute(ctx context.Context, sql string) (*domain.QueryResult, error)
}

// Service implements saved-list operations on top of a Repository.
type Service struct {
	repo   Repository
	runner QueryRunner
	now    func() time.Time

	mu      sync.Mutex
	deleted map[string]time.Time // list id -> deletion time
}

// NewService wires a list service.
func NewService(repo Repository, runner QueryRunner) *Service {
	return &Service{
		repo:    repo,
		runner:  runner,
		now:     time.Now,
		deleted: make(map[string]time.Time),
	}
}

// CreateInput carries the fields for a new list.
type CreateInput struct {
	Name        string
	Description string
	SQLText     string
	Prompt      string
	RowCount    int
}

// Create validates the query through the guard pipeline and persists a new
// list. The stored SQL is the effective (remapped) form so later runs and
// campaign sends never re-trip on stale vocabulary.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*domain.SavedQuery, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, ErrNameRequired
	}
	if strings.TrimSpace(in.SQLText) == "" {
		return nil, ErrSQLRequired
	}

	effective, err := s.runner.Prepare(in.SQLText)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	l := &domain.SavedQuery{
		ID:          uuid.NewString(),
		OwnerUserID: userID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		SQLText:     effective,
		Prompt:      in.Prompt,
		RowCount:    in.RowCount,
		CreatedAt:   now,
		UpdatedAt:   now,
		IsActive:    true,
	}
	if err := s.repo.Create(ctx, l); err != nil {
		return nil, err
	}

	logger.Info("list created", "list_id", l.ID, "user_id", userID, "rows", l.RowCount)
	return l, nil
}

// Get returns an active list. A soft-deleted list surfaces as
// ErrRecentlyDeleted within the recall window, ErrNotFound after.
func (s *Service) Get(ctx context.Context, userID, listID string) (*domain.SavedQuery, error) {
	l, err := s.repo.Get(ctx, userID, listID)
	if err != nil {
		if err == ErrNotFound && s.recentlyDeleted(listID) {
			return nil, ErrRecentlyDeleted
		}
		return nil, err
	}
	if !l.IsActive {
		if s.recentlyDeleted(listID) {
			return nil, ErrRecentlyDeleted
		}
		return nil, ErrNotFound
	}
	return l, nil
}

// List returns the user's active lists, newest first. Lists deleted
// within the recall window are dropped even if the backing store still
// returns them; Dynamo queries are eventually consistent.
func (s *Service) List(ctx context.Context, userID string) ([]domain.SavedQuery, error) {
	all, err := s.repo.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, l := range all {
		if s.recentlyDeleted(l.ID) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// UpdateInput carries mutable list fields; nil means leave unchanged.
type UpdateInput struct {
	Name        *string
	Description *string
	SQLText     *string
	Prompt      *string
}

// Update modifies an active list. A changed query is re-validated.
func (s *Service) Update(ctx context.Context, userID, listID string, in UpdateInput) (*domain.SavedQuery, error) {
	if _, err := s.Get(ctx, userID, listID); err != nil {
		return nil, err
	}

	fields := UpdateFields{
		Name:        in.Name,
		Description: in.Description,
		Prompt:      in.Prompt,
	}
	if in.SQLText != nil {
		effective, err := s.runner.Prepare(*in.SQLText)
		if err != nil {
			return nil, err
		}
		fields.SQLText = &effective
	}
	if err := s.repo.Update(ctx, userID, listID, fields); err != nil {
		return nil, err
	}
	return s.Get(ctx, userID, listID)
}

// Delete soft-deletes a list and remembers the id for the recall window.
func (s *Service) Delete(ctx context.Context, userID, listID string) error {
	if _, err := s.Get(ctx, userID, listID); err != nil {
		return err
	}
	inactive := false
	if err := s.repo.Update(ctx, userID, listID, UpdateFields{IsActive: &inactive}); err != nil {
		return err
	}

	s.mu.Lock()
	s.deleted[listID] = s.now()
	// Opportunistic sweep so the map doesn't grow unbounded.
	for id, at := range s.deleted {
		if s.now().Sub(at) > deletedRecallWindow {
			delete(s.deleted, id)
		}
	}
	s.mu.Unlock()

	logger.Info("list deleted", "list_id", listID, "user_id", userID)
	return nil
}

// Run re-executes the list's query, refreshes the stored row count, and
// records the access.
func (s *Service) Run(ctx context.Context, userID, listID string) (*domain.QueryResult, error) {
	l, err := s.Get(ctx, userID, listID)
	if err != nil {
		return nil, err
	}

	res, err := s.runner.Execute(warehouse.WithCaller(ctx, "lists"), l.SQLText)
	if err != nil {
		return nil, err
	}

	if res.RowCount != l.RowCount {
		rc := res.RowCount
		if err := s.repo.Update(ctx, userID, listID, UpdateFields{RowCount: &rc}); err != nil {
			logger.Warn("row count refresh failed", "list_id", listID, "error", err.Error())
		}
	}
	if err := s.repo.RecordAccess(ctx, userID, listID); err != nil {
		logger.Warn("access record failed", "list_id", listID, "error", err.Error())
	}
	return res, nil
}

// ExportCSV runs the list and writes the result as CSV.
func (s *Service) ExportCSV(ctx context.Context, userID, listID string, w io.Writer) error {
	res, err := s.Run(ctx, userID, listID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(res.Columns); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	record := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for i, v := range row {
			if v == nil {
				record[i] = ""
			} else {
				record[i] = fmt.Sprintf("%v", v)
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *Service) recentlyDeleted(listID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.deleted[listID]
	return ok && s.now().Sub(at) <= deletedRecallWindow
}
