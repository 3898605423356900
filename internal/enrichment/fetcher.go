package enrichment

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/warehouse"
)

// QueryRunner is the warehouse surface the fetcher needs.
type QueryRunner interface {
	Execute(ctx context.Context, sql string) (*domain.QueryResult, error)
}

// WarehouseFetcher resolves person identity fields from the voter table.
type WarehouseFetcher struct {
	runner QueryRunner
	table  string // fully-qualified, allow-listed
}

// NewWarehouseFetcher wires a fetcher against the given voter table.
func NewWarehouseFetcher(runner QueryRunner, table string) *WarehouseFetcher {
	return &WarehouseFetcher{runner: runner, table: table}
}

func (f *WarehouseFetcher) Fetch(ctx context.Context, personIDs []string) ([]PersonQuery, error) {
	if len(personIDs) == 0 {
		return nil, nil
	}

	quoted := make([]string, 0, len(personIDs))
	for _, id := range personIDs {
		quoted = append(quoted, "'"+strings.ReplaceAll(id, "'", "''")+"'")
	}
	sql := fmt.Sprintf(
		"SELECT id AS person_id, name_first, name_last, city, state, zip, email FROM %s WHERE id IN (%s)",
		f.table, strings.Join(quoted, ", "))

	res, err := f.runner.Execute(warehouse.WithCaller(ctx, "enrichment"), sql)
	if err != nil {
		return nil, err
	}

	col := make(map[string]int, len(res.Columns))
	for i, name := range res.Columns {
		col[name] = i
	}
	str := func(row []interface{}, name string) string {
		i, ok := col[name]
		if !ok || row[i] == nil {
			return ""
		}
		s, _ := row[i].(string)
		return s
	}

	out := make([]PersonQuery, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, PersonQuery{
			PersonID:  str(row, "person_id"),
			FirstName: str(row, "name_first"),
			LastName:  str(row, "name_last"),
			City:      str(row, "city"),
			State:     str(row, "state"),
			ZipCode:   str(row, "zip"),
			Email:     str(row, "email"),
		})
	}
	return out, nil
}
