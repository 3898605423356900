package campaign

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/voter-gateway/internal/domain"
)

func TestResolveUsesStoredSQLWhenItProjectsID(t *testing.T) {
	runner := &fakeRunner{results: []*domain.QueryResult{idRows("p1"), recipientRows(1)}}
	r := NewResolver(&fakeLists{list: draftList()}, runner, "proj-voter.nj.voters", 0)

	_, err := r.Resolve(context.Background(), "u1", "l1")
	require.NoError(t, err)
	require.Len(t, runner.queries, 2)
	assert.Equal(t, draftList().SQLText, runner.queries[0])
}

func TestResolveWrapsWithEmailJoin(t *testing.T) {
	list := draftList()
	list.SQLText = "SELECT email, city FROM `proj-voter.nj.voters` WHERE county = 'Mercer';"
	runner := &fakeRunner{results: []*domain.QueryResult{idRows("p1"), recipientRows(1)}}
	r := NewResolver(&fakeLists{list: list}, runner, "proj-voter.nj.voters", 0)

	_, err := r.Resolve(context.Background(), "u1", "l1")
	require.NoError(t, err)

	wrapped := runner.queries[0]
	assert.True(t, strings.HasPrefix(wrapped, "WITH r AS ("))
	assert.Contains(t, wrapped, "SELECT v.id AS person_id FROM `proj-voter.nj.voters` v JOIN r")
	assert.Contains(t, wrapped, "lower(v.email) = lower(r.email)")
	// The trailing semicolon must not survive into the CTE.
	assert.NotContains(t, wrapped, ";")
}

func TestResolveWrapsWithNameJoin(t *testing.T) {
	// A list that kept only names must still resolve: the wrap recovers
	// the voter id by matching on both name columns.
	list := draftList()
	list.SQLText = "SELECT name_first, name_last FROM `proj-voter.nj.voters` WHERE demo_party = 'REPUBLICAN'"
	runner := &fakeRunner{results: []*domain.QueryResult{idRows("p1"), recipientRows(1)}}
	r := NewResolver(&fakeLists{list: list}, runner, "proj-voter.nj.voters", 0)

	got, err := r.Resolve(context.Background(), "u1", "l1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	wrapped := runner.queries[0]
	assert.Contains(t, wrapped, "v.name_first = r.name_first AND v.name_last = r.name_last")
	assert.NotContains(t, wrapped, "r.email")
}

func TestResolveRejectsUnjoinableProjection(t *testing.T) {
	list := draftList()
	list.SQLText = "SELECT city, county FROM `proj-voter.nj.voters`"
	runner := &fakeRunner{}
	r := NewResolver(&fakeLists{list: list}, runner, "proj-voter.nj.voters", 0)

	_, err := r.Resolve(context.Background(), "u1", "l1")
	assert.ErrorIs(t, err, ErrNoJoinColumn)
	assert.Empty(t, runner.queries, "nothing should reach the warehouse")
}

func TestResolveCapsRecipientSet(t *testing.T) {
	var ids []string
	for i := 0; i < 30; i++ {
		ids = append(ids, "p"+strings.Repeat("x", i+1))
	}
	runner := &fakeRunner{results: []*domain.QueryResult{idRows(ids...), recipientRows(10)}}
	r := NewResolver(&fakeLists{list: draftList()}, runner, "proj-voter.nj.voters", 10)

	_, err := r.Resolve(context.Background(), "u1", "l1")
	require.NoError(t, err)

	// Only the first 10 ids appear in the detail query.
	detail := runner.queries[1]
	assert.Equal(t, 10, strings.Count(detail, "'p"))
}

func TestResolveFiltersInvalidEmails(t *testing.T) {
	detail := &domain.QueryResult{
		Columns: []string{"person_id", "email", "name_first", "name_last", "city"},
		Rows: [][]interface{}{
			{"p1", "ok@example.com", "A", "B", "Trenton"},
			{"p2", "", "C", "D", "Newark"},
			{"p3", "not-an-email", "E", "F", "Camden"},
			{"p4", "spaced @example.com", "G", "H", "Camden"},
		},
	}
	runner := &fakeRunner{results: []*domain.QueryResult{idRows("p1", "p2", "p3", "p4"), detail}}
	r := NewResolver(&fakeLists{list: draftList()}, runner, "proj-voter.nj.voters", 0)

	got, err := r.Resolve(context.Background(), "u1", "l1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].PersonID)
	assert.Equal(t, "Trenton", got[0].City)
}

func TestResolveNoValidRecipients(t *testing.T) {
	runner := &fakeRunner{results: []*domain.QueryResult{idRows()}}
	r := NewResolver(&fakeLists{list: draftList()}, runner, "proj-voter.nj.voters", 0)

	_, err := r.Resolve(context.Background(), "u1", "l1")
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestIDQuerySelection(t *testing.T) {
	r := NewResolver(nil, nil, "proj-voter.nj.voters", 0)

	for _, stored := range []string{
		"SELECT id FROM t",
		"SELECT person_id FROM t",
		"select v.id, email from t v",
		"SELECT * FROM t",
	} {
		got, err := r.idQuery(stored)
		require.NoError(t, err, "stored: %s", stored)
		assert.Equal(t, stored, got, "stored: %s", stored)
	}

	// An id only in the WHERE clause does not count as projected.
	got, err := r.idQuery("SELECT email FROM t WHERE id = 'p1'")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "WITH r AS ("))
}
