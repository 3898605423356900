package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/geocode"
	"github.com/meridian/voter-gateway/internal/lists"
)

type fakeStream struct {
	chunks []string
	pos    int
}

func (s *fakeStream) Next() ([]byte, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return []byte(c), nil
}

func (s *fakeStream) Close() error { return nil }

// fakeRuntime replays one canned stream per InvokeStream call and records
// the request bodies it saw.
type fakeRuntime struct {
	streams   [][]string
	streamErr error
	invokeOut []byte
	bodies    []AnthropicRequest
	calls     int
}

func (r *fakeRuntime) Invoke(_ context.Context, _ string, body []byte) ([]byte, error) {
	var req AnthropicRequest
	_ = json.Unmarshal(body, &req)
	r.bodies = append(r.bodies, req)
	return r.invokeOut, nil
}

func (r *fakeRuntime) InvokeStream(_ context.Context, _ string, body []byte) (ChunkStream, error) {
	if r.streamErr != nil {
		return nil, r.streamErr
	}
	var req AnthropicRequest
	_ = json.Unmarshal(body, &req)
	r.bodies = append(r.bodies, req)
	if r.calls >= len(r.streams) {
		return &fakeStream{}, nil
	}
	s := &fakeStream{chunks: r.streams[r.calls]}
	r.calls++
	return s, nil
}

type fakeGeocoder struct {
	addresses []string
}

func (g *fakeGeocoder) Geocode(_ context.Context, address string) (geocode.Point, error) {
	g.addresses = append(g.addresses, address)
	return geocode.Point{Latitude: 40.2, Longitude: -74.7, MatchedText: address}, nil
}

type nopLists struct{}

func (nopLists) Create(context.Context, string, lists.CreateInput) (*domain.SavedQuery, error) {
	return &domain.SavedQuery{ID: "l1"}, nil
}
func (nopLists) List(context.Context, string) ([]domain.SavedQuery, error) { return nil, nil }

func newTestAgent(rt Runtime, ts *Toolset) *Agent {
	return NewAgent(rt, ts, "test-model", "be helpful", "u1", "s1")
}

func TestRespondPlainTextTurn(t *testing.T) {
	rt := &fakeRuntime{streams: [][]string{{
		`{"type": "message_start"}`,
		`{"type": "content_block_start", "index": 0, "content_block": {"type": "text"}}`,
		`{"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": "Hello "}}`,
		`{"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": "there"}}`,
		`{"type": "content_block_stop", "index": 0}`,
		`{"type": "message_delta", "delta": {"stop_reason": "end_turn"}}`,
		`{"type": "message_stop"}`,
	}}}
	a := newTestAgent(rt, &Toolset{})

	var chunks []string
	got, err := a.Respond(context.Background(), "hi", func(s string) { chunks = append(chunks, s) })
	require.NoError(t, err)
	assert.Equal(t, "Hello there", got)
	assert.Equal(t, []string{"Hello ", "there"}, chunks)

	// History gains the user turn and the normalized assistant turn.
	require.Len(t, a.history, 2)
	assert.Equal(t, "assistant", a.history[1].Role)
	assert.Equal(t, "Hello there", a.history[1].Content[0].Text)
}

func TestRespondToolUseRound(t *testing.T) {
	rt := &fakeRuntime{streams: [][]string{
		{
			`{"type": "content_block_start", "index": 0, "content_block": {"type": "tool_use", "id": "t1", "name": "geocode"}}`,
			`{"type": "content_block_delta", "index": 0, "delta": {"type": "input_json_delta", "partial_json": "{\"address\": "}}`,
			`{"type": "content_block_delta", "index": 0, "delta": {"type": "input_json_delta", "partial_json": "\"12 Maple Ave, Trenton NJ\"}"}}`,
			`{"type": "content_block_stop", "index": 0}`,
			`{"type": "message_delta", "delta": {"stop_reason": "tool_use"}}`,
		},
		{
			`{"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": "That address is in Trenton."}}`,
			`{"type": "content_block_stop", "index": 0}`,
			`{"type": "message_delta", "delta": {"stop_reason": "end_turn"}}`,
		},
	}}
	geo := &fakeGeocoder{}
	a := newTestAgent(rt, &Toolset{Geocoder: geo, Lists: nopLists{}})

	got, err := a.Respond(context.Background(), "where is 12 Maple Ave?", nil)
	require.NoError(t, err)
	assert.Equal(t, "That address is in Trenton.", got)
	assert.Equal(t, []string{"12 Maple Ave, Trenton NJ"}, geo.addresses)

	// user, assistant tool_use, user tool_result, assistant final.
	require.Len(t, a.history, 4)
	assert.Equal(t, "tool_use", a.history[1].Content[0].Type)
	result := a.history[2].Content[0]
	assert.Equal(t, "tool_result", result.Type)
	assert.Equal(t, "t1", result.ToolUseID)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content, "40.2")

	// The second invoke carried the tool round in its message list.
	require.Len(t, rt.bodies, 2)
	assert.Len(t, rt.bodies[1].Messages, 3)
}

func TestRespondToolErrorContinuesTurn(t *testing.T) {
	rt := &fakeRuntime{streams: [][]string{
		{
			`{"type": "content_block_start", "index": 0, "content_block": {"type": "tool_use", "id": "t9", "name": "no_such_tool"}}`,
			`{"type": "content_block_stop", "index": 0}`,
			`{"type": "message_delta", "delta": {"stop_reason": "tool_use"}}`,
		},
		{
			`{"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": "I could not run that."}}`,
			`{"type": "content_block_stop", "index": 0}`,
			`{"type": "message_delta", "delta": {"stop_reason": "end_turn"}}`,
		},
	}}
	a := newTestAgent(rt, &Toolset{})

	got, err := a.Respond(context.Background(), "do the thing", nil)
	require.NoError(t, err)
	assert.Equal(t, "I could not run that.", got)

	result := a.history[2].Content[0]
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "unknown tool")
}

func TestRespondCorruptedHistory(t *testing.T) {
	rt := &fakeRuntime{streamErr: errors.New("ValidationException: mixed content types in message 3")}
	a := newTestAgent(rt, &Toolset{})

	_, err := a.Respond(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrCorruptedHistory)
}

func TestRespondEmptyStreamYieldsSentinel(t *testing.T) {
	rt := &fakeRuntime{streams: [][]string{{
		`{"type": "message_start"}`,
		`{"type": "message_stop"}`,
	}}}
	a := newTestAgent(rt, &Toolset{})

	got, err := a.Respond(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, EmptyResponseText, got)
}

func TestSeedHistoryReplaysPersistedTurns(t *testing.T) {
	rt := &fakeRuntime{streams: [][]string{{
		`{"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": "ok"}}`,
		`{"type": "content_block_stop", "index": 0}`,
	}}}
	a := newTestAgent(rt, &Toolset{})
	a.SeedHistory([]domain.Message{
		{Role: domain.RoleUser, Text: "first question"},
		{Role: domain.RoleAssistant, Text: "first answer"},
	})

	_, err := a.Respond(context.Background(), "second question", nil)
	require.NoError(t, err)

	require.Len(t, rt.bodies, 1)
	msgs := rt.bodies[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "first question", msgs[0].Content[0].Text)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestCacheEvictsLRUAndOnDemand(t *testing.T) {
	c := NewCache(2)
	a1 := &Agent{sessionID: "s1"}
	a2 := &Agent{sessionID: "s2"}
	a3 := &Agent{sessionID: "s3"}

	c.Put("s1", a1)
	c.Put("s2", a2)

	// Touch s1 so s2 is the LRU victim.
	_, ok := c.Get("s1")
	require.True(t, ok)

	c.Put("s3", a3)
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("s2")
	assert.False(t, ok)
	_, ok = c.Get("s1")
	assert.True(t, ok)

	c.Evict("s1")
	_, ok = c.Get("s1")
	assert.False(t, ok)
}
