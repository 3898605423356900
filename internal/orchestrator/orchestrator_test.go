package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/voter-gateway/internal/agent"
	"github.com/meridian/voter-gateway/internal/domain"
)

// memSessions is an in-memory Sessions implementation.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	messages map[string][]domain.Message
	nextID   int
}

func newMemSessions() *memSessions {
	return &memSessions{
		sessions: map[string]*domain.Session{},
		messages: map[string][]domain.Message{},
	}
}

func (m *memSessions) Create(_ context.Context, userID, name, firstMessage, modelID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if name == "" {
		name = firstMessage
	}
	s := &domain.Session{
		ID:       fmt.Sprintf("s%d", m.nextID),
		UserID:   userID,
		Name:     name,
		ModelID:  modelID,
		IsActive: true,
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memSessions) Get(_ context.Context, userID, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, errors.New("session not found")
	}
	return s, nil
}

func (m *memSessions) Append(_ context.Context, userID, sessionID string, role domain.MessageRole, text string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, errors.New("session not found")
	}
	msg := domain.Message{
		ID:             fmt.Sprintf("%s-m%d", sessionID, len(m.messages[sessionID])+1),
		SessionID:      sessionID,
		Role:           role,
		Text:           text,
		Timestamp:      time.Now(),
		SequenceNumber: len(m.messages[sessionID]) + 1,
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return &msg, nil
}

func (m *memSessions) History(_ context.Context, _, sessionID string, afterSeq int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.messages[sessionID] {
		if msg.SequenceNumber > afterSeq {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memSessions) SetModel(_ context.Context, _, sessionID, modelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return errors.New("session not found")
	}
	s.ModelID = modelID
	return nil
}

// memEmitter records events and can simulate a dropped connection after
// a set number of deliveries.
type memEmitter struct {
	mu        sync.Mutex
	events    []Event
	dropAfter int // 0 means never drop
}

func (e *memEmitter) Emit(_ string, ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dropAfter > 0 && len(e.events) >= e.dropAfter {
		return false
	}
	e.events = append(e.events, ev)
	return true
}

func (e *memEmitter) byType(t string) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Event
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// scriptStream feeds canned text deltas in the model stream envelope.
type scriptStream struct {
	chunks []string
	pos    int
}

func (s *scriptStream) Next() ([]byte, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return []byte(c), nil
}

func (s *scriptStream) Close() error { return nil }

type scriptRuntime struct {
	texts []string // text deltas for every stream turn
	err   error
}

func (r *scriptRuntime) Invoke(context.Context, string, []byte) ([]byte, error) {
	return nil, errors.New("not used")
}

func (r *scriptRuntime) InvokeStream(context.Context, string, []byte) (agent.ChunkStream, error) {
	if r.err != nil {
		return nil, r.err
	}
	var chunks []string
	for _, t := range r.texts {
		chunks = append(chunks, fmt.Sprintf(
			`{"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": %q}}`, t))
	}
	chunks = append(chunks,
		`{"type": "content_block_stop", "index": 0}`,
		`{"type": "message_delta", "delta": {"stop_reason": "end_turn"}}`)
	return &scriptStream{chunks: chunks}, nil
}

func newOrchestrator(rt agent.Runtime, em Emitter) (*Orchestrator, *memSessions) {
	sessions := newMemSessions()
	factory := func(modelID, userID, sessionID string) *agent.Agent {
		return agent.NewAgent(rt, &agent.Toolset{}, modelID, "", userID, sessionID)
	}
	o := New(sessions, agent.NewCache(8), factory, em, "m1")
	return o, sessions
}

func TestFirstTurnCreatesSessionAndStreams(t *testing.T) {
	em := &memEmitter{}
	o, sessions := newOrchestrator(&scriptRuntime{texts: []string{"Hi ", "there"}}, em)

	err := o.HandleTurn(context.Background(), "conn1", "u1", "", "", "hello")
	require.NoError(t, err)

	created := em.byType(EventSessionCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "hello", created[0].SessionName)

	confirmed := em.byType(EventMessageConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, 1, confirmed[0].SequenceNumber)
	assert.Equal(t, "user", confirmed[0].MessageType)

	chunks := em.byType(EventMessageChunk)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Hi ", chunks[0].Chunk)
	assert.Equal(t, 1, chunks[0].Sequence)
	assert.Equal(t, 2, chunks[1].Sequence)

	require.Len(t, em.byType(EventMessageEnd), 1)

	msgs := sessions.messages[created[0].SessionID]
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there", msgs[1].Text)
}

func TestDisconnectMidStreamThenRecover(t *testing.T) {
	// session_created + message_confirmed + 1 chunk, then the pipe drops.
	em := &memEmitter{dropAfter: 3}
	o, sessions := newOrchestrator(&scriptRuntime{texts: []string{"one ", "two ", "three"}}, em)

	err := o.HandleTurn(context.Background(), "conn1", "u1", "", "", "hello")
	require.NoError(t, err)

	// Only the first chunk got out; no message_end reached the client.
	assert.Len(t, em.byType(EventMessageChunk), 1)
	assert.Empty(t, em.byType(EventMessageEnd))

	// The full text was still persisted.
	sessID := em.byType(EventSessionCreated)[0].SessionID
	msgs := sessions.messages[sessID]
	require.Len(t, msgs, 2)
	assert.Equal(t, "one two three", msgs[1].Text)

	// Recovery returns everything produced, including post-disconnect
	// chunks.
	em.dropAfter = 0
	o.Recover(context.Background(), "conn2", "u1", sessID)
	rec := em.byType(EventMessageRecovery)
	require.Len(t, rec, 1)
	assert.Equal(t, "one two three", rec[0].RecoveredText)
	assert.False(t, rec[0].IsComplete)

	// A second recovery finds nothing in flight.
	o.Recover(context.Background(), "conn2", "u1", sessID)
	rec = em.byType(EventMessageRecovery)
	require.Len(t, rec, 2)
	assert.True(t, rec[1].IsComplete)
	assert.Empty(t, rec[1].RecoveredText)
}

// blockingRuntime holds its stream open until released, so tests can
// observe a turn mid-flight.
type blockingRuntime struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRuntime) Invoke(context.Context, string, []byte) ([]byte, error) {
	return nil, errors.New("not used")
}

func (r *blockingRuntime) InvokeStream(context.Context, string, []byte) (agent.ChunkStream, error) {
	r.started <- struct{}{}
	<-r.release
	return &scriptStream{chunks: []string{
		`{"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": "ok"}}`,
		`{"type": "content_block_stop", "index": 0}`,
		`{"type": "message_delta", "delta": {"stop_reason": "end_turn"}}`,
	}}, nil
}

func TestSecondSendWhileStreamingRejected(t *testing.T) {
	em := &memEmitter{}
	rt := &blockingRuntime{started: make(chan struct{}, 1), release: make(chan struct{})}
	o, sessions := newOrchestrator(rt, em)

	sess, err := sessions.Create(context.Background(), "u1", "chat", "", "m1")
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() {
		first <- o.HandleTurn(context.Background(), "conn1", "u1", sess.ID, "", "first")
	}()
	<-rt.started

	// A second send for the same session is refused without touching the
	// first turn's state.
	err = o.HandleTurn(context.Background(), "conn1", "u1", sess.ID, "", "second")
	require.Error(t, err)
	errs := em.byType(EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "still streaming")

	close(rt.release)
	require.NoError(t, <-first)

	// The first turn completed normally and only its messages persisted.
	require.Len(t, em.byType(EventMessageEnd), 1)
	msgs := sessions.messages[sess.ID]
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "ok", msgs[1].Text)
}

func TestRecoverDeniedForNonOwner(t *testing.T) {
	em := &memEmitter{dropAfter: 3}
	o, _ := newOrchestrator(&scriptRuntime{texts: []string{"one ", "two"}}, em)

	require.NoError(t, o.HandleTurn(context.Background(), "conn1", "u1", "", "", "hello"))
	sessID := em.byType(EventSessionCreated)[0].SessionID

	// Another user probing the session id gets an error, never the buffer.
	em.dropAfter = 0
	o.Recover(context.Background(), "conn2", "u2", sessID)
	assert.Empty(t, em.byType(EventMessageRecovery))
	errs := em.byType(EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "denied")

	// The owner still recovers the full text.
	o.Recover(context.Background(), "conn3", "u1", sessID)
	rec := em.byType(EventMessageRecovery)
	require.Len(t, rec, 1)
	assert.Equal(t, "one two", rec[0].RecoveredText)
}

func TestRecoverWithoutInFlightTurn(t *testing.T) {
	em := &memEmitter{}
	o, _ := newOrchestrator(&scriptRuntime{}, em)

	o.Recover(context.Background(), "conn1", "u1", "nope")
	rec := em.byType(EventMessageRecovery)
	require.Len(t, rec, 1)
	assert.True(t, rec[0].IsComplete)
}

func TestAgentFailureBecomesAssistantMessage(t *testing.T) {
	em := &memEmitter{}
	o, sessions := newOrchestrator(&scriptRuntime{err: errors.New("model unavailable")}, em)

	err := o.HandleTurn(context.Background(), "conn1", "u1", "", "", "hello")
	require.Error(t, err)

	// The failure surfaced as a final chunk and a message_end, and the
	// connection stayed usable.
	chunks := em.byType(EventMessageChunk)
	require.Len(t, chunks, 1)
	assert.NotEmpty(t, chunks[0].Chunk)
	require.Len(t, em.byType(EventMessageEnd), 1)

	sessID := em.byType(EventSessionCreated)[0].SessionID
	msgs := sessions.messages[sessID]
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, chunks[0].Chunk, msgs[1].Text)
}

func TestCorruptedHistoryEvictsAgentAndAdvises(t *testing.T) {
	em := &memEmitter{}
	o, sessions := newOrchestrator(&scriptRuntime{err: errors.New("ValidationException: mixed content types")}, em)

	err := o.HandleTurn(context.Background(), "conn1", "u1", "", "", "hello")
	require.Error(t, err)

	sessID := em.byType(EventSessionCreated)[0].SessionID
	msgs := sessions.messages[sessID]
	require.Len(t, msgs, 2)
	assert.Equal(t, agent.CorruptedHistoryText, msgs[1].Text)

	_, cached := o.agents.Get(sessID)
	assert.False(t, cached)
}

func TestSecondTurnReusesSessionAndSequence(t *testing.T) {
	em := &memEmitter{}
	o, sessions := newOrchestrator(&scriptRuntime{texts: []string{"answer"}}, em)

	require.NoError(t, o.HandleTurn(context.Background(), "conn1", "u1", "", "", "first"))
	sessID := em.byType(EventSessionCreated)[0].SessionID

	require.NoError(t, o.HandleTurn(context.Background(), "conn1", "u1", sessID, "", "second"))

	// No second session; four messages with dense sequences.
	assert.Len(t, em.byType(EventSessionCreated), 1)
	msgs := sessions.messages[sessID]
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, i+1, m.SequenceNumber)
	}

	// Outbound chunk sequence keeps climbing across turns.
	chunks := em.byType(EventMessageChunk)
	require.Len(t, chunks, 2)
	assert.Greater(t, chunks[1].Sequence, chunks[0].Sequence)
}

func TestUpdateModelEvictsCachedAgent(t *testing.T) {
	em := &memEmitter{}
	o, _ := newOrchestrator(&scriptRuntime{texts: []string{"ok"}}, em)

	require.NoError(t, o.HandleTurn(context.Background(), "conn1", "u1", "", "", "hello"))
	sessID := em.byType(EventSessionCreated)[0].SessionID
	_, cached := o.agents.Get(sessID)
	require.True(t, cached)

	require.NoError(t, o.UpdateModel(context.Background(), "conn1", "u1", sessID, "m2"))
	_, cached = o.agents.Get(sessID)
	assert.False(t, cached)

	updated := em.byType(EventSessionModelUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, "m2", updated[0].ModelID)
}

func TestSweepEvictsExpiredTurns(t *testing.T) {
	em := &memEmitter{dropAfter: 3}
	o, sessions := newOrchestrator(&scriptRuntime{texts: []string{"one ", "two"}}, em)
	_ = sessions

	require.NoError(t, o.HandleTurn(context.Background(), "conn1", "u1", "", "", "hello"))
	sessID := em.byType(EventSessionCreated)[0].SessionID

	o.mu.Lock()
	_, present := o.inflight[sessID]
	o.mu.Unlock()
	require.True(t, present)

	o.now = func() time.Time { return time.Now().Add(inFlightTTL + time.Minute) }
	o.sweep()

	o.mu.Lock()
	_, present = o.inflight[sessID]
	o.mu.Unlock()
	assert.False(t, present)
}
