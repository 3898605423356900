package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/meridian/voter-gateway/internal/agent"
	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
)

const (
	// inFlightTTL bounds orphaned turn state under client churn.
	inFlightTTL = 5 * time.Minute

	agentFailureText = "I ran into a problem answering that. Please try again."
)

// Sessions is the session-store surface the orchestrator drives.
type Sessions interface {
	Create(ctx context.Context, userID, name, firstMessage, modelID string) (*domain.Session, error)
	Get(ctx context.Context, userID, sessionID string) (*domain.Session, error)
	Append(ctx context.Context, userID, sessionID string, role domain.MessageRole, text string) (*domain.Message, error)
	History(ctx context.Context, userID, sessionID string, afterSeq int) ([]domain.Message, error)
	SetModel(ctx context.Context, userID, sessionID, modelID string) error
}

// AgentFactory builds a fresh agent for a session; the orchestrator
// seeds history and caches it.
type AgentFactory func(modelID, userID, sessionID string) *agent.Agent

// inFlight is the runtime-only record of one streaming turn. The partial
// buffer accumulates every chunk whether or not the transport is still
// listening, so reconnects can recover the full text.
type inFlight struct {
	sessionID     string
	userMessageID string

	mu           sync.Mutex
	sid          string
	partial      strings.Builder
	lastChunkSeq int
	disconnected bool
	done         bool
	startedAt    time.Time
}

// Orchestrator runs the turn lifecycle: session selection, user-message
// persistence, agent invocation, chunk streaming, recovery.
type Orchestrator struct {
	sessions Sessions
	agents   *agent.Cache
	factory  AgentFactory
	emitter  Emitter

	defaultModel string

	mu       sync.Mutex
	inflight map[string]*inFlight // by session id
	chunkSeq map[string]int       // per-session outbound counter

	now func() time.Time
}

// New wires an orchestrator.
func New(sessions Sessions, agents *agent.Cache, factory AgentFactory, emitter Emitter, defaultModel string) *Orchestrator {
	return &Orchestrator{
		sessions:     sessions,
		agents:       agents,
		factory:      factory,
		emitter:      emitter,
		defaultModel: defaultModel,
		inflight:     make(map[string]*inFlight),
		chunkSeq:     make(map[string]int),
		now:          time.Now,
	}
}

// HandleTurn runs one user turn end to end. Failures never propagate to
// the transport as anything but events; the returned error is for logs
// only.
func (o *Orchestrator) HandleTurn(ctx context.Context, sid, userID, sessionID, modelID, userText string) error {
	sess, err := o.resolveSession(ctx, sid, userID, sessionID, modelID, userText)
	if err != nil {
		o.emitter.Emit(sid, Event{Type: EventError, Error: err.Error()})
		return err
	}

	// One streaming turn per session: a second send while the first is
	// still producing is refused, so its recovery buffer survives.
	turn := &inFlight{
		sessionID: sess.ID,
		sid:       sid,
		startedAt: o.now(),
	}
	o.mu.Lock()
	if cur, exists := o.inflight[sess.ID]; exists {
		cur.mu.Lock()
		active := !cur.done
		cur.mu.Unlock()
		if active {
			o.mu.Unlock()
			o.emitter.Emit(sid, Event{
				Type:      EventError,
				SessionID: sess.ID,
				Error:     "a response is still streaming in this session; wait for it to finish",
			})
			return errors.New("turn already in flight for session " + sess.ID)
		}
	}
	o.inflight[sess.ID] = turn
	o.mu.Unlock()

	userMsg, err := o.sessions.Append(ctx, userID, sess.ID, domain.RoleUser, userText)
	if err != nil {
		o.mu.Lock()
		if o.inflight[sess.ID] == turn {
			delete(o.inflight, sess.ID)
		}
		o.mu.Unlock()
		o.emitter.Emit(sid, Event{Type: EventError, SessionID: sess.ID, Error: "could not record your message"})
		return err
	}
	turn.mu.Lock()
	turn.userMessageID = userMsg.ID
	turn.mu.Unlock()
	o.emitter.Emit(sid, Event{
		Type:           EventMessageConfirmed,
		SessionID:      sess.ID,
		MessageID:      userMsg.ID,
		MessageType:    "user",
		SequenceNumber: userMsg.SequenceNumber,
	})

	ag, err := o.acquireAgent(ctx, userID, sess, userMsg.SequenceNumber)
	if err != nil {
		logger.Error("building agent failed", "session_id", sess.ID, "error", err.Error())
		o.streamChunk(sess.ID, turn, agentFailureText)
		o.finishTurn(ctx, userID, sess.ID, turn, agentFailureText)
		return err
	}

	text, respErr := ag.Respond(ctx, userText, func(chunk string) {
		o.streamChunk(sess.ID, turn, chunk)
	})
	if respErr != nil {
		if errors.Is(respErr, agent.ErrCorruptedHistory) {
			o.agents.Evict(sess.ID)
			text = agent.CorruptedHistoryText
		} else {
			text = agentFailureText
		}
		logger.Error("agent turn failed", "session_id", sess.ID, "error", respErr.Error())
		// The failure text still reaches the client as a final chunk.
		o.streamChunk(sess.ID, turn, text)
	}

	o.finishTurn(ctx, userID, sess.ID, turn, text)
	return respErr
}

// Recover answers a reconnecting client. An in-flight turn yields its
// partial buffer with is_complete=false and re-attaches the new
// connection; otherwise the stream already finished and the client
// should reload from the session store. The buffer is released only to
// the session's owner.
func (o *Orchestrator) Recover(ctx context.Context, sid, userID, sessionID string) {
	o.mu.Lock()
	turn, ok := o.inflight[sessionID]
	o.mu.Unlock()

	if !ok {
		o.emitter.Emit(sid, Event{
			Type:       EventMessageRecovery,
			SessionID:  sessionID,
			IsComplete: true,
		})
		return
	}

	if _, err := o.sessions.Get(ctx, userID, sessionID); err != nil {
		o.emitter.Emit(sid, Event{Type: EventError, SessionID: sessionID, Error: "session access denied"})
		return
	}

	turn.mu.Lock()
	text := turn.partial.String()
	msgID := turn.userMessageID
	done := turn.done
	if !done {
		turn.sid = sid
		turn.disconnected = false
	}
	turn.mu.Unlock()

	if done {
		o.mu.Lock()
		if o.inflight[sessionID] == turn {
			delete(o.inflight, sessionID)
		}
		o.mu.Unlock()
	}

	o.emitter.Emit(sid, Event{
		Type:          EventMessageRecovery,
		SessionID:     sessionID,
		MessageID:     msgID,
		RecoveredText: text,
	})
}

// UpdateModel switches a session's model and drops its cached agent so
// the next turn rebuilds against the new model.
func (o *Orchestrator) UpdateModel(ctx context.Context, sid, userID, sessionID, modelID string) error {
	if err := o.sessions.SetModel(ctx, userID, sessionID, modelID); err != nil {
		o.emitter.Emit(sid, Event{Type: EventError, SessionID: sessionID, Error: "could not update model"})
		return err
	}
	o.agents.Evict(sessionID)
	o.emitter.Emit(sid, Event{
		Type:      EventSessionModelUpdated,
		SessionID: sessionID,
		ModelID:   modelID,
	})
	return nil
}

// Disconnected marks every turn bound to the connection so emission
// stops; consumption continues for later recovery.
func (o *Orchestrator) Disconnected(sid string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, turn := range o.inflight {
		turn.mu.Lock()
		if turn.sid == sid {
			turn.disconnected = true
		}
		turn.mu.Unlock()
	}
}

// StartGC evicts expired in-flight turns on a timer until ctx ends.
func (o *Orchestrator) StartGC(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.sweep()
			}
		}
	}()
}

func (o *Orchestrator) sweep() {
	cutoff := o.now().Add(-inFlightTTL)
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, turn := range o.inflight {
		turn.mu.Lock()
		expired := turn.startedAt.Before(cutoff)
		turn.mu.Unlock()
		if expired {
			delete(o.inflight, id)
		}
	}
}

func (o *Orchestrator) resolveSession(ctx context.Context, sid, userID, sessionID, modelID, userText string) (*domain.Session, error) {
	if modelID == "" {
		modelID = o.defaultModel
	}
	if sessionID == "" {
		sess, err := o.sessions.Create(ctx, userID, "", userText, modelID)
		if err != nil {
			return nil, err
		}
		o.emitter.Emit(sid, Event{
			Type:        EventSessionCreated,
			SessionID:   sess.ID,
			SessionName: sess.Name,
		})
		return sess, nil
	}
	return o.sessions.Get(ctx, userID, sessionID)
}

// acquireAgent returns the session's cached agent, rebuilding it when the
// model changed. A fresh agent is seeded with the persisted history up to
// but excluding the user message just appended, which Respond adds itself.
func (o *Orchestrator) acquireAgent(ctx context.Context, userID string, sess *domain.Session, beforeSeq int) (*agent.Agent, error) {
	if ag, ok := o.agents.Get(sess.ID); ok {
		if ag.ModelID() == sess.ModelID {
			return ag, nil
		}
		o.agents.Evict(sess.ID)
	}

	history, err := o.sessions.History(ctx, userID, sess.ID, 0)
	if err != nil {
		return nil, err
	}
	var prior []domain.Message
	for _, m := range history {
		if m.SequenceNumber < beforeSeq {
			prior = append(prior, m)
		}
	}

	ag := o.factory(sess.ModelID, userID, sess.ID)
	ag.SeedHistory(prior)
	o.agents.Put(sess.ID, ag)
	return ag, nil
}

// streamChunk buffers one chunk and forwards it while the transport is
// still attached.
func (o *Orchestrator) streamChunk(sessionID string, turn *inFlight, chunk string) {
	o.mu.Lock()
	o.chunkSeq[sessionID]++
	seq := o.chunkSeq[sessionID]
	o.mu.Unlock()

	turn.mu.Lock()
	turn.partial.WriteString(chunk)
	turn.lastChunkSeq = seq
	sid := turn.sid
	skip := turn.disconnected
	turn.mu.Unlock()

	if skip {
		return
	}
	delivered := o.emitter.Emit(sid, Event{
		Type:      EventMessageChunk,
		SessionID: sessionID,
		MessageID: turn.userMessageID,
		Chunk:     chunk,
		Sequence:  seq,
	})
	if !delivered {
		turn.mu.Lock()
		turn.disconnected = true
		turn.mu.Unlock()
	}
}

// finishTurn persists the assistant text, emits message_end when the
// client is still attached, and clears the in-flight record. A turn
// whose client vanished stays registered (marked done) so recovery can
// return the full text within the TTL.
func (o *Orchestrator) finishTurn(ctx context.Context, userID, sessionID string, turn *inFlight, text string) {
	asst, err := o.sessions.Append(ctx, userID, sessionID, domain.RoleAssistant, text)
	if err != nil {
		logger.Error("persisting assistant message failed", "session_id", sessionID, "error", err.Error())
	}

	turn.mu.Lock()
	turn.done = true
	sid := turn.sid
	skip := turn.disconnected
	turn.mu.Unlock()

	if skip {
		return
	}

	ev := Event{Type: EventMessageEnd, SessionID: sessionID}
	if asst != nil {
		ev.MessageID = asst.ID
		ev.SequenceNumber = asst.SequenceNumber
	}
	o.emitter.Emit(sid, ev)

	o.mu.Lock()
	if o.inflight[sessionID] == turn {
		delete(o.inflight, sessionID)
	}
	o.mu.Unlock()
}
