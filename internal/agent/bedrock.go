package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
)

const (
	defaultMaxTokens  = 4000
	defaultTemp       = 0.3
	anthropicVersion  = "bedrock-2023-05-31"
	maxToolRounds     = 8
	defaultBedrockReg = "us-east-1"
)

// ChunkStream yields raw model output chunks until io.EOF.
type ChunkStream interface {
	Next() ([]byte, error)
	Close() error
}

// Runtime abstracts the model backend so the tool loop is testable
// without AWS.
type Runtime interface {
	Invoke(ctx context.Context, modelID string, body []byte) ([]byte, error)
	InvokeStream(ctx context.Context, modelID string, body []byte) (ChunkStream, error)
}

// BedrockRuntime is the AWS-backed Runtime.
type BedrockRuntime struct {
	client *bedrockruntime.Client
}

// NewBedrockRuntime loads default AWS config for the given region.
func NewBedrockRuntime(ctx context.Context, region string) (*BedrockRuntime, error) {
	if region == "" {
		region = defaultBedrockReg
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &BedrockRuntime{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (r *BedrockRuntime) Invoke(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	out, err := r.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke: %w", err)
	}
	return out.Body, nil
}

func (r *BedrockRuntime) InvokeStream(ctx context.Context, modelID string, body []byte) (ChunkStream, error) {
	out, err := r.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke stream: %w", err)
	}
	return &bedrockStream{reader: out.GetStream()}, nil
}

type bedrockStream struct {
	reader *bedrockruntime.InvokeModelWithResponseStreamEventStream
}

func (s *bedrockStream) Next() ([]byte, error) {
	ev, ok := <-s.reader.Events()
	if !ok {
		if err := s.reader.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	chunk, ok := ev.(*brtypes.ResponseStreamMemberChunk)
	if !ok {
		// Unknown event kinds carry no payload; skip to the next one.
		return s.Next()
	}
	return chunk.Value.Bytes, nil
}

func (s *bedrockStream) Close() error { return s.reader.Close() }

// Agent holds one session's conversation with the model and runs the
// tool loop. Not safe for concurrent use; the orchestrator serializes
// turns per session.
type Agent struct {
	runtime Runtime
	tools   *Toolset

	modelID     string
	system      string
	maxTokens   int
	temperature float64

	userID    string
	sessionID string

	history []AnthropicMessage
}

// NewAgent builds an agent for one session.
func NewAgent(runtime Runtime, tools *Toolset, modelID, system, userID, sessionID string) *Agent {
	return &Agent{
		runtime:     runtime,
		tools:       tools,
		modelID:     modelID,
		system:      system,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemp,
		userID:      userID,
		sessionID:   sessionID,
	}
}

// ModelID reports which model this agent was built for, so callers can
// rebuild it when the session's model changes.
func (a *Agent) ModelID() string { return a.modelID }

// SeedHistory replays persisted session messages into the agent's
// context. Call once, before the first Respond.
func (a *Agent) SeedHistory(msgs []domain.Message) {
	for _, m := range msgs {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "assistant"
		}
		a.history = append(a.history, AnthropicMessage{
			Role:    role,
			Content: []ContentBlock{{Type: "text", Text: m.Text}},
		})
	}
}

// Respond runs one full turn: user text in, assistant text out, with as
// many tool rounds as the model requests. Text deltas are delivered to
// onChunk as they arrive; the return value is the normalized complete
// text. ErrCorruptedHistory means this agent must be discarded.
func (a *Agent) Respond(ctx context.Context, userText string, onChunk func(string)) (string, error) {
	a.history = append(a.history, AnthropicMessage{
		Role:    "user",
		Content: []ContentBlock{{Type: "text", Text: userText}},
	})

	norm := NewNormalizer()
	for round := 0; round < maxToolRounds; round++ {
		turn, err := a.streamTurn(ctx, norm, onChunk)
		if err != nil {
			if isCorruptedHistoryErr(err) {
				return "", ErrCorruptedHistory
			}
			return "", err
		}

		if turn.stopReason != "tool_use" || len(turn.toolUses) == 0 {
			// History records the normalized text, i.e. what the user saw.
			final := norm.Final()
			a.history = append(a.history, AnthropicMessage{
				Role:    "assistant",
				Content: []ContentBlock{{Type: "text", Text: final}},
			})
			return final, nil
		}

		assistant := AnthropicMessage{Role: "assistant"}
		if turn.text != "" {
			assistant.Content = append(assistant.Content, ContentBlock{Type: "text", Text: turn.text})
		}
		assistant.Content = append(assistant.Content, turn.toolUses...)
		a.history = append(a.history, assistant)

		results := AnthropicMessage{Role: "user"}
		for _, tu := range turn.toolUses {
			out, err := a.tools.Execute(ctx, a.userID, a.sessionID, tu.Name, tu.Input)
			block := ContentBlock{Type: "tool_result", ToolUseID: tu.ID}
			if err != nil {
				block.Content = err.Error()
				block.IsError = true
				logger.Warn("tool call failed", "tool", tu.Name, "session_id", a.sessionID, "error", err.Error())
			} else {
				block.Content = out
			}
			results.Content = append(results.Content, block)
		}
		a.history = append(a.history, results)
	}

	return "", fmt.Errorf("tool loop exceeded %d rounds", maxToolRounds)
}

// turnOutput is one model stream's assembled result.
type turnOutput struct {
	text       string
	toolUses   []ContentBlock
	stopReason string
}

// streamTurn invokes the model once and folds the stream: text deltas go
// to the normalizer and onChunk, tool_use blocks accumulate their
// input_json_delta fragments until content_block_stop.
func (a *Agent) streamTurn(ctx context.Context, norm *Normalizer, onChunk func(string)) (*turnOutput, error) {
	body, err := json.Marshal(AnthropicRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        a.maxTokens,
		System:           a.system,
		Messages:         a.history,
		Tools:            toAnthropicTools(a.tools.Definitions()),
		Temperature:      a.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	stream, err := a.runtime.InvokeStream(ctx, a.modelID, body)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	out := &turnOutput{}
	var text strings.Builder
	openTools := map[int]*toolAccum{}

	for {
		raw, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		var ev streamEvent
		if jsonErr := json.Unmarshal(raw, &ev); jsonErr != nil {
			// Not an event envelope; let the normalizer decide.
			if err := norm.Feed(raw); err != nil {
				return nil, err
			}
			continue
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				openTools[ev.Index] = &toolAccum{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			}
		case "content_block_delta":
			if ev.Delta.Type == "input_json_delta" {
				if acc, ok := openTools[ev.Index]; ok {
					acc.input.WriteString(ev.Delta.PartialJSON)
				}
				continue
			}
			if err := norm.Feed(raw); err != nil {
				return nil, err
			}
			if ev.Delta.Text != "" {
				text.WriteString(ev.Delta.Text)
				if onChunk != nil {
					onChunk(ev.Delta.Text)
				}
			}
		case "content_block_stop":
			if acc, ok := openTools[ev.Index]; ok {
				input := acc.input.String()
				if input == "" {
					input = "{}"
				}
				out.toolUses = append(out.toolUses, ContentBlock{
					Type:  "tool_use",
					ID:    acc.id,
					Name:  acc.name,
					Input: json.RawMessage(input),
				})
				delete(openTools, ev.Index)
				continue
			}
			if err := norm.Feed(raw); err != nil {
				return nil, err
			}
		case "message_delta":
			if ev.Delta.StopReason != "" {
				out.stopReason = ev.Delta.StopReason
			}
		case "error":
			return nil, errors.New(ev.Message)
		default:
			if err := norm.Feed(raw); err != nil {
				return nil, err
			}
		}
	}

	out.text = text.String()
	return out, nil
}

type toolAccum struct {
	id    string
	name  string
	input strings.Builder
}

// streamEvent is the Anthropic stream envelope, superset of the fields
// each event kind carries.
type streamEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	Message      string `json:"message,omitempty"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
}
