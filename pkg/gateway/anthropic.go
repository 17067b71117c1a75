package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/utils"
)

const (
	defaultModel       = "claude-sonnet-4-5"
	defaultMaxTokens   = 1024
	defaultTimeout     = 60 * time.Second
	defaultMemoryTurns = 40
)

// AnthropicConfig holds the tunables for the Anthropic-backed gateway.
type AnthropicConfig struct {
	Model     string
	MaxTokens int
	System    string
	// Timeout bounds one invocation including the full stream drain.
	Timeout time.Duration
	// MaxMemoryTurns caps the transcript replayed per continuation token;
	// older turns are dropped from the front.
	MaxMemoryTurns int
}

// AnthropicGateway adapts the streaming Messages API to the single-shot
// Agent interface. The upstream service keeps no memory between calls, so
// the gateway maintains it: the continuation token keys a transcript that
// is replayed on the next invocation of the same session.
type AnthropicGateway struct {
	client      anthropic.Client
	cfg         AnthropicConfig
	transcripts TranscriptStore
}

// NewAnthropicGateway builds a gateway using the given API key. Zero config
// values select defaults.
func NewAnthropicGateway(apiKey string, cfg AnthropicConfig, transcripts TranscriptStore) *AnthropicGateway {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxMemoryTurns <= 0 {
		cfg.MaxMemoryTurns = defaultMemoryTurns
	}
	if transcripts == nil {
		transcripts = NewMapTranscriptStore()
	}
	return &AnthropicGateway{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		cfg:         cfg,
		transcripts: transcripts,
	}
}

// Invoke sends the question plus the token's transcript and drains the
// streamed response into one answer. Transport or API errors surface as
// ErrGatewayFailure; a successful call with no content returns the
// empty-result marker instead of an error. No internal retries.
func (g *AnthropicGateway) Invoke(ctx context.Context, req Request) (Result, error) {
	turns, err := g.transcripts.Load(req.MemoryID)
	if err != nil {
		return Result{}, fmt.Errorf("load transcript: %w", err)
	}

	msgs := make([]anthropic.MessageParam, 0, len(turns)+1)
	for _, t := range turns {
		switch t.Role {
		case "assistant":
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Text)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text)))
		}
	}
	msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Question)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.cfg.Model),
		MaxTokens: int64(g.cfg.MaxTokens),
		Messages:  msgs,
	}
	if g.cfg.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: g.cfg.System}}
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	stream := g.client.Messages.NewStreaming(ctx, params)
	var acc anthropic.Message
	for stream.Next() {
		if err := acc.Accumulate(stream.Current()); err != nil {
			return Result{}, fmt.Errorf("%w: accumulate stream: %v", ErrGatewayFailure, err)
		}
	}
	if err := stream.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}

	var sb strings.Builder
	for _, block := range acc.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	answer := sb.String()
	if answer == "" {
		// success with no content: explicit empty-result marker
		return Result{MemoryID: req.MemoryID}, nil
	}

	token := req.MemoryID
	if token == "" {
		token = utils.NewMemoryID()
	}
	turns = append(turns, Turn{Role: "user", Text: req.Question}, Turn{Role: "assistant", Text: answer})
	if len(turns) > g.cfg.MaxMemoryTurns {
		turns = turns[len(turns)-g.cfg.MaxMemoryTurns:]
	}
	if err := g.transcripts.Save(token, turns); err != nil {
		// the answer is still good; continuation just degrades
		logger.Warn("transcript_save_failed", "token", token, "session", req.SessionID, "error", err)
	}

	return Result{Answer: answer, MemoryID: token}, nil
}
