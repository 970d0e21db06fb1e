// Package agent implements the conversational agents that script the show:
// a base agent wrapping persona + history, a host specialization that selects
// topics and plans episodes, and guest specializations that argue with it.
package agent

import (
	"context"

	"github.com/KeLuoJun/MindCast/internal/podcast"
)

// ChatService is the narrow LLM contract agents depend on.
type ChatService interface {
	Chat(ctx context.Context, turns []podcast.ConversationTurn, temperature float32, maxTokens int) (string, error)
}

// Agent wraps one persona: a system prompt plus an optional private message
// history for calls made outside the shared episode transcript.
type Agent struct {
	name         string
	systemPrompt string
	llm          ChatService
	history      []podcast.ConversationTurn
}

// NewAgent builds a bare agent. Host/guest constructors are the usual entry
// points; this exists for tests and custom personas.
func NewAgent(name, systemPrompt string, llm ChatService) *Agent {
	return &Agent{name: name, systemPrompt: systemPrompt, llm: llm}
}

// Name returns the agent's persona name.
func (a *Agent) Name() string { return a.name }

// Produce runs one exchange against the agent's private history and appends
// exactly one user turn and one assistant turn to it.
func (a *Agent) Produce(ctx context.Context, userMessage string, temperature float32, maxTokens int) (string, error) {
	reply, err := a.complete(ctx, a.history, userMessage, temperature, maxTokens)
	if err != nil {
		return "", err
	}
	a.history = append(a.history,
		podcast.ConversationTurn{Role: podcast.RoleUser, Content: userMessage},
		podcast.ConversationTurn{Role: podcast.RoleAssistant, Content: reply},
	)
	return reply, nil
}

// ProduceShared runs one exchange against an externally owned history (the
// shared episode transcript). The private history is never touched in this
// mode; persisting the exchange would duplicate state across agents.
func (a *Agent) ProduceShared(ctx context.Context, shared []podcast.ConversationTurn, userMessage string, temperature float32, maxTokens int) (string, error) {
	return a.complete(ctx, shared, userMessage, temperature, maxTokens)
}

func (a *Agent) complete(ctx context.Context, history []podcast.ConversationTurn, userMessage string, temperature float32, maxTokens int) (string, error) {
	turns := make([]podcast.ConversationTurn, 0, len(history)+2)
	turns = append(turns, podcast.ConversationTurn{Role: podcast.RoleSystem, Content: a.systemPrompt})
	turns = append(turns, history...)
	turns = append(turns, podcast.ConversationTurn{Role: podcast.RoleUser, Content: userMessage})
	return a.llm.Chat(ctx, turns, temperature, maxTokens)
}

// ResetHistory clears the private history. Must be called between episodes
// that reuse the same agent instance, or state leaks across runs.
func (a *Agent) ResetHistory() {
	a.history = a.history[:0]
}

// History returns a copy of the private history.
func (a *Agent) History() []podcast.ConversationTurn {
	out := make([]podcast.ConversationTurn, len(a.history))
	copy(out, a.history)
	return out
}
