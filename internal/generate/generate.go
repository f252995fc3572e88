// Package generate produces answers from retrieved context with a chat
// model.
package generate

import (
	"context"
	"strings"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SystemPrompt frames every answer. The retrieved context is appended.
const SystemPrompt = `You are a helpful assistant answering questions about a document or audio transcript.
Use the following context from the document/transcript and the conversation history to answer questions.
If you don't know the answer based on the context, just say that you don't know.

Context from document: `

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is everything the model sees for one answer.
type Prompt struct {
	Question string
	Context  string
	History  []Message
}

// Messages renders p as chat messages: system prompt with context, the
// user/assistant history, then the question. System turns in History are
// dropped.
func (p Prompt) Messages() []Message {
	msgs := make([]Message, 0, len(p.History)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: SystemPrompt + p.Context})
	for _, m := range p.History {
		if m.Role == RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		msgs = append(msgs, m)
	}
	return append(msgs, Message{Role: RoleUser, Content: p.Question})
}

// Generator answers prompts.
type Generator interface {
	// Generate returns the whole answer.
	Generate(ctx context.Context, p Prompt) (string, error)

	// Stream delivers the answer in order as fragments. An error from fn
	// stops delivery and is returned.
	Stream(ctx context.Context, p Prompt, fn func(fragment string) error) error
}
