package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/serenelabs/voicelink/domain/repositories"
)

// mockReplies are rotated in order so a scripted conversation is
// reproducible end to end.
var mockReplies = []string{
	"Thank you for sharing that with me. How did it feel when it happened?",
	"That sounds like a lot to carry. I'm listening.",
	"I hear you. What do you think you need most right now?",
	"It makes sense that you'd feel that way. Tell me more.",
}

// MockResponder is a deterministic Responder for development and tests
type MockResponder struct {
	mu   sync.Mutex
	next int
}

// NewMockResponder creates a new mock responder
func NewMockResponder() repositories.Responder {
	return &MockResponder{}
}

// Respond implements repositories.Responder
func (m *MockResponder) Respond(ctx context.Context, history []repositories.Turn, userInput string) (repositories.Reply, error) {
	if err := ctx.Err(); err != nil {
		return repositories.Reply{}, err
	}

	var text string
	if strings.TrimSpace(userInput) == "" {
		text = "Hello. I'm here whenever you're ready to talk."
	} else {
		m.mu.Lock()
		text = mockReplies[m.next%len(mockReplies)]
		m.next++
		m.mu.Unlock()
	}

	return repositories.Reply{
		Text:     text,
		Emotions: ScoreProsody(fmt.Sprintf("%s %s", userInput, text)),
	}, nil
}
