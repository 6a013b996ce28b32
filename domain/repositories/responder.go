package repositories

import "context"

// Reply is one assistant turn produced by a Responder: the spoken text and
// the prosody analysis of how it should sound
type Reply struct {
	Text     string             `json:"text"`
	Emotions map[string]float64 `json:"emotions"`
}

// Turn represents a single message in the conversation history
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role defines the type of message sender
type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
	SystemRole    Role = "system"
)

// Responder abstracts the conversational model behind a voice session
type Responder interface {
	// Respond produces the assistant's reply to the latest user turn given
	// the conversation so far
	Respond(ctx context.Context, history []Turn, userInput string) (Reply, error)
}
