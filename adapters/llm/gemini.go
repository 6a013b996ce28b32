package llm

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/serenelabs/voicelink/domain/repositories"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.7
	defaultTopP           = 0.95
	defaultMaxTokens      = 512
	defaultTimeoutSeconds = 30
)

// systemPrompt steers the model toward short, spoken, emotionally aware
// replies suitable for a voice companion.
const systemPrompt = `You are a warm, attentive voice companion. Listen closely,
reflect what the speaker seems to feel, and answer in one or two short spoken
sentences. Never produce lists, markdown, or stage directions.`

var fallbackReplies = []string{
	"I'm here with you. Could you say that again?",
	"I didn't quite catch that, but I'm listening.",
	"Take your time. I'm not going anywhere.",
}

// GeminiResponder produces assistant turns using Google's Gemini API
type GeminiResponder struct {
	client          *genai.Client
	logger          *zap.Logger
	model           string
	temperature     float32
	topP            float32
	maxOutputTokens int
	timeoutSeconds  int
}

// NewGeminiResponder creates a Gemini-backed responder
func NewGeminiResponder(logger *zap.Logger) (*GeminiResponder, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiResponder{
		client:          client,
		logger:          logger,
		model:           defaultModel,
		temperature:     defaultTemperature,
		topP:            defaultTopP,
		maxOutputTokens: defaultMaxTokens,
		timeoutSeconds:  defaultTimeoutSeconds,
	}, nil
}

// Respond implements repositories.Responder
func (g *GeminiResponder) Respond(ctx context.Context, history []repositories.Turn, userInput string) (repositories.Reply, error) {
	// Prepare contents for the API call (system prompt + history + current turn)
	var contents []*genai.Content
	contents = append(contents, genai.NewContentFromText(systemPrompt, genai.RoleUser))
	contents = append(contents, convertHistory(history)...)
	contents = append(contents, genai.NewContentFromText(userInput, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.temperature),
		TopP:            genai.Ptr(g.topP),
		MaxOutputTokens: int32(g.maxOutputTokens),
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(g.timeoutSeconds)*time.Second)
	defer cancel()

	// Retry transient API failures before falling back
	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err == nil {
			break
		}

		g.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < 2 {
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
	}

	if err != nil {
		g.logger.Error("Failed to generate response", zap.Error(err))
		return g.fallbackReply(), nil // Return fallback instead of error
	}

	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		g.logger.Warn("No content generated")
		return g.fallbackReply(), nil
	}

	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	if text == "" {
		g.logger.Warn("Empty response from model")
		return g.fallbackReply(), nil
	}

	g.logger.Info("Generated assistant reply",
		zap.String("user_preview", preview(userInput)),
		zap.String("reply_preview", preview(text)))

	return repositories.Reply{
		Text:     text,
		Emotions: ScoreProsody(text),
	}, nil
}

func (g *GeminiResponder) fallbackReply() repositories.Reply {
	// Simple pseudo-random selection based on current time
	index := int(time.Now().UnixNano()) % len(fallbackReplies)
	text := fallbackReplies[index]
	return repositories.Reply{
		Text:     text,
		Emotions: ScoreProsody(text),
	}
}

func preview(s string) string {
	if len(s) > 50 {
		return s[:50]
	}
	return s
}

// convertHistory converts conversation turns to Gemini content
func convertHistory(turns []repositories.Turn) []*genai.Content {
	var contents []*genai.Content

	for _, turn := range turns {
		var role genai.Role
		switch turn.Role {
		case repositories.AssistantRole:
			role = genai.RoleModel
		default:
			// System turns ride along as user content; Gemini has no
			// separate system role in the contents list
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}

	return contents
}
