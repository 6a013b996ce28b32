package stream

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// maxRankedEmotions is how many emotion scores are retained per message.
const maxRankedEmotions = 5

// Role identifies the sender of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// EmotionScore is a named confidence value in [0, 1] describing the strength
// of a detected emotional signal.
type EmotionScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// ChatMessage is a transcribed or generated conversation turn received from
// the remote service. Emotions holds at most the top five scores, ranked
// descending.
type ChatMessage struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Emotions  []EmotionScore `json:"emotions,omitempty"`
}

// userMessage is the outbound wire form of a text turn.
type userMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// audioInput is the outbound wire form of a captured audio frame.
type audioInput struct {
	Type      string  `json:"type"`
	Data      []int16 `json:"data"`
	Timestamp int64   `json:"timestamp"`
}

// Inbound frame types understood by the dispatcher. Anything else is dropped.
const (
	frameTypeUserMessage      = "user_message"
	frameTypeAssistantMessage = "assistant_message"
	frameTypeAudioOutput      = "audio_output"
	frameTypeAudioInput       = "audio_input"
)

// prosodyScores is a score map decoded with its wire ordering preserved, so
// that ranking ties break on original order.
type prosodyScores []EmotionScore

func (p *prosodyScores) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("prosody scores must be an object, got %v", tok)
	}

	var scores []EmotionScore
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected prosody score key %v", keyTok)
		}
		var score float64
		if err := dec.Decode(&score); err != nil {
			return fmt.Errorf("invalid score for %q: %w", name, err)
		}
		scores = append(scores, EmotionScore{Name: name, Score: score})
	}

	*p = scores
	return nil
}

// inboundFrame is the superset of fields the remote service sends on any
// text frame. Content extraction prefers the nested message body and falls
// back to the top-level field.
type inboundFrame struct {
	Type    string `json:"type"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Timestamp *int64 `json:"timestamp"`
	Models    *struct {
		Prosody *struct {
			Scores prosodyScores `json:"scores"`
		} `json:"prosody"`
	} `json:"models"`
	Data string `json:"data"`
}

// inboundEvent is a classified inbound frame.
type inboundEvent struct {
	Type  string
	Chat  *ChatMessage
	Audio []byte
}

// parseInbound decodes a raw transport payload into a classified event.
// receivedAt supplies the timestamp fallback for frames that omit one.
// Unknown frame types come back with Chat and Audio unset; the dispatcher
// drops them.
func parseInbound(data []byte, receivedAt time.Time) (*inboundEvent, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("invalid inbound payload: %w", err)
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("inbound payload missing type")
	}

	switch frame.Type {
	case frameTypeUserMessage, frameTypeAssistantMessage:
		chat := &ChatMessage{
			Role:      frame.Role,
			Content:   frame.Content,
			Timestamp: receivedAt,
		}
		if frame.Message != nil && frame.Message.Content != "" {
			chat.Content = frame.Message.Content
		}
		if frame.Timestamp != nil {
			chat.Timestamp = time.UnixMilli(*frame.Timestamp)
		}
		if frame.Models != nil && frame.Models.Prosody != nil {
			chat.Emotions = rankEmotions(frame.Models.Prosody.Scores)
		}
		return &inboundEvent{Type: frame.Type, Chat: chat}, nil

	case frameTypeAudioOutput:
		audio, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid audio payload: %w", err)
		}
		return &inboundEvent{Type: frame.Type, Audio: audio}, nil

	default:
		return &inboundEvent{Type: frame.Type}, nil
	}
}

// rankEmotions sorts scores descending and keeps the top five. The sort is
// stable so that equal scores keep their wire order.
func rankEmotions(scores []EmotionScore) []EmotionScore {
	if len(scores) == 0 {
		return nil
	}
	ranked := make([]EmotionScore, len(scores))
	copy(ranked, scores)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > maxRankedEmotions {
		ranked = ranked[:maxRankedEmotions]
	}
	return ranked
}
