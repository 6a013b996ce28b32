package llm

import "strings"

// emotionLexicon maps cue words to the emotions they raise. Deliberately
// small; this is a stand-in prosody model for environments without a real
// expression-analysis service.
var emotionLexicon = map[string][]string{
	"joy":      {"glad", "great", "wonderful", "happy", "love", "enjoy"},
	"sadness":  {"sorry", "hard", "loss", "miss", "difficult", "alone"},
	"anxiety":  {"worry", "worried", "nervous", "afraid", "stress", "overwhelm"},
	"surprise": {"wow", "really", "unexpected", "suddenly"},
	"interest": {"tell", "curious", "more", "wonder", "listening"},
}

// baselineScores is the resting profile of a calm, attentive voice.
var baselineScores = map[string]float64{
	"calmness":      0.62,
	"interest":      0.41,
	"contemplation": 0.33,
	"satisfaction":  0.24,
	"joy":           0.18,
	"concentration": 0.12,
}

// ScoreProsody derives a deterministic emotion score map from reply text.
// The same text always yields the same scores, which keeps conversation
// recordings and tests reproducible.
func ScoreProsody(text string) map[string]float64 {
	scores := make(map[string]float64, len(baselineScores))
	for name, score := range baselineScores {
		scores[name] = score
	}

	lower := strings.ToLower(text)
	for emotion, cues := range emotionLexicon {
		for _, cue := range cues {
			if strings.Contains(lower, cue) {
				scores[emotion] += 0.25
				if scores[emotion] > 1 {
					scores[emotion] = 1
				}
				break
			}
		}
	}

	return scores
}
