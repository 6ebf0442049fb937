package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicerag/backend/internal/persona"
)

func intentRegistry(t *testing.T) *persona.Registry {
	t.Helper()

	r, err := persona.NewRegistry(map[string]string{
		"default": "neutral",
		"maya":    "warm",
	}, "default")
	require.NoError(t, err)
	return r
}

func TestClassifyIntent(t *testing.T) {
	reg := intentRegistry(t)

	tests := []struct {
		utterance string
		intent    Intent
		persona   string
	}{
		{"how do refunds work?", IntentQuestion, ""},
		{"write a tweet about refunds", IntentSocialPost, ""},
		{"make a post for LinkedIn about our launch", IntentSocialPost, ""},
		{"answer in maya's voice", IntentPersonaStyled, "maya"},
		{"answer in the style of a pirate", IntentPersonaStyled, ""},
		{"use a different persona for this", IntentPersonaStyled, ""},
		// Social wins over persona phrasing; the persona still carries.
		{"write a tweet in maya's voice", IntentSocialPost, "maya"},
	}

	for _, tc := range tests {
		intent, name := classifyIntent(tc.utterance, reg)
		assert.Equal(t, tc.intent, intent, tc.utterance)
		assert.Equal(t, tc.persona, name, tc.utterance)
	}
}

func TestClassifyIntentIsIdempotent(t *testing.T) {
	reg := intentRegistry(t)

	first, firstName := classifyIntent("answer in maya's voice", reg)
	for i := 0; i < 3; i++ {
		again, name := classifyIntent("answer in maya's voice", reg)
		assert.Equal(t, first, again)
		assert.Equal(t, firstName, name)
	}
}
