package conversation

import (
	"strings"

	"github.com/voicerag/backend/internal/persona"
)

// Keyword lists mirror the bot's production vocabulary for spotting
// social-post requests and persona-voiced requests.
var socialKeywords = []string{
	"tweet", "twitter", "social media", "linkedin", "facebook",
	"instagram", "make a post", "create a post", "write a post",
}

var personaPhrases = []string{
	"voice", "in the style", "speak as", "sound like", "persona",
}

// classifyIntent is idempotent: it looks only at the utterance text and the
// fixed registry, so re-running it can never flip a resolved persona.
func classifyIntent(utterance string, reg *persona.Registry) (Intent, string) {
	lower := strings.ToLower(utterance)

	name, mentioned := reg.DetectMention(utterance)

	for _, kw := range socialKeywords {
		if strings.Contains(lower, kw) {
			return IntentSocialPost, name
		}
	}

	if mentioned {
		return IntentPersonaStyled, name
	}

	for _, phrase := range personaPhrases {
		if strings.Contains(lower, phrase) {
			// Persona-voiced answer requested but no resolvable name:
			// the machine will elicit a choice.
			return IntentPersonaStyled, ""
		}
	}

	return IntentQuestion, ""
}
