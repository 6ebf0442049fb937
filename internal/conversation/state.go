package conversation

// State is one step of the turn pipeline. The set is closed: a turn only
// ever moves forward through these states, with the single exception of the
// ElicitPersona / AwaitPersonaChoice detour, which is bounded to one pass.
type State int

const (
	StateStart State = iota
	StateDetectIntent
	StateElicitPersona
	StateAwaitPersonaChoice
	StateRetrieve
	StateGenerate
	StateRegisterFeedback
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateDetectIntent:
		return "detect_intent"
	case StateElicitPersona:
		return "elicit_persona"
	case StateAwaitPersonaChoice:
		return "await_persona_choice"
	case StateRetrieve:
		return "retrieve"
	case StateGenerate:
		return "generate"
	case StateRegisterFeedback:
		return "register_feedback"
	case StateEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Intent is the classification of one utterance.
type Intent int

const (
	// IntentQuestion is a plain question answered in the default or
	// explicitly chosen persona.
	IntentQuestion Intent = iota
	// IntentSocialPost requests short social-media-formatted output.
	IntentSocialPost
	// IntentPersonaStyled requests a persona-voiced answer; the persona
	// itself may still need to be elicited.
	IntentPersonaStyled
)

func (i Intent) String() string {
	switch i {
	case IntentQuestion:
		return "question"
	case IntentSocialPost:
		return "social_post"
	case IntentPersonaStyled:
		return "persona_styled"
	default:
		return "unknown"
	}
}
