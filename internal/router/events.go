package router

// Kind is the closed set of inbound events the bridge understands.
type Kind int

const (
	KindUnknown Kind = iota
	KindEnteredPlayerSelect
	KindSelectCharacter
	KindEnteredGame
	KindStartGame
	KindMoveChoice
	KindCardChoice
	KindPassTurn
	KindSuggestionStart
	KindSuggestionChoice
	KindSuggestionTrial
	KindAccusationStart
	KindAccusationChoice
	KindAccusationTrial
	KindDisconnect

	kindCount
)

var kindNames = [kindCount]string{
	KindUnknown:             "unknown",
	KindEnteredPlayerSelect: "entered_player_select",
	KindSelectCharacter:     "select_character",
	KindEnteredGame:         "entered_game",
	KindStartGame:           "start_game",
	KindMoveChoice:          "move_choice",
	KindCardChoice:          "card_choice",
	KindPassTurn:            "pass_turn",
	KindSuggestionStart:     "suggestion_start",
	KindSuggestionChoice:    "suggestion_choice",
	KindSuggestionTrial:     "suggestion_trial",
	KindAccusationStart:     "accusation_start",
	KindAccusationChoice:    "accusation_choice",
	KindAccusationTrial:     "accusation_trial",
	KindDisconnect:          "disconnect",
}

// aliases maps additional wire names onto a kind.
var aliases = map[string]Kind{
	"make_move": KindMoveChoice,
}

var byName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames)+len(aliases))
	for k := KindUnknown + 1; k < kindCount; k++ {
		m[kindNames[k]] = k
	}
	for name, k := range aliases {
		m[name] = k
	}
	return m
}()

// ParseKind maps a wire event name to its Kind. Unrecognized names map to
// KindUnknown.
func ParseKind(name string) Kind {
	if k, ok := byName[name]; ok {
		return k
	}
	return KindUnknown
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// Kinds returns every recognized kind, excluding KindUnknown.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := KindUnknown + 1; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}
