package game

// ViewKind names a per-player view category. The value doubles as the
// outbound event name.
type ViewKind string

const (
	ViewPlayerState       ViewKind = "playerstate"
	ViewMoveOptions       ViewKind = "move_options"
	ViewSuggestionOptions ViewKind = "suggestion_options"
	ViewAccusationOptions ViewKind = "accusation_options"
	ViewChecklist         ViewKind = "checklist"
	ViewCardList          ViewKind = "card_list"
	ViewMessage           ViewKind = "message"
)

// PlayerViewKinds lists the per-player categories in push order.
var PlayerViewKinds = []ViewKind{
	ViewPlayerState,
	ViewMoveOptions,
	ViewSuggestionOptions,
	ViewAccusationOptions,
	ViewChecklist,
	ViewCardList,
	ViewMessage,
}

// ViewItem is one (view kind, player) pair produced fresh each cycle. Dirty is
// set and cleared by the engine only.
type ViewItem struct {
	PlayerID string         `json:"playerId"`
	Dirty    bool           `json:"dirty"`
	Payload  map[string]any `json:"payload"`
}

// Move is either a named choice (a room, hallway or direction) or a
// suspect/room pair.
type Move struct {
	Choice  string `json:"choice,omitempty"`
	Suspect string `json:"suspect,omitempty"`
	Room    string `json:"room,omitempty"`
}

type Suggestion struct {
	Suspect string `json:"suspect"`
	Weapon  string `json:"weapon"`
}

type Accusation struct {
	Suspect string `json:"suspect,omitempty"`
	Weapon  string `json:"weapon"`
	Room    string `json:"room"`
}

// Disproof is a player's answer to a suggestion or accusation: the card shown
// or CannotDisprove.
type Disproof struct {
	Card           string `json:"card"`
	Type           string `json:"type"`
	CannotDisprove bool   `json:"cannotDisprove"`
}

// Engine is everything the bridge needs from the rules engine. Implementations
// own all rule validation and all state, including whose turn it is.
type Engine interface {
	AddPlayer(playerID string) error
	RemovePlayer(playerID string) error
	SelectCharacter(playerID, character string) error
	EnterGame(playerID string) error
	StartGame() error

	SelectMove(playerID string, m Move) error
	SelectCard(playerID, choice string) error
	EndTurn(playerID string) error

	MakeSuggestion(playerID string) error
	SubmitSuggestion(playerID string, s Suggestion) error
	DisproveSuggestion(playerID string, d Disproof) error

	MakeAccusation(playerID string) error
	SubmitAccusation(playerID string, a Accusation) error
	DisproveAccusation(playerID string, d Disproof) error

	Gamestate() (map[string]any, error)
	Gameboard() (map[string]any, error)
	PlayerViews(kind ViewKind) ([]ViewItem, error)
	CurrentTurn() (string, error)
	AvailableCharacters() ([]string, error)
}
