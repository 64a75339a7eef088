// Package gametest provides an in-memory game.Engine that records calls.
package gametest

import (
	"sync"

	"example.com/clueless_bridge/internal/game"
)

// Call is one recorded engine invocation.
type Call struct {
	Method string
	Args   []any
}

// Fake is a game.Engine for tests. Mutations are recorded and return
// Errors[method] when set. Views are served from the exported fields.
type Fake struct {
	mu    sync.Mutex
	calls []Call

	Errors     map[string]error
	State      map[string]any
	Board      map[string]any
	Views      map[game.ViewKind][]game.ViewItem
	ViewErrors map[game.ViewKind]error
	Turn       string
	Characters []string
}

var _ game.Engine = (*Fake)(nil)

// NewFake returns a Fake with empty views.
func NewFake() *Fake {
	return &Fake{
		Errors:     map[string]error{},
		State:      map[string]any{},
		Board:      map[string]any{},
		Views:      map[game.ViewKind][]game.ViewItem{},
		ViewErrors: map[game.ViewKind]error{},
	}
}

func (f *Fake) record(method string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, Args: args})
	return f.Errors[method]
}

// Calls returns a copy of every recorded mutation.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls to method.
func (f *Fake) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// SetView replaces the items served for kind.
func (f *Fake) SetView(kind game.ViewKind, items ...game.ViewItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Views[kind] = items
}

func (f *Fake) AddPlayer(playerID string) error    { return f.record("AddPlayer", playerID) }
func (f *Fake) RemovePlayer(playerID string) error { return f.record("RemovePlayer", playerID) }
func (f *Fake) SelectCharacter(playerID, character string) error {
	return f.record("SelectCharacter", playerID, character)
}
func (f *Fake) EnterGame(playerID string) error { return f.record("EnterGame", playerID) }
func (f *Fake) StartGame() error                { return f.record("StartGame") }
func (f *Fake) SelectMove(playerID string, m game.Move) error {
	return f.record("SelectMove", playerID, m)
}
func (f *Fake) SelectCard(playerID, choice string) error {
	return f.record("SelectCard", playerID, choice)
}
func (f *Fake) EndTurn(playerID string) error        { return f.record("EndTurn", playerID) }
func (f *Fake) MakeSuggestion(playerID string) error { return f.record("MakeSuggestion", playerID) }
func (f *Fake) SubmitSuggestion(playerID string, s game.Suggestion) error {
	return f.record("SubmitSuggestion", playerID, s)
}
func (f *Fake) DisproveSuggestion(playerID string, d game.Disproof) error {
	return f.record("DisproveSuggestion", playerID, d)
}
func (f *Fake) MakeAccusation(playerID string) error { return f.record("MakeAccusation", playerID) }
func (f *Fake) SubmitAccusation(playerID string, a game.Accusation) error {
	return f.record("SubmitAccusation", playerID, a)
}
func (f *Fake) DisproveAccusation(playerID string, d game.Disproof) error {
	return f.record("DisproveAccusation", playerID, d)
}

func (f *Fake) Gamestate() (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.State, f.Errors["Gamestate"]
}

func (f *Fake) Gameboard() (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Board, f.Errors["Gameboard"]
}

func (f *Fake) PlayerViews(kind game.ViewKind) ([]game.ViewItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ViewErrors[kind]; err != nil {
		return nil, err
	}
	return append([]game.ViewItem(nil), f.Views[kind]...), nil
}

func (f *Fake) CurrentTurn() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Turn, f.Errors["CurrentTurn"]
}

func (f *Fake) AvailableCharacters() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Characters...), f.Errors["AvailableCharacters"]
}
