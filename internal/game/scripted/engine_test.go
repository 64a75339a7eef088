package scripted

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/clueless_bridge/internal/game"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func bundled(t *testing.T) *Engine {
	t.Helper()
	e, err := LoadBundled(WithSeed(7))
	if err != nil {
		t.Fatalf("load bundled rules: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func viewFor(t *testing.T, e *Engine, kind game.ViewKind, playerID string) game.ViewItem {
	t.Helper()
	items, err := e.PlayerViews(kind)
	if err != nil {
		t.Fatalf("player views %s: %v", kind, err)
	}
	for _, it := range items {
		if it.PlayerID == playerID {
			return it
		}
	}
	t.Fatalf("no %s item for %s", kind, playerID)
	return game.ViewItem{}
}

type card struct{ name, typ string }

func hand(t *testing.T, e *Engine, playerID string) []card {
	t.Helper()
	payload := viewFor(t, e, game.ViewCardList, playerID).Payload
	raw, _ := payload["cards"].([]any)
	out := make([]card, 0, len(raw))
	for _, r := range raw {
		m := r.(map[string]any)
		out = append(out, card{m["name"].(string), m["type"].(string)})
	}
	return out
}

func showable(t *testing.T, e *Engine, playerID string) []string {
	t.Helper()
	raw, _ := viewFor(t, e, game.ViewCardList, playerID).Payload["showable"].([]any)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.(string))
	}
	return out
}

func ruleMessage(t *testing.T, err error) string {
	t.Helper()
	var se *ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected ScriptError, got %v", err)
	}
	return se.Message
}

// lobby seats p1 as scarlett and p2 as plum and starts the game.
func lobby(t *testing.T, e *Engine) {
	t.Helper()
	must(t, e.AddPlayer("p1"))
	must(t, e.AddPlayer("p2"))
	must(t, e.SelectCharacter("p1", "scarlett"))
	must(t, e.SelectCharacter("p2", "plum"))
	must(t, e.EnterGame("p1"))
	must(t, e.EnterGame("p2"))
	must(t, e.StartGame())
}

func TestLobby(t *testing.T) {
	e := bundled(t)
	must(t, e.AddPlayer("p1"))
	must(t, e.AddPlayer("p1"))

	chars, err := e.AvailableCharacters()
	must(t, err)
	if len(chars) != 6 || chars[0] != "scarlett" {
		t.Fatalf("characters = %v", chars)
	}

	must(t, e.SelectCharacter("p1", "scarlett"))
	chars, _ = e.AvailableCharacters()
	if len(chars) != 5 || chars[0] != "mustard" {
		t.Fatalf("characters after pick = %v", chars)
	}

	must(t, e.AddPlayer("p2"))
	if msg := ruleMessage(t, e.SelectCharacter("p2", "scarlett")); !strings.Contains(msg, "already taken") {
		t.Fatalf("message = %q", msg)
	}
	if msg := ruleMessage(t, e.SelectCharacter("p2", "colonel")); !strings.Contains(msg, "no such character") {
		t.Fatalf("message = %q", msg)
	}
	if msg := ruleMessage(t, e.StartGame()); !strings.Contains(msg, "has not chosen") {
		t.Fatalf("message = %q", msg)
	}
	if msg := ruleMessage(t, e.EnterGame("p2")); !strings.Contains(msg, "choose a character") {
		t.Fatalf("message = %q", msg)
	}

	state, err := e.Gamestate()
	must(t, err)
	if state["phase"] != "lobby" {
		t.Fatalf("phase = %v", state["phase"])
	}
	players, _ := state["players"].([]any)
	if len(players) != 2 {
		t.Fatalf("players = %#v", state["players"])
	}
	turn, err := e.CurrentTurn()
	if err != nil || turn != "" {
		t.Fatalf("current turn before start = %q, %v", turn, err)
	}
}

func TestStartDealsAndOrdersTurns(t *testing.T) {
	e := bundled(t)
	must(t, e.AddPlayer("p2"))
	must(t, e.AddPlayer("p1"))
	must(t, e.SelectCharacter("p2", "plum"))
	must(t, e.SelectCharacter("p1", "scarlett"))
	must(t, e.StartGame())

	turn, err := e.CurrentTurn()
	must(t, err)
	if turn != "p1" {
		t.Fatalf("scarlett moves first, got %q", turn)
	}
	if n := len(hand(t, e, "p1")) + len(hand(t, e, "p2")); n != 18 {
		t.Fatalf("dealt %d cards, want 18", n)
	}

	board, err := e.Gameboard()
	must(t, err)
	positions, _ := board["positions"].(map[string]any)
	if positions["scarlett"] != "hallway_hall_lounge" {
		t.Fatalf("positions = %#v", positions)
	}
	rooms, _ := board["rooms"].([]any)
	hallways, _ := board["hallways"].([]any)
	if len(rooms) != 9 || len(hallways) != 12 {
		t.Fatalf("board has %d rooms and %d hallways", len(rooms), len(hallways))
	}

	if msg := ruleMessage(t, e.AddPlayer("p3")); !strings.Contains(msg, "already started") {
		t.Fatalf("message = %q", msg)
	}
}

func TestDirtyFlagsClearOnRead(t *testing.T) {
	e := bundled(t)
	must(t, e.AddPlayer("p1"))

	if !viewFor(t, e, game.ViewPlayerState, "p1").Dirty {
		t.Fatal("new player view should be dirty")
	}
	if viewFor(t, e, game.ViewPlayerState, "p1").Dirty {
		t.Fatal("dirty flag survived a read")
	}
	must(t, e.SelectCharacter("p1", "green"))
	item := viewFor(t, e, game.ViewPlayerState, "p1")
	if !item.Dirty || item.Payload["character"] != "green" {
		t.Fatalf("item = %#v", item)
	}
}

func TestSuggestionRound(t *testing.T) {
	e := bundled(t)
	lobby(t, e)

	if msg := ruleMessage(t, e.SelectMove("p2", game.Move{Choice: "study"})); !strings.Contains(msg, "not your turn") {
		t.Fatalf("message = %q", msg)
	}
	if msg := ruleMessage(t, e.EndTurn("p1")); !strings.Contains(msg, "must move") {
		t.Fatalf("message = %q", msg)
	}
	if msg := ruleMessage(t, e.MakeSuggestion("p1")); !strings.Contains(msg, "from a room") {
		t.Fatalf("message = %q", msg)
	}

	opts, _ := viewFor(t, e, game.ViewMoveOptions, "p1").Payload["options"].([]any)
	if len(opts) != 2 {
		t.Fatalf("move options from a hallway = %#v", opts)
	}
	must(t, e.SelectMove("p1", game.Move{Suspect: "scarlett", Room: "hall"}))
	if msg := ruleMessage(t, e.SelectMove("p1", game.Move{Choice: "hallway_study_hall"})); !strings.Contains(msg, "already moved") {
		t.Fatalf("message = %q", msg)
	}

	must(t, e.MakeSuggestion("p1"))
	if active, _ := viewFor(t, e, game.ViewSuggestionOptions, "p1").Payload["active"].(bool); !active {
		t.Fatal("suggestion options should be active for the suggester")
	}
	must(t, e.SubmitSuggestion("p1", game.Suggestion{Suspect: "plum", Weapon: "rope"}))

	board, _ := e.Gameboard()
	positions := board["positions"].(map[string]any)
	if positions["plum"] != "hall" {
		t.Fatalf("plum was not summoned: %#v", positions)
	}

	if msg := ruleMessage(t, e.DisproveSuggestion("p1", game.Disproof{CannotDisprove: true})); !strings.Contains(msg, "not your turn to respond") {
		t.Fatalf("message = %q", msg)
	}

	if cards := showable(t, e, "p2"); len(cards) > 0 {
		if msg := ruleMessage(t, e.DisproveSuggestion("p2", game.Disproof{CannotDisprove: true})); !strings.Contains(msg, "hold a card") {
			t.Fatalf("message = %q", msg)
		}
		must(t, e.SelectCard("p2", cards[0]))
		checklist := viewFor(t, e, game.ViewChecklist, "p1").Payload
		found := false
		for _, section := range checklist {
			if seen, _ := section.(map[string]any)[cards[0]].(bool); seen {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s not marked on p1's checklist", cards[0])
		}
	} else {
		must(t, e.DisproveSuggestion("p2", game.Disproof{CannotDisprove: true}))
	}

	state, _ := e.Gamestate()
	if _, pending := state["pending"]; pending {
		t.Fatalf("suggestion still pending: %#v", state["pending"])
	}
	if msg := ruleMessage(t, e.MakeSuggestion("p1")); !strings.Contains(msg, "already made a suggestion") {
		t.Fatalf("message = %q", msg)
	}

	must(t, e.EndTurn("p1"))
	if turn, _ := e.CurrentTurn(); turn != "p2" {
		t.Fatalf("turn = %q", turn)
	}
}

func TestFalseAccusationEliminates(t *testing.T) {
	e := bundled(t)
	lobby(t, e)
	must(t, e.SelectMove("p1", game.Move{Choice: "lounge"}))
	must(t, e.EndTurn("p1"))

	acc := game.Accusation{Suspect: "green", Weapon: "knife", Room: "kitchen"}
	held := hand(t, e, "p2")[0]
	switch held.typ {
	case "suspect":
		acc.Suspect = held.name
	case "weapon":
		acc.Weapon = held.name
	case "room":
		acc.Room = held.name
	}

	if msg := ruleMessage(t, e.SubmitAccusation("p2", acc)); !strings.Contains(msg, "start an accusation") {
		t.Fatalf("message = %q", msg)
	}
	must(t, e.MakeAccusation("p2"))
	must(t, e.SubmitAccusation("p2", acc))

	if cards := showable(t, e, "p1"); len(cards) > 0 {
		must(t, e.DisproveAccusation("p1", game.Disproof{Card: cards[0], Type: typeOf(t, e, "p1", cards[0])}))
	} else {
		must(t, e.DisproveAccusation("p1", game.Disproof{CannotDisprove: true}))
	}

	state, _ := e.Gamestate()
	if state["phase"] != "finished" || state["winner"] != "p1" {
		t.Fatalf("state = %#v", state)
	}
	msgs, _ := viewFor(t, e, game.ViewMessage, "p2").Payload["messages"].([]any)
	if len(msgs) == 0 {
		t.Fatal("no messages recorded")
	}
}

func typeOf(t *testing.T, e *Engine, playerID, name string) string {
	t.Helper()
	for _, c := range hand(t, e, playerID) {
		if c.name == name {
			return c.typ
		}
	}
	t.Fatalf("%s does not hold %s", playerID, name)
	return ""
}

func TestRemovePlayerPassesTurn(t *testing.T) {
	e := bundled(t)
	must(t, e.AddPlayer("p1"))
	must(t, e.AddPlayer("p2"))
	must(t, e.AddPlayer("p3"))
	must(t, e.SelectCharacter("p1", "scarlett"))
	must(t, e.SelectCharacter("p2", "mustard"))
	must(t, e.SelectCharacter("p3", "white"))
	must(t, e.StartGame())

	must(t, e.RemovePlayer("p1"))
	if turn, _ := e.CurrentTurn(); turn != "p2" {
		t.Fatalf("turn after current player left = %q", turn)
	}
	must(t, e.RemovePlayer("p1"))
	must(t, e.RemovePlayer("p3"))

	state, _ := e.Gamestate()
	if state["phase"] != "finished" || state["winner"] != "p2" {
		t.Fatalf("state = %#v", state)
	}
}

func TestUnknownView(t *testing.T) {
	e := bundled(t)
	if _, err := e.PlayerViews("scoreboard"); err == nil {
		t.Fatal("expected an error for an unknown view")
	}
}

const minimal = `
local ARRAY = { __array = true }
local calls = {}
function add_player(id) table.insert(calls, id) end
function remove_player(id) end
function select_character(id, c) if c == "nobody" then error("refused " .. c, 0) end end
function enter_game(id) end
function start_game() error({ code = 1 }) end
function select_move(id, m) last_move = m end
function select_card(id, c) end
function end_turn(id) end
function make_suggestion(id) end
function submit_suggestion(id, s) end
function disprove_suggestion(id, d) last_disproof = d end
function make_accusation(id) end
function submit_accusation(id, a) end
function disprove_accusation(id, d) end
function gamestate() return { calls = setmetatable(calls, ARRAY), empty = setmetatable({}, ARRAY), nested = { n = 2 } } end
function gameboard() return nil end
function player_views(kind) return { { playerId = "p1", dirty = true } } end
function current_turn() return nil end
function available_characters() return {} end
function echo_move() return last_move end
function echo_disproof() return last_disproof end
`

func TestLoadStringConversions(t *testing.T) {
	e, err := LoadString("minimal.lua", minimal, WithSeed(1))
	must(t, err)
	defer e.Close()

	must(t, e.AddPlayer("a"))
	must(t, e.AddPlayer("b"))
	state, err := e.Gamestate()
	must(t, err)
	calls, _ := state["calls"].([]any)
	if len(calls) != 2 || calls[0] != "a" {
		t.Fatalf("calls = %#v", state["calls"])
	}
	if empty, ok := state["empty"].([]any); !ok || len(empty) != 0 {
		t.Fatalf("marked empty table should be a slice, got %#v", state["empty"])
	}
	if nested, _ := state["nested"].(map[string]any); nested["n"] != 2.0 {
		t.Fatalf("nested = %#v", state["nested"])
	}

	board, err := e.Gameboard()
	if err != nil || len(board) != 0 {
		t.Fatalf("nil board = %#v, %v", board, err)
	}
	items, err := e.PlayerViews(game.ViewMessage)
	must(t, err)
	if len(items) != 1 || !items[0].Dirty || items[0].Payload == nil {
		t.Fatalf("items = %#v", items)
	}
	chars, err := e.AvailableCharacters()
	if err != nil || len(chars) != 0 {
		t.Fatalf("characters = %v, %v", chars, err)
	}

	must(t, e.SelectMove("a", game.Move{Choice: "hall"}))
	ret, err := e.call("echo_move", 1)
	must(t, err)
	move := e.fromLua(ret[0]).(map[string]any)
	if move["choice"] != "hall" {
		t.Fatalf("move = %#v", move)
	}
	if _, ok := move["suspect"]; ok {
		t.Fatal("empty fields should not reach the ruleset")
	}

	must(t, e.DisproveSuggestion("a", game.Disproof{CannotDisprove: false, Card: "rope", Type: "weapon"}))
	ret, _ = e.call("echo_disproof", 1)
	d := e.fromLua(ret[0]).(map[string]any)
	if d["cannotDisprove"] != false || d["card"] != "rope" {
		t.Fatalf("disproof = %#v", d)
	}
}

func TestLoadStringErrors(t *testing.T) {
	e, err := LoadString("minimal.lua", minimal)
	must(t, err)
	defer e.Close()

	if msg := ruleMessage(t, e.SelectCharacter("a", "nobody")); msg != "refused nobody" {
		t.Fatalf("message = %q", msg)
	}
	var se *ScriptError
	if err := e.StartGame(); !errors.As(err, &se) || se.Func != "start_game" {
		t.Fatalf("start_game error = %v", err)
	}
}

func TestLoadRejectsIncompleteRuleset(t *testing.T) {
	_, err := LoadString("partial.lua", "function add_player(id) end")
	if !errors.Is(err, ErrMissingFunction) {
		t.Fatalf("expected ErrMissingFunction, got %v", err)
	}
	if _, err := LoadString("broken.lua", "function ("); err == nil {
		t.Fatal("expected a compile error")
	}
	if _, err := LoadString("boom.lua", `error("boom")`); err == nil {
		t.Fatal("expected a runtime error")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.lua")
	must(t, os.WriteFile(path, []byte(minimal), 0o644))
	e, err := Load(path)
	must(t, err)
	e.Close()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestBridgeLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	src := minimal + `bridge.log("warn", "loaded minimal")`
	e, err := LoadString("minimal.lua", src, WithLogger(zap.New(core)))
	must(t, err)
	defer e.Close()
	if logs.FilterMessage("loaded minimal").Len() != 1 {
		t.Fatal("bridge.log did not reach the logger")
	}
}
