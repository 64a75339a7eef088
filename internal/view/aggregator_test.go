package view

import (
	"errors"
	"testing"

	"example.com/clueless_bridge/internal/game"
	"example.com/clueless_bridge/internal/game/gametest"
	"example.com/clueless_bridge/internal/protocol"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func seeded() *gametest.Fake {
	eng := gametest.NewFake()
	eng.State = map[string]any{"phase": "playing"}
	eng.Board = map[string]any{"study": []any{"plum"}}
	eng.Turn = "p1"
	eng.SetView(game.ViewPlayerState,
		game.ViewItem{PlayerID: "p1", Dirty: true, Payload: map[string]any{"character": "plum"}},
		game.ViewItem{PlayerID: "p2", Dirty: false, Payload: map[string]any{"character": "green"}},
	)
	eng.SetView(game.ViewMoveOptions,
		game.ViewItem{PlayerID: "p1", Dirty: false, Payload: map[string]any{"options": []any{"hall"}}},
		game.ViewItem{PlayerID: "p2", Dirty: true, Payload: map[string]any{"options": []any{}}},
	)
	return eng
}

type sent struct{ target, event string }

func summarize(envs []protocol.Envelope) []sent {
	out := make([]sent, 0, len(envs))
	for _, e := range envs {
		out = append(out, sent{e.PlayerID, e.EventName})
	}
	return out
}

func equal(a, b []sent) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCollectForced(t *testing.T) {
	a := New(seeded(), ModeForced, nil)
	got := summarize(a.Collect())
	want := []sent{
		{"all", "gamestate"},
		{"all", "gameboard"},
		{"all", "current_turn"},
		{"p1", "playerstate"},
		{"p2", "playerstate"},
		{"p1", "move_options"},
		{"p2", "move_options"},
	}
	if !equal(got, want) {
		t.Fatalf("forced collect = %v, want %v", got, want)
	}
}

func TestCollectDirty(t *testing.T) {
	a := New(seeded(), ModeDirty, nil)
	got := summarize(a.Collect())
	want := []sent{
		{"all", "gamestate"},
		{"all", "gameboard"},
		{"all", "current_turn"},
		{"p1", "playerstate"},
		{"p2", "move_options"},
	}
	if !equal(got, want) {
		t.Fatalf("dirty collect = %v, want %v", got, want)
	}
}

func TestCollectDoesNotTouchEngine(t *testing.T) {
	eng := seeded()
	New(eng, ModeDirty, nil).Collect()
	if calls := eng.Calls(); len(calls) != 0 {
		t.Fatalf("aggregator mutated engine: %#v", calls)
	}
	items, _ := eng.PlayerViews(game.ViewPlayerState)
	if !items[0].Dirty {
		t.Fatal("dirty flag was cleared by the aggregator")
	}
}

func TestCollectCurrentTurnPayload(t *testing.T) {
	envs := New(seeded(), ModeForced, nil).Collect()
	turn := envs[2]
	if turn.EventName != EventCurrentTurn || turn.Payload[protocol.KeyPlayerID] != "p1" {
		t.Fatalf("unexpected current_turn envelope %#v", turn)
	}
}

func TestCollectSkipsFailingCategory(t *testing.T) {
	eng := seeded()
	eng.ViewErrors[game.ViewPlayerState] = errors.New("lua: attempt to index nil")
	eng.Errors["Gameboard"] = errors.New("board unavailable")

	core, logs := observer.New(zapcore.WarnLevel)
	got := summarize(New(eng, ModeForced, zap.New(core)).Collect())
	want := []sent{
		{"all", "gamestate"},
		{"all", "current_turn"},
		{"p1", "move_options"},
		{"p2", "move_options"},
	}
	if !equal(got, want) {
		t.Fatalf("collect = %v, want %v", got, want)
	}
	if n := logs.FilterMessage("view unavailable").Len(); n != 2 {
		t.Fatalf("expected 2 warnings, got %d", n)
	}
}

func TestCollectDropsUnaddressedItems(t *testing.T) {
	eng := gametest.NewFake()
	eng.SetView(game.ViewMessage, game.ViewItem{Dirty: true, Payload: map[string]any{"text": "hi"}})
	for _, e := range New(eng, ModeForced, nil).Collect() {
		if e.EventName == string(game.ViewMessage) {
			t.Fatalf("item without player id was emitted: %#v", e)
		}
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeForced},
		{in: "forced", want: ModeForced},
		{in: " Dirty ", want: ModeDirty},
		{in: "mixed", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseMode(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseMode(%q) = %v, %v", tt.in, got, err)
		}
	}
	if ModeDirty.String() != "dirty" || ModeForced.String() != "forced" {
		t.Fatal("mode names do not round trip")
	}
}
