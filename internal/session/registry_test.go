package session

import (
	"reflect"
	"testing"
)

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	if !r.Register("p1") {
		t.Fatal("first register should report new")
	}
	if r.Register("p1") {
		t.Fatal("second register should report existing")
	}
	if r.Size() != 1 {
		t.Fatalf("size = %d, want 1", r.Size())
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("p1")
	if !r.Remove("p1") {
		t.Fatal("remove of member should report true")
	}
	if r.Remove("p1") {
		t.Fatal("second remove should report false")
	}
	if r.Remove("ghost") {
		t.Fatal("remove of unknown player should report false")
	}
	if r.Size() != 0 || r.Contains("p1") {
		t.Fatalf("registry not empty: %v", r.Players())
	}
}

func TestQuorumScenario(t *testing.T) {
	r := NewRegistry()
	r.Register("p1")
	if r.CheckQuorum(2) {
		t.Fatal("quorum fired below threshold")
	}
	r.Register("p2")
	if !r.CheckQuorum(2) {
		t.Fatal("quorum should fire at threshold")
	}
	r.Register("p3")
	if r.CheckQuorum(2) {
		t.Fatal("quorum fired twice")
	}
}

func TestQuorumNeverRefires(t *testing.T) {
	r := NewRegistry()
	r.Register("a")
	r.Register("b")
	fired := 0
	for i := 0; i < 5; i++ {
		if r.CheckQuorum(2) {
			fired++
		}
	}
	r.Remove("a")
	r.Remove("b")
	if r.CheckQuorum(2) {
		fired++
	}
	r.Register("c")
	r.Register("d")
	r.Register("e")
	if r.CheckQuorum(2) {
		fired++
	}
	if fired != 1 {
		t.Fatalf("quorum fired %d times, want 1", fired)
	}
	if !r.QuorumSignaled() {
		t.Fatal("expected latched quorum")
	}
}

func TestQuorumThresholdOne(t *testing.T) {
	r := NewRegistry()
	if r.CheckQuorum(1) {
		t.Fatal("empty registry reached quorum of one")
	}
	r.Register("solo")
	if !r.CheckQuorum(1) {
		t.Fatal("quorum of one should fire")
	}
}

func TestFirstFollowsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.First(); ok {
		t.Fatal("empty registry has no first player")
	}
	for _, id := range []string{"mustard", "peacock", "plum"} {
		r.Register(id)
	}
	r.Register("mustard")
	if first, _ := r.First(); first != "mustard" {
		t.Fatalf("first = %q, want mustard", first)
	}
	r.Remove("mustard")
	if first, _ := r.First(); first != "peacock" {
		t.Fatalf("first = %q, want peacock", first)
	}
	r.Register("mustard")
	want := []string{"peacock", "plum", "mustard"}
	if got := r.Players(); !reflect.DeepEqual(got, want) {
		t.Fatalf("players = %v, want %v", got, want)
	}
}

func TestGatesLatchOnce(t *testing.T) {
	g := NewGates()
	if !g.Fire(GateGameIsReady) {
		t.Fatal("first fire should succeed")
	}
	if g.Fire(GateGameIsReady) {
		t.Fatal("gate fired twice")
	}
	if !g.Fire(CharacterListGate("p1")) || !g.Fire(CharacterListGate("p2")) {
		t.Fatal("per-player gates should be independent")
	}
	if g.Fire(CharacterListGate("p1")) {
		t.Fatal("per-player gate fired twice")
	}
}
