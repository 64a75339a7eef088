package session

import "sync"

// Gate names used by the dispatch loop.
const (
	GateGameIsReady  = "game_is_ready"
	GateCanStartGame = "can_start_game"
)

// CharacterListGate names the per-player latch for the character list that is
// sent when a player first enters player select.
func CharacterListGate(playerID string) string {
	return "character_list:" + playerID
}

// Gates is a set of named one-way latches. A gate goes from closed to fired
// once and is never reset.
type Gates struct {
	mu    sync.Mutex
	fired map[string]bool
}

func NewGates() *Gates {
	return &Gates{fired: map[string]bool{}}
}

// Fire latches name and reports whether this call was the one that fired it.
func (g *Gates) Fire(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fired[name] {
		return false
	}
	g.fired[name] = true
	return true
}
