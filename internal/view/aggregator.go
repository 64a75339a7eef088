// Package view pulls view objects from the engine once per cycle and decides
// which of them go out.
package view

import (
	"fmt"
	"strings"

	"example.com/clueless_bridge/internal/game"
	"example.com/clueless_bridge/internal/protocol"
	"go.uber.org/zap"
)

// Global view event names. These go to every client each cycle.
const (
	EventGamestate   = "gamestate"
	EventGameboard   = "gameboard"
	EventCurrentTurn = "current_turn"
)

// Mode selects how per-player items are filtered. One mode per process.
type Mode int

const (
	// ModeForced emits every item every cycle.
	ModeForced Mode = iota
	// ModeDirty emits an item only when the engine marked it dirty.
	ModeDirty
)

func (m Mode) String() string {
	switch m {
	case ModeForced:
		return "forced"
	case ModeDirty:
		return "dirty"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "forced" or "dirty" in any case. Empty means forced.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "forced":
		return ModeForced, nil
	case "dirty":
		return ModeDirty, nil
	default:
		return 0, fmt.Errorf("unknown update mode %q", s)
	}
}

// Aggregator reads views from the engine. It never writes to the engine,
// dirty flags included.
type Aggregator struct {
	engine game.Engine
	mode   Mode
	logger *zap.Logger
}

func New(engine game.Engine, mode Mode, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{engine: engine, mode: mode, logger: logger}
}

func (a *Aggregator) Mode() Mode { return a.mode }

// Collect returns the envelopes to send this cycle: the global views addressed
// to protocol.TargetAll, followed by per-player items in game.PlayerViewKinds
// order. A category the engine fails to produce is logged and skipped.
func (a *Aggregator) Collect() []protocol.Envelope {
	out := make([]protocol.Envelope, 0, 3+len(game.PlayerViewKinds))

	if state, err := a.engine.Gamestate(); err != nil {
		a.skip(EventGamestate, err)
	} else {
		out = append(out, all(EventGamestate, state))
	}
	if board, err := a.engine.Gameboard(); err != nil {
		a.skip(EventGameboard, err)
	} else {
		out = append(out, all(EventGameboard, board))
	}
	if turn, err := a.engine.CurrentTurn(); err != nil {
		a.skip(EventCurrentTurn, err)
	} else {
		out = append(out, all(EventCurrentTurn, map[string]any{protocol.KeyPlayerID: turn}))
	}

	for _, kind := range game.PlayerViewKinds {
		items, err := a.engine.PlayerViews(kind)
		if err != nil {
			a.skip(string(kind), err)
			continue
		}
		for _, item := range items {
			if !a.emit(item) {
				continue
			}
			out = append(out, protocol.Envelope{
				PlayerID:  item.PlayerID,
				EventName: string(kind),
				Payload:   item.Payload,
			})
		}
	}
	return out
}

func (a *Aggregator) emit(item game.ViewItem) bool {
	if item.PlayerID == "" {
		return false
	}
	if a.mode == ModeDirty {
		return item.Dirty
	}
	return true
}

func (a *Aggregator) skip(view string, err error) {
	a.logger.Warn("view unavailable", zap.String("view", view), zap.Error(err))
}

func all(event string, payload map[string]any) protocol.Envelope {
	return protocol.Envelope{PlayerID: protocol.TargetAll, EventName: event, Payload: payload}
}
