// Package router turns one inbound envelope into at most one engine call.
package router

import (
	"fmt"

	"example.com/clueless_bridge/internal/game"
	"example.com/clueless_bridge/internal/protocol"
	"go.uber.org/zap"
)

// Router dispatches inbound events to the engine.
type Router struct {
	engine game.Engine
	logger *zap.Logger
}

// New returns a Router bound to engine.
func New(engine game.Engine, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{engine: engine, logger: logger}
}

// Route applies env to the engine on behalf of env.PlayerID and returns the
// kind it resolved to. Unknown events are a silent no-op so older or newer
// clients can keep talking to this bridge. A *PayloadError means the engine
// was not called; an *EngineError carries what the engine returned.
func (r *Router) Route(env protocol.Envelope) (Kind, error) {
	kind := ParseKind(env.EventName)
	sender := env.PlayerID
	p := fields{event: env.EventName, values: env.Payload, absent: !env.HasPayload()}

	var err error
	switch kind {
	case KindUnknown:
		r.logger.Debug("ignoring unknown event",
			zap.String("player", sender),
			zap.String("event", env.EventName),
		)
		return kind, nil

	case KindEnteredPlayerSelect:
		err = r.engine.AddPlayer(sender)

	case KindSelectCharacter:
		character, perr := p.requireString("character")
		if perr != nil {
			return kind, perr
		}
		err = r.engine.SelectCharacter(sender, character)

	case KindEnteredGame:
		err = r.engine.EnterGame(sender)

	case KindStartGame:
		err = r.engine.StartGame()

	case KindMoveChoice:
		move, perr := p.move()
		if perr != nil {
			return kind, perr
		}
		err = r.engine.SelectMove(sender, move)

	case KindCardChoice:
		choice, perr := p.requireString("choice")
		if perr != nil {
			return kind, perr
		}
		err = r.engine.SelectCard(sender, choice)

	case KindPassTurn:
		err = r.engine.EndTurn(sender)

	case KindSuggestionStart:
		err = r.engine.MakeSuggestion(sender)

	case KindSuggestionChoice:
		suspect, perr := p.requireString("suspect")
		if perr != nil {
			return kind, perr
		}
		weapon, perr := p.requireString("weapon")
		if perr != nil {
			return kind, perr
		}
		err = r.engine.SubmitSuggestion(sender, game.Suggestion{Suspect: suspect, Weapon: weapon})

	case KindSuggestionTrial:
		d, perr := p.disproof()
		if perr != nil {
			return kind, perr
		}
		err = r.engine.DisproveSuggestion(sender, d)

	case KindAccusationStart:
		err = r.engine.MakeAccusation(sender)

	case KindAccusationChoice:
		weapon, perr := p.requireString("weapon")
		if perr != nil {
			return kind, perr
		}
		room, perr := p.requireString("room")
		if perr != nil {
			return kind, perr
		}
		suspect, perr := p.optionalString("suspect")
		if perr != nil {
			return kind, perr
		}
		err = r.engine.SubmitAccusation(sender, game.Accusation{Suspect: suspect, Weapon: weapon, Room: room})

	case KindAccusationTrial:
		d, perr := p.disproof()
		if perr != nil {
			return kind, perr
		}
		err = r.engine.DisproveAccusation(sender, d)

	case KindDisconnect:
		err = r.engine.RemovePlayer(sender)

	default:
		return kind, fmt.Errorf("%w: %v", ErrUnhandled, kind)
	}

	if err != nil {
		return kind, &EngineError{Event: env.EventName, Err: err}
	}
	return kind, nil
}

// fields reads typed values out of an inbound payload. A nil map behaves as
// if every key were missing.
type fields struct {
	event  string
	values map[string]any
	absent bool
}

func (f fields) missing(name string) *PayloadError {
	return &PayloadError{Event: f.event, Field: name, Kind: ErrMissingField, Absent: f.absent}
}

func (f fields) invalid(name string) *PayloadError {
	return &PayloadError{Event: f.event, Field: name, Kind: ErrInvalidField}
}

func (f fields) has(name string) bool {
	v, ok := f.values[name]
	return ok && v != nil
}

func (f fields) requireString(name string) (string, error) {
	v, ok := f.values[name]
	if !ok || v == nil {
		return "", f.missing(name)
	}
	s, ok := v.(string)
	if !ok {
		return "", f.invalid(name)
	}
	return s, nil
}

func (f fields) optionalString(name string) (string, error) {
	if !f.has(name) {
		return "", nil
	}
	return f.requireString(name)
}

func (f fields) requireBool(name string) (bool, error) {
	v, ok := f.values[name]
	if !ok || v == nil {
		return false, f.missing(name)
	}
	b, ok := v.(bool)
	if !ok {
		return false, f.invalid(name)
	}
	return b, nil
}

// move accepts {choice} or {suspect, room}.
func (f fields) move() (game.Move, error) {
	if f.has("choice") {
		choice, err := f.requireString("choice")
		return game.Move{Choice: choice}, err
	}
	if !f.has("suspect") {
		return game.Move{}, f.missing("choice")
	}
	suspect, err := f.requireString("suspect")
	if err != nil {
		return game.Move{}, err
	}
	room, err := f.requireString("room")
	if err != nil {
		return game.Move{}, err
	}
	return game.Move{Suspect: suspect, Room: room}, nil
}

func (f fields) disproof() (game.Disproof, error) {
	card, err := f.requireString("card")
	if err != nil {
		return game.Disproof{}, err
	}
	typ, err := f.requireString("type")
	if err != nil {
		return game.Disproof{}, err
	}
	cannot, err := f.requireBool("cannotDisprove")
	if err != nil {
		return game.Disproof{}, err
	}
	return game.Disproof{Card: card, Type: typ, CannotDisprove: cannot}, nil
}
