// Package dispatch drives the bridge: push views, take one inbound line,
// route it, fire one-time gates.
//
// Run is the only code that touches the engine. Inbound lines arrive on a
// channel fed by a separate reader, so an optional ticker can push views while
// every client is silent.
package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"example.com/clueless_bridge/internal/broadcast"
	"example.com/clueless_bridge/internal/game"
	"example.com/clueless_bridge/internal/protocol"
	"example.com/clueless_bridge/internal/router"
	"example.com/clueless_bridge/internal/session"
	"example.com/clueless_bridge/internal/view"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Outbound event names produced by the loop itself.
const (
	EventGameIsReady   = "game_is_ready"
	EventCanStartGame  = "can_start_game"
	EventCharacterList = "character_list"
	EventError         = "error"
)

// DirectionIn is passed to the Recorder for decoded inbound envelopes.
const DirectionIn = "in"

const tracerName = "example.com/clueless_bridge/internal/dispatch"

type Config struct {
	// Quorum is the registered-player count that fires game_is_ready.
	Quorum int
	Mode   view.Mode
	// PushInterval > 0 pushes views on a ticker in addition to once per line.
	PushInterval time.Duration
	// NotifyErrors sends an error envelope to the sender of a rejected event.
	NotifyErrors bool
	// ExitOnEmpty makes Run return once the last player disconnects.
	ExitOnEmpty bool

	Logger   *zap.Logger
	Tracer   trace.Tracer
	Recorder broadcast.Recorder
	// OnStateChange is called from the loop goroutine after each transition.
	OnStateChange func(from, to State)
}

type Loop struct {
	cfg      Config
	engine   game.Engine
	registry *session.Registry
	gates    *session.Gates
	router   *router.Router
	views    *view.Aggregator
	out      *broadcast.Broadcaster
	logger   *zap.Logger
	tracer   trace.Tracer

	state atomic.Int32
}

func New(engine game.Engine, out *broadcast.Broadcaster, cfg Config) *Loop {
	if cfg.Quorum < 1 {
		cfg.Quorum = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Loop{
		cfg:      cfg,
		engine:   engine,
		registry: session.NewRegistry(),
		gates:    session.NewGates(),
		router:   router.New(engine, logger.Named("router")),
		views:    view.New(engine, cfg.Mode, logger.Named("view")),
		out:      out,
		logger:   logger,
		tracer:   tracer,
	}
}

// State is safe to call from any goroutine.
func (l *Loop) State() State { return State(l.state.Load()) }

// Registry exposes the membership view. Callers outside the loop goroutine
// must only read it.
func (l *Loop) Registry() *session.Registry { return l.registry }

// Run processes lines until ctx is done, lines is closed, the outbound
// channel fails, or (with ExitOnEmpty) the game terminates. A closed inbound
// channel and ExitOnEmpty both return nil.
func (l *Loop) Run(ctx context.Context, lines <-chan []byte) error {
	var tick <-chan time.Time
	if l.cfg.PushInterval > 0 {
		t := time.NewTicker(l.cfg.PushInterval)
		defer t.Stop()
		tick = t.C
	}

	l.logger.Info("dispatch loop started",
		zap.Int("quorum", l.cfg.Quorum),
		zap.Stringer("mode", l.views.Mode()),
		zap.Duration("push_interval", l.cfg.PushInterval),
	)

	for {
		if err := l.push(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		case line, ok := <-lines:
			if !ok {
				l.logger.Info("inbound channel closed, stopping")
				return nil
			}
			if err := l.Handle(ctx, line); err != nil {
				return err
			}
			if l.State() == StateTerminated && l.cfg.ExitOnEmpty {
				l.logger.Info("all players left, stopping")
				return nil
			}
		}
	}
}

// push aggregates views and sends them. Nothing is pushed once terminated.
func (l *Loop) push(ctx context.Context) error {
	if l.State() == StateTerminated {
		return nil
	}
	_, span := l.tracer.Start(ctx, "dispatch.push")
	defer span.End()

	envs := l.views.Collect()
	span.SetAttributes(attribute.Int("bridge.envelopes", len(envs)))
	if err := l.out.SendEach(envs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "outbound failed")
		return err
	}
	return nil
}

// Handle decodes one inbound line, updates membership, routes it and fires
// any gate that newly holds. The only error it returns is a failed outbound
// write.
func (l *Loop) Handle(ctx context.Context, line []byte) error {
	env, err := protocol.DecodeInbound(line)
	if err != nil {
		l.logger.Warn("dropping inbound line", zap.Error(err), zap.Int("bytes", len(line)))
		return nil
	}
	l.record(env)

	if l.State() == StateTerminated {
		l.logger.Debug("terminated, ignoring event",
			zap.String("player", env.PlayerID),
			zap.String("event", env.EventName),
		)
		return nil
	}

	_, span := l.tracer.Start(ctx, "dispatch.route", trace.WithAttributes(
		attribute.String("bridge.player", env.PlayerID),
		attribute.String("bridge.event", env.EventName),
	))
	defer span.End()

	// membership
	departed := false
	if router.ParseKind(env.EventName) == router.KindDisconnect {
		departed = l.registry.Remove(env.PlayerID)
	} else if l.registry.Register(env.PlayerID) {
		l.logger.Info("player registered",
			zap.String("player", env.PlayerID),
			zap.Int("players", l.registry.Size()),
			zap.Bool("after_quorum", l.registry.QuorumSignaled()),
		)
	}

	// route
	kind, routeErr := l.router.Route(env)
	if routeErr != nil {
		span.RecordError(routeErr)
		span.SetStatus(codes.Error, routeErr.Error())
		if err := l.reject(env, routeErr); err != nil {
			return err
		}
	}

	// gates and transitions
	return l.afterRoute(env, kind, routeErr == nil, departed)
}

func (l *Loop) afterRoute(env protocol.Envelope, kind router.Kind, ok, departed bool) error {
	if departed && l.registry.Size() == 0 {
		l.transition(StateTerminated)
		return nil
	}

	if l.registry.CheckQuorum(l.cfg.Quorum) && l.gates.Fire(session.GateGameIsReady) {
		if err := l.gameIsReady(); err != nil {
			return err
		}
	}

	if !ok {
		return nil
	}
	switch kind {
	case router.KindEnteredPlayerSelect:
		if l.gates.Fire(session.CharacterListGate(env.PlayerID)) {
			return l.characterList(env.PlayerID)
		}
	case router.KindStartGame:
		if l.State() != StateSelecting {
			l.logger.Warn("start_game accepted outside character selection, state unchanged",
				zap.String("player", env.PlayerID),
				zap.Stringer("state", l.State()),
			)
			return nil
		}
		l.transition(StatePlaying)
	}
	return nil
}

func (l *Loop) gameIsReady() error {
	players := l.registry.Players()
	first, _ := l.registry.First()
	l.logger.Info("quorum reached",
		zap.Strings("players", players),
		zap.String("first_player", first),
	)
	if l.State() == StateAwaitingQuorum {
		l.transition(StateSelecting)
	}

	list := make([]any, len(players))
	for i, p := range players {
		list[i] = p
	}
	if err := l.send(protocol.TargetAll, EventGameIsReady, map[string]any{
		"players":     list,
		"firstPlayer": first,
	}); err != nil {
		return err
	}
	if l.gates.Fire(session.GateCanStartGame) {
		return l.send(first, EventCanStartGame, map[string]any{})
	}
	return nil
}

func (l *Loop) characterList(playerID string) error {
	chars, err := l.engine.AvailableCharacters()
	if err != nil {
		l.logger.Warn("character list unavailable", zap.String("player", playerID), zap.Error(err))
		return nil
	}
	list := make([]any, len(chars))
	for i, c := range chars {
		list[i] = c
	}
	return l.send(playerID, EventCharacterList, map[string]any{"characters": list})
}

// reject logs a routing failure and, when enabled, tells the sender.
func (l *Loop) reject(env protocol.Envelope, err error) error {
	fields := []zap.Field{
		zap.String("player", env.PlayerID),
		zap.String("event", env.EventName),
		zap.Error(err),
	}
	payload := map[string]any{"event": env.EventName, "message": err.Error()}

	var perr *router.PayloadError
	if errors.As(err, &perr) {
		payload["field"] = perr.Field
		l.logger.Warn("payload rejected", fields...)
	} else {
		l.logger.Warn("engine rejected event", fields...)
	}

	// a sender whose disconnect failed is already gone
	if !l.cfg.NotifyErrors || !l.registry.Contains(env.PlayerID) {
		return nil
	}
	return l.send(env.PlayerID, EventError, payload)
}

// send drops envelopes that cannot be encoded and returns channel failures.
func (l *Loop) send(target, event string, payload map[string]any) error {
	err := l.out.SendToPlayer(target, event, payload)
	if err != nil && errors.Is(err, protocol.ErrMalformed) {
		l.logger.Warn("dropping unencodable envelope", zap.String("event", event), zap.Error(err))
		return nil
	}
	return err
}

func (l *Loop) record(env protocol.Envelope) {
	if l.cfg.Recorder == nil {
		return
	}
	if err := l.cfg.Recorder.Record(DirectionIn, env); err != nil {
		l.logger.Warn("journal write failed", zap.String("event", env.EventName), zap.Error(err))
	}
}

func (l *Loop) transition(to State) {
	from := State(l.state.Swap(int32(to)))
	if from == to {
		return
	}
	l.logger.Info("state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	if l.cfg.OnStateChange != nil {
		l.cfg.OnStateChange(from, to)
	}
}
