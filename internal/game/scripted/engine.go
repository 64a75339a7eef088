// Package scripted hosts a game.Engine whose rules are written in Lua.
//
// A ruleset is a Lua chunk that defines one global function per engine
// operation (see Required). Mutations signal rejection with error(msg, 0);
// views return tables. Tables built with the ruleset's array() helper, or
// with consecutive integer keys, come back as []any; anything else comes back
// as map[string]any.
package scripted

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"example.com/clueless_bridge/internal/game"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

//go:embed rules/clueless.lua
var bundledRules string

// BundledName is the chunk name used for the embedded ruleset.
const BundledName = "clueless.lua"

// Required lists the globals every ruleset must define.
var Required = []string{
	"add_player", "remove_player", "select_character", "enter_game", "start_game",
	"select_move", "select_card", "end_turn",
	"make_suggestion", "submit_suggestion", "disprove_suggestion",
	"make_accusation", "submit_accusation", "disprove_accusation",
	"gamestate", "gameboard", "player_views", "current_turn", "available_characters",
}

var (
	ErrMissingFunction = errors.New("ruleset is missing a required function")
	ErrBadResult       = errors.New("ruleset returned an unexpected value")
)

// ScriptError is a Lua error raised while running a ruleset function. For a
// rule rejection Message is the text passed to error().
type ScriptError struct {
	Func    string
	Message string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %s", e.Func, e.Message)
}

type Option func(*options)

type options struct {
	logger *zap.Logger
	seed   int64
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSeed fixes math.random so shuffles are reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// Engine runs a ruleset in a single Lua state. All calls are serialized.
type Engine struct {
	mu     sync.Mutex
	ls     *lua.LState
	name   string
	logger *zap.Logger
}

var _ game.Engine = (*Engine)(nil)

// Load runs the ruleset at path.
func Load(path string, opts ...Option) (*Engine, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	return LoadString(path, string(src), opts...)
}

// LoadBundled runs the embedded Clue-less ruleset.
func LoadBundled(opts ...Option) (*Engine, error) {
	return LoadString(BundledName, bundledRules, opts...)
}

// LoadString runs src as a ruleset named name.
func LoadString(name, src string, opts ...Option) (*Engine, error) {
	o := options{logger: zap.NewNop(), seed: time.Now().UnixNano()}
	for _, opt := range opts {
		opt(&o)
	}

	L := lua.NewState()
	e := &Engine{ls: L, name: name, logger: o.logger}
	e.openBridge()

	if err := L.DoString(fmt.Sprintf("math.randomseed(%d)", o.seed)); err != nil {
		L.Close()
		return nil, fmt.Errorf("seed ruleset: %w", err)
	}
	fn, err := L.Load(strings.NewReader(src), name)
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.Close()
		return nil, fmt.Errorf("run %s: %w", name, err)
	}
	for _, g := range Required {
		if L.GetGlobal(g).Type() != lua.LTFunction {
			L.Close()
			return nil, fmt.Errorf("%w: %s", ErrMissingFunction, g)
		}
	}

	e.logger.Info("ruleset loaded", zap.String("ruleset", name))
	return e, nil
}

// Close releases the Lua state.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ls.Close()
}

// openBridge exposes bridge.log(level, msg) to the ruleset.
func (e *Engine) openBridge() {
	logger := e.logger.Named("lua")
	mod := e.ls.NewTable()
	e.ls.SetField(mod, "log", e.ls.NewFunction(func(L *lua.LState) int {
		level := L.CheckString(1)
		msg := L.CheckString(2)
		switch level {
		case "warn":
			logger.Warn(msg)
		case "info":
			logger.Info(msg)
		default:
			logger.Debug(msg)
		}
		return 0
	}))
	e.ls.SetGlobal("bridge", mod)
}

// call invokes a global and returns nret results.
func (e *Engine) call(fn string, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f := e.ls.GetGlobal(fn)
	if f.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%w: %s", ErrMissingFunction, fn)
	}
	if err := e.ls.CallByParam(lua.P{Fn: f, NRet: nret, Protect: true}, args...); err != nil {
		return nil, scriptError(fn, err)
	}
	out := make([]lua.LValue, nret)
	for i := nret - 1; i >= 0; i-- {
		out[i] = e.ls.Get(-1)
		e.ls.Pop(1)
	}
	return out, nil
}

func (e *Engine) mutate(fn string, args ...lua.LValue) error {
	_, err := e.call(fn, 0, args...)
	return err
}

func scriptError(fn string, err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return &ScriptError{Func: fn, Message: apiErr.Object.String()}
	}
	return &ScriptError{Func: fn, Message: err.Error()}
}

// ---------- mutations ----------

func (e *Engine) AddPlayer(playerID string) error {
	return e.mutate("add_player", lua.LString(playerID))
}

func (e *Engine) RemovePlayer(playerID string) error {
	return e.mutate("remove_player", lua.LString(playerID))
}

func (e *Engine) SelectCharacter(playerID, character string) error {
	return e.mutate("select_character", lua.LString(playerID), lua.LString(character))
}

func (e *Engine) EnterGame(playerID string) error {
	return e.mutate("enter_game", lua.LString(playerID))
}

func (e *Engine) StartGame() error {
	return e.mutate("start_game")
}

func (e *Engine) SelectMove(playerID string, m game.Move) error {
	return e.mutate("select_move", lua.LString(playerID), e.record(map[string]any{
		"choice":  m.Choice,
		"suspect": m.Suspect,
		"room":    m.Room,
	}))
}

func (e *Engine) SelectCard(playerID, choice string) error {
	return e.mutate("select_card", lua.LString(playerID), lua.LString(choice))
}

func (e *Engine) EndTurn(playerID string) error {
	return e.mutate("end_turn", lua.LString(playerID))
}

func (e *Engine) MakeSuggestion(playerID string) error {
	return e.mutate("make_suggestion", lua.LString(playerID))
}

func (e *Engine) SubmitSuggestion(playerID string, s game.Suggestion) error {
	return e.mutate("submit_suggestion", lua.LString(playerID), e.record(map[string]any{
		"suspect": s.Suspect,
		"weapon":  s.Weapon,
	}))
}

func (e *Engine) DisproveSuggestion(playerID string, d game.Disproof) error {
	return e.mutate("disprove_suggestion", lua.LString(playerID), e.disproof(d))
}

func (e *Engine) MakeAccusation(playerID string) error {
	return e.mutate("make_accusation", lua.LString(playerID))
}

func (e *Engine) SubmitAccusation(playerID string, a game.Accusation) error {
	return e.mutate("submit_accusation", lua.LString(playerID), e.record(map[string]any{
		"suspect": a.Suspect,
		"weapon":  a.Weapon,
		"room":    a.Room,
	}))
}

func (e *Engine) DisproveAccusation(playerID string, d game.Disproof) error {
	return e.mutate("disprove_accusation", lua.LString(playerID), e.disproof(d))
}

func (e *Engine) disproof(d game.Disproof) lua.LValue {
	return e.record(map[string]any{
		"card":           d.Card,
		"type":           d.Type,
		"cannotDisprove": d.CannotDisprove,
	})
}

// record builds an argument table, leaving out empty strings so the ruleset
// can test fields against nil.
func (e *Engine) record(fields map[string]any) lua.LValue {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.ls.NewTable()
	for k, v := range fields {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		t.RawSetString(k, toLua(e.ls, v))
	}
	return t
}

// ---------- views ----------

func (e *Engine) Gamestate() (map[string]any, error) {
	return e.object("gamestate")
}

func (e *Engine) Gameboard() (map[string]any, error) {
	return e.object("gameboard")
}

func (e *Engine) object(fn string) (map[string]any, error) {
	ret, err := e.call(fn, 1)
	if err != nil {
		return nil, err
	}
	switch v := e.fromLua(ret[0]).(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case []any:
		if len(v) == 0 {
			return map[string]any{}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s returned %s", ErrBadResult, fn, ret[0].Type())
}

func (e *Engine) PlayerViews(kind game.ViewKind) ([]game.ViewItem, error) {
	ret, err := e.call("player_views", 1, lua.LString(kind))
	if err != nil {
		return nil, err
	}
	raw, ok := e.fromLua(ret[0]).([]any)
	if !ok {
		if ret[0] == lua.LNil {
			return nil, nil
		}
		if m, isMap := e.fromLua(ret[0]).(map[string]any); isMap && len(m) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: player_views(%s) returned %s", ErrBadResult, kind, ret[0].Type())
	}

	items := make([]game.ViewItem, 0, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: player_views(%s)[%d] is not a table", ErrBadResult, kind, i+1)
		}
		id, _ := m["playerId"].(string)
		dirty, _ := m["dirty"].(bool)
		payload, _ := m["payload"].(map[string]any)
		if payload == nil {
			payload = map[string]any{}
		}
		items = append(items, game.ViewItem{PlayerID: id, Dirty: dirty, Payload: payload})
	}
	return items, nil
}

func (e *Engine) CurrentTurn() (string, error) {
	ret, err := e.call("current_turn", 1)
	if err != nil {
		return "", err
	}
	switch v := ret[0].(type) {
	case lua.LString:
		return string(v), nil
	case *lua.LNilType:
		return "", nil
	}
	return "", fmt.Errorf("%w: current_turn returned %s", ErrBadResult, ret[0].Type())
}

func (e *Engine) AvailableCharacters() ([]string, error) {
	ret, err := e.call("available_characters", 1)
	if err != nil {
		return nil, err
	}
	out := []string{}
	switch v := e.fromLua(ret[0]).(type) {
	case nil:
		return out, nil
	case map[string]any:
		if len(v) == 0 {
			return out, nil
		}
	case []any:
		for _, c := range v {
			s, ok := c.(string)
			if !ok {
				return nil, fmt.Errorf("%w: available_characters holds %T", ErrBadResult, c)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: available_characters returned %s", ErrBadResult, ret[0].Type())
}

func (e *Engine) fromLua(v lua.LValue) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fromLua(e.ls, v)
}
