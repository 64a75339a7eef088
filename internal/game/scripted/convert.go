package scripted

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// arrayMarker is the metatable field the ruleset's array() helper sets.
const arrayMarker = "__array"

// toLua converts the JSON-shaped values the bridge passes in.
func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(x)
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case []string:
		t := L.NewTable()
		for _, s := range x {
			t.Append(lua.LString(s))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, e := range x {
			t.Append(toLua(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, e := range x {
			t.RawSetString(k, toLua(L, e))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// fromLua converts a Lua value into JSON-shaped Go values. Functions and
// userdata have no wire form and become nil.
func fromLua(L *lua.LState, v lua.LValue) any {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LString:
		return string(x)
	case lua.LNumber:
		return float64(x)
	case *lua.LTable:
		return tableFromLua(L, x)
	default:
		return nil
	}
}

func tableFromLua(L *lua.LState, t *lua.LTable) any {
	n := t.MaxN()
	marked := L.GetMetaField(t, arrayMarker) == lua.LTrue

	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if marked || (n > 0 && count == n) {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, fromLua(L, t.RawGetInt(i)))
		}
		return out
	}

	out := make(map[string]any, count)
	t.ForEach(func(k, val lua.LValue) {
		out[k.String()] = fromLua(L, val)
	})
	return out
}
