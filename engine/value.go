package engine

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/runeheart/capability"
	lua "github.com/yuin/gopher-lua"
)

// Value is a tick result copied out of the VM. It is one of nil, bool,
// int64, float64, string, []Value, map[string]Value, or a value exported by
// a host module (snapshot.Entity, snapshot.Item, hostmod.Direction,
// hostmod.EntityTarget, hostmod.ScriptError).
type Value = any

const maxExportDepth = 64

// exportValue converts lv to plain Go data. Functions, coroutines and
// userdata without an exporter cannot leave the VM.
func exportValue(lv lua.LValue) (Value, error) {
	return exportAt(lv, 0, make(map[*lua.LTable]bool))
}

func exportAt(lv lua.LValue, depth int, visiting map[*lua.LTable]bool) (Value, error) {
	if depth > maxExportDepth {
		return nil, fmt.Errorf("result nests deeper than %d tables", maxExportDepth)
	}
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LString:
		return string(v), nil
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f), nil
		}
		return f, nil
	case *lua.LUserData:
		if ex, ok := v.Value.(capability.Exporter); ok {
			return ex.Export(), nil
		}
		return nil, fmt.Errorf("result contains userdata of type %T", v.Value)
	case *lua.LTable:
		if visiting[v] {
			return nil, fmt.Errorf("result contains a cyclic table")
		}
		visiting[v] = true
		defer delete(visiting, v)
		return exportTable(v, depth, visiting)
	default:
		return nil, fmt.Errorf("result contains a %s", lv.Type())
	}
}

// exportTable turns a sequence into []Value and anything else into
// map[string]Value.
func exportTable(t *lua.LTable, depth int, visiting map[*lua.LTable]bool) (Value, error) {
	n := t.Len()
	keys := 0
	t.ForEach(func(lua.LValue, lua.LValue) { keys++ })

	if keys == n {
		out := make([]Value, n)
		for i := 1; i <= n; i++ {
			v, err := exportAt(t.RawGetInt(i), depth+1, visiting)
			if err != nil {
				return nil, err
			}
			out[i-1] = v
		}
		return out, nil
	}

	out := make(map[string]Value, keys)
	var ferr error
	t.ForEach(func(k, v lua.LValue) {
		if ferr != nil {
			return
		}
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = kv.String()
		case lua.LBool:
			key = strconv.FormatBool(bool(kv))
		default:
			ferr = fmt.Errorf("result table has a %s key", k.Type())
			return
		}
		ev, err := exportAt(v, depth+1, visiting)
		if err != nil {
			ferr = err
			return
		}
		out[key] = ev
	})
	if ferr != nil {
		return nil, ferr
	}
	return out, nil
}

// FormatValue renders v the way a script would write it.
func FormatValue(v Value) string {
	var sb strings.Builder
	formatValue(&sb, v)
	return sb.String()
}

func formatValue(sb *strings.Builder, v Value) {
	switch x := v.(type) {
	case nil:
		sb.WriteString("nil")
	case string:
		sb.WriteString(strconv.Quote(x))
	case []Value:
		sb.WriteByte('{')
		for i, e := range x {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatValue(sb, e)
		}
		sb.WriteByte('}')
	case map[string]Value:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(" = ")
			formatValue(sb, x[k])
		}
		sb.WriteByte('}')
	case error:
		sb.WriteString("Error: ")
		sb.WriteString(x.Error())
	case fmt.Stringer:
		sb.WriteString(x.String())
	default:
		fmt.Fprintf(sb, "%v", x)
	}
}
