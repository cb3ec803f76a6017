package capability

import (
	lua "github.com/yuin/gopher-lua"
)

// DefaultLibraries are the language libraries enabled when a host does not
// choose its own set.
var DefaultLibraries = []string{"base", "table", "string", "math"}

type library struct {
	name    string
	luaName string
	open    lua.LGFunction
	globals []Global
	strip   []string
}

// libraries lists the language built-ins a surface may enable. The base
// library loses everything that loads code or touches the filesystem.
var libraries = map[string]library{
	"base": {
		name:    "base",
		luaName: lua.BaseLibName,
		open:    lua.OpenBase,
		globals: []Global{
			{Name: "_G", Doc: "The global environment table."},
			{Name: "_VERSION", Doc: "Language version string."},
			{Name: "assert", Doc: "assert(v [, message]) raises an error when v is false or nil."},
			{Name: "error", Doc: "error(message [, level]) raises an error."},
			{Name: "getmetatable", Doc: "getmetatable(object) returns the metatable of object."},
			{Name: "ipairs", Doc: "ipairs(t) iterates the array part of t."},
			{Name: "next", Doc: "next(t [, k]) returns the next key/value pair of t."},
			{Name: "pairs", Doc: "pairs(t) iterates every key/value pair of t."},
			{Name: "pcall", Doc: "pcall(f, ...) calls f in protected mode."},
			{Name: "print", Doc: "print(...) writes its arguments to standard output."},
			{Name: "rawequal", Doc: "rawequal(a, b) compares without metamethods."},
			{Name: "rawget", Doc: "rawget(t, k) reads without metamethods."},
			{Name: "rawset", Doc: "rawset(t, k, v) writes without metamethods."},
			{Name: "select", Doc: "select(n, ...) returns arguments after n, or their count with '#'."},
			{Name: "setmetatable", Doc: "setmetatable(t, mt) sets the metatable of a table."},
			{Name: "tonumber", Doc: "tonumber(v [, base]) converts v to a number."},
			{Name: "tostring", Doc: "tostring(v) converts v to a string."},
			{Name: "type", Doc: "type(v) returns the type name of v."},
			{Name: "unpack", Doc: "unpack(t [, i [, j]]) returns the elements of t."},
			{Name: "xpcall", Doc: "xpcall(f, handler) calls f with an error handler."},
		},
		strip: []string{
			"collectgarbage", "dofile", "getfenv", "load", "loadfile",
			"loadstring", "module", "newproxy", "require", "setfenv", "_printregs",
		},
	},
	"table": {
		name:    "table",
		luaName: lua.TabLibName,
		open:    lua.OpenTable,
		globals: []Global{{Name: "table", Doc: "Table manipulation: insert, remove, concat, sort, maxn."}},
	},
	"string": {
		name:    "string",
		luaName: lua.StringLibName,
		open:    lua.OpenString,
		globals: []Global{{Name: "string", Doc: "String manipulation: find, format, gsub, match, sub, ..."}},
	},
	"math": {
		name:    "math",
		luaName: lua.MathLibName,
		open:    lua.OpenMath,
		globals: []Global{{Name: "math", Doc: "Mathematical functions: floor, max, min, random, ..."}},
	},
	"coroutine": {
		name:    "coroutine",
		luaName: lua.CoroutineLibName,
		open:    lua.OpenCoroutine,
		globals: []Global{{Name: "coroutine", Doc: "Coroutine support: create, resume, yield, status."}},
	},
}

// KnownLibrary reports whether name can be passed to NewSurface.
func KnownLibrary(name string) bool {
	_, ok := libraries[name]
	return ok
}
