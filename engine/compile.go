package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// Unit is a compiled script linked against one Runtime. It is immutable and
// may be installed into any context that owns that runtime.
type Unit struct {
	Name     string
	Proto    *lua.FunctionProto
	Warnings []Diagnostic
	Hash     [sha256.Size]byte

	runtime *Runtime
}

// Runtime returns the runtime the unit was linked against.
func (u *Unit) Runtime() *Runtime { return u.runtime }

// Digest returns the hex SHA-256 of the unit's source text.
func (u *Unit) Digest() string { return hex.EncodeToString(u.Hash[:]) }

// CompileOption adjusts a single compilation.
type CompileOption func(*compileConfig)

type compileConfig struct {
	out io.Writer
}

// EmitTo also writes a failing report to w. A write failure turns the
// result into an *EmitError.
func EmitTo(w io.Writer) CompileOption {
	return func(c *compileConfig) { c.out = w }
}

// Compile turns src into a Unit linked against rt. It either returns a unit
// whose report has no errors, or no unit and an error. Warnings are kept on
// the unit.
func Compile(src Source, rt *Runtime, opts ...CompileOption) (*Unit, error) {
	var cfg compileConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	text, err := src.load()
	if err != nil {
		return nil, err
	}
	name := src.Name()

	var diags Diagnostics
	chunk, err := parse.Parse(strings.NewReader(text), name)
	if err != nil {
		var perr *parse.Error
		if !errors.As(err, &perr) {
			return nil, &BuildError{Name: name, Err: err}
		}
		diags.errorAt(syntaxPos(perr, name, text), "syntax error near '%s': %s", perr.Token, perr.Message)
	} else {
		newAnalyzer(rt.surface, rt.entry, name, &diags).Analyze(chunk)
	}

	var proto *lua.FunctionProto
	if !diags.HasError() {
		proto, err = generate(chunk, name)
		if err != nil {
			var cerr *lua.CompileError
			if !errors.As(err, &cerr) {
				return nil, &BuildError{Name: name, Err: err}
			}
			diags.errorAt(Position{Source: name, Line: cerr.Line}, "%s", cerr.Message)
		}
	}

	if diags.HasError() {
		var buf bytes.Buffer
		if err := diags.Emit(&buf, text); err != nil {
			return nil, &EmitError{Name: name, Err: err}
		}
		if cfg.out != nil {
			if _, err := cfg.out.Write(buf.Bytes()); err != nil {
				return nil, &EmitError{Name: name, Err: err}
			}
		}
		return nil, &DiagnosticError{Name: name, Report: buf.String(), Diagnostics: diags.All()}
	}

	return &Unit{
		Name:     name,
		Proto:    proto,
		Warnings: diags.Warnings(),
		Hash:     sha256.Sum256([]byte(text)),
		runtime:  rt,
	}, nil
}

// generate runs the code generator, turning any panic it does not report
// itself into an error.
func generate(chunk []ast.Stmt, name string) (proto *lua.FunctionProto, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("code generator panic: %v", r)
		}
	}()
	return lua.Compile(chunk, name)
}

// syntaxPos converts a parser position. The parser reports end of input
// as line -1; point at the last line instead.
func syntaxPos(perr *parse.Error, name, text string) Position {
	pos := Position{Source: name, Line: perr.Pos.Line, Column: perr.Pos.Column}
	if pos.Line < 1 {
		pos.Line = strings.Count(strings.TrimRight(text, "\n"), "\n") + 1
		pos.Column = 0
	}
	return pos
}
