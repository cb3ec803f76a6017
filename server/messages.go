package server

import (
	"github.com/chazu/runeheart/config"
	"github.com/chazu/runeheart/engine"
	"github.com/chazu/runeheart/sim"
)

// Diagnostic is one compiler message on the wire.
type Diagnostic struct {
	Severity string `cbor:"severity"`
	Message  string `cbor:"message"`
	Line     int    `cbor:"line"`
	Column   int    `cbor:"column"`
}

func toDiagnostics(ds []engine.Diagnostic) []Diagnostic {
	out := make([]Diagnostic, len(ds))
	for i, d := range ds {
		out[i] = Diagnostic{
			Severity: d.Severity.String(),
			Message:  d.Message,
			Line:     d.Pos.Line,
			Column:   d.Pos.Column,
		}
	}
	return out
}

// CheckRequest asks for the diagnostics of a script without installing it.
type CheckRequest struct {
	Name   string `cbor:"name"`
	Source string `cbor:"source"`
}

// CheckResponse reports the outcome of a check. Report is the rendered
// diagnostics text.
type CheckResponse struct {
	OK          bool         `cbor:"ok"`
	Diagnostics []Diagnostic `cbor:"diagnostics"`
	Report      string       `cbor:"report"`
	Error       string       `cbor:"error"`
}

// CreateContextRequest describes the simulated world the new context acts
// on.
type CreateContextRequest struct {
	World config.World `cbor:"world"`
}

// CreateContextResponse returns the new context's id.
type CreateContextResponse struct {
	Context uint64 `cbor:"context"`
}

// SetScriptRequest compiles and installs a script in a context.
type SetScriptRequest struct {
	Context uint64 `cbor:"context"`
	Name    string `cbor:"name"`
	Source  string `cbor:"source"`
}

// SetScriptResponse reports whether the script was installed. On failure
// the previous script stays active.
type SetScriptResponse struct {
	OK       bool         `cbor:"ok"`
	Error    string       `cbor:"error"`
	Warnings []Diagnostic `cbor:"warnings"`
}

// TickRequest runs one tick in a context.
type TickRequest struct {
	Context uint64 `cbor:"context"`
}

// TickResponse carries the tick result rendered as text and the moves the
// tick applied to the world.
type TickResponse struct {
	Result string       `cbor:"result"`
	Error  string       `cbor:"error"`
	Moves  []MoveRecord `cbor:"moves"`
}

// MoveRecord is one applied move.
type MoveRecord struct {
	From  string `cbor:"from"`
	To    string `cbor:"to"`
	Slot  int64  `cbor:"slot"`
	Face  string `cbor:"face"`
	Item  string `cbor:"item"`
	Count int    `cbor:"count"`
}

func toMoveRecords(moves []sim.Move) []MoveRecord {
	out := make([]MoveRecord, len(moves))
	for i, m := range moves {
		out[i] = MoveRecord{
			From:  m.From,
			To:    m.To,
			Slot:  m.Slot,
			Face:  m.Face.String(),
			Item:  m.Item,
			Count: m.Count,
		}
	}
	return out
}

// DestroyContextRequest releases a context and its world.
type DestroyContextRequest struct {
	Context uint64 `cbor:"context"`
}

// DestroyContextResponse is empty.
type DestroyContextResponse struct{}
