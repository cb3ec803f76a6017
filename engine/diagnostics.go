package engine

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Severity classifies a diagnostic. Only errors block compilation.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "severity(" + strconv.Itoa(int(s)) + ")"
	}
}

// Position locates a diagnostic in its source. Column is 0 when unknown.
type Position struct {
	Source string
	Line   int
	Column int
}

func (p Position) String() string {
	if p.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", p.Source, p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d", p.Source, p.Line)
}

// Diagnostic is one compiler message.
type Diagnostic struct {
	Severity Severity
	Pos      Position
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Pos, d.Severity, d.Message)
}

// Diagnostics is an ordered report collected during one compilation.
type Diagnostics struct {
	items []Diagnostic
}

// Add appends d to the report.
func (ds *Diagnostics) Add(d Diagnostic) {
	ds.items = append(ds.items, d)
}

func (ds *Diagnostics) errorAt(pos Position, format string, args ...interface{}) {
	ds.Add(Diagnostic{Severity: SeverityError, Pos: pos, Message: fmt.Sprintf(format, args...)})
}

func (ds *Diagnostics) warnAt(pos Position, format string, args ...interface{}) {
	ds.Add(Diagnostic{Severity: SeverityWarning, Pos: pos, Message: fmt.Sprintf(format, args...)})
}

// HasError reports whether any entry has error severity.
func (ds *Diagnostics) HasError() bool {
	for _, d := range ds.items {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// All returns a copy of every entry in report order.
func (ds *Diagnostics) All() []Diagnostic {
	out := make([]Diagnostic, len(ds.items))
	copy(out, ds.items)
	return out
}

// Warnings returns the warning entries.
func (ds *Diagnostics) Warnings() []Diagnostic {
	return ds.filter(SeverityWarning)
}

// Errors returns the error entries.
func (ds *Diagnostics) Errors() []Diagnostic {
	return ds.filter(SeverityError)
}

func (ds *Diagnostics) filter(sev Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range ds.items {
		if d.Severity == sev {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of entries.
func (ds *Diagnostics) Len() int { return len(ds.items) }

// Emit renders the report as plain text, quoting the offending line of text
// under each message:
//
//	error: undefined global `tock`
//	 --> main.lua:3:5
//	  |
//	3 |     tock()
//	  |     ^
func (ds *Diagnostics) Emit(w io.Writer, text string) error {
	lines := strings.Split(text, "\n")
	bw := bufio.NewWriter(w)
	for i, d := range ds.items {
		if i > 0 {
			fmt.Fprintln(bw)
		}
		fmt.Fprintf(bw, "%s: %s\n", d.Severity, d.Message)
		fmt.Fprintf(bw, " --> %s\n", d.Pos)

		if d.Pos.Line < 1 || d.Pos.Line > len(lines) {
			continue
		}
		num := strconv.Itoa(d.Pos.Line)
		gutter := strings.Repeat(" ", len(num))
		src := strings.TrimRight(lines[d.Pos.Line-1], "\r")
		fmt.Fprintf(bw, "%s |\n", gutter)
		fmt.Fprintf(bw, "%s | %s\n", num, src)
		if d.Pos.Column > 0 && d.Pos.Column <= len(src)+1 {
			pad := strings.Map(func(r rune) rune {
				if r == '\t' {
					return '\t'
				}
				return ' '
			}, src[:d.Pos.Column-1])
			fmt.Fprintf(bw, "%s | %s^\n", gutter, pad)
		}
	}
	return bw.Flush()
}

// Render returns the report emitted to a string.
func (ds *Diagnostics) Render(text string) string {
	var sb strings.Builder
	_ = ds.Emit(&sb, text)
	return sb.String()
}
