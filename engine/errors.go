package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyScript matches any *EmptyScriptError with errors.Is.
	ErrEmptyScript = errors.New("engine: empty script")

	// ErrClosed is returned by Install and Tick after Close.
	ErrClosed = errors.New("engine: context is closed")

	errIsDirectory    = errors.New("is a directory")
	errNoTarget       = errors.New("no host target for this tick")
	errEntryNotFunc   = errors.New("entry point is not a function")
	errForeignRuntime = errors.New("unit was compiled against another runtime")
)

// ---------------------------------------------------------------------------
// Construction errors
// ---------------------------------------------------------------------------

// ContextError reports that the capability surface or one of its modules
// could not be installed. No context is returned alongside it.
type ContextError struct {
	Op  string
	Err error
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("engine: cannot build context: %s: %v", e.Op, e.Err)
}

func (e *ContextError) Unwrap() error { return e.Err }

// AllocError reports a failure to allocate a VM or to read a script into
// memory.
type AllocError struct {
	Op  string
	Err error
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("engine: allocation failed: %s: %v", e.Op, e.Err)
}

func (e *AllocError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Compile errors
// ---------------------------------------------------------------------------

// EmptyScriptError is returned for a source with no text. The compiler is
// not invoked.
type EmptyScriptError struct {
	Name string
}

func (e *EmptyScriptError) Error() string {
	return fmt.Sprintf("engine: script %s is empty", e.Name)
}

func (e *EmptyScriptError) Is(target error) bool { return target == ErrEmptyScript }

// PathError reports a script path that could not be opened.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("engine: cannot open script %s: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// BuildError is an internal failure of the parser or code generator, or a
// unit whose entry point is not a function once its main chunk has run.
type BuildError struct {
	Name string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("engine: cannot build %s: %v", e.Name, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// EmitError reports that a diagnostic report could not be written out.
type EmitError struct {
	Name string
	Err  error
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("engine: cannot emit diagnostics for %s: %v", e.Name, e.Err)
}

func (e *EmitError) Unwrap() error { return e.Err }

// DiagnosticError carries a report with at least one error entry. Report is
// the rendered text.
type DiagnosticError struct {
	Name        string
	Report      string
	Diagnostics []Diagnostic
}

func (e *DiagnosticError) Error() string {
	n := 0
	for _, d := range e.Diagnostics {
		if d.Severity == SeverityError {
			n++
		}
	}
	plural := "s"
	if n == 1 {
		plural = ""
	}
	return fmt.Sprintf("engine: %s failed to compile with %d error%s:\n%s", e.Name, n, plural, e.Report)
}

// ---------------------------------------------------------------------------
// Execution errors
// ---------------------------------------------------------------------------

// VmExecutionError wraps a fault raised while running script code. The
// active script survives it.
type VmExecutionError struct {
	Script string
	Entry  string
	Err    error
}

func (e *VmExecutionError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("engine: %s: %v", e.Script, e.Err)
	}
	return fmt.Sprintf("engine: %s: %s: %v", e.Script, e.Entry, e.Err)
}

func (e *VmExecutionError) Unwrap() error { return e.Err }

// NoActiveScriptError is returned by Tick under the NoScriptError policy.
type NoActiveScriptError struct{}

func (e *NoActiveScriptError) Error() string {
	return "engine: no active script"
}
