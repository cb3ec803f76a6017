package engine

import (
	"sort"

	"github.com/chazu/runeheart/capability"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
)

// ---------------------------------------------------------------------------
// Link analysis: checks a parsed chunk against the capability surface
// ---------------------------------------------------------------------------

// analyzer resolves every global a script reads or writes against the
// surface and the script's own global assignments. It also reports a few
// warnings that never block compilation.
type analyzer struct {
	surface *capability.Surface
	entry   string
	source  string
	diags   *Diagnostics

	// Globals the script assigns somewhere, collected before the main walk
	// so a function may call another defined further down.
	assigned map[string]bool

	// Top-level function definitions, name to first line.
	defined map[string]int

	scopes []*scope
}

// scope is one lexical block of local variables.
type scope struct {
	locals map[string]*local
}

type local struct {
	name   string
	line   int
	used   bool
	silent bool // parameters and loop variables are never reported unused
}

func newAnalyzer(s *capability.Surface, entry, source string, diags *Diagnostics) *analyzer {
	return &analyzer{
		surface:  s,
		entry:    entry,
		source:   source,
		diags:    diags,
		assigned: make(map[string]bool),
		defined:  make(map[string]int),
	}
}

func (a *analyzer) pos(line int) Position {
	return Position{Source: a.source, Line: line}
}

// Analyze walks chunk twice: once to collect assigned globals, once to check
// references. It reports into the analyzer's diagnostics.
func (a *analyzer) Analyze(chunk []ast.Stmt) {
	collectAssigned(chunk, a.assigned)

	a.push()
	for _, stmt := range chunk {
		if fd, ok := stmt.(*ast.FuncDefStmt); ok {
			a.noteTopLevel(fd)
		}
	}
	a.analyzeBlock(chunk)
	a.pop()

	if a.entry != "" && !a.assigned[a.entry] {
		line := 1
		if len(chunk) > 0 {
			line = chunk[0].Line()
		}
		a.diags.errorAt(a.pos(line), "entry point `%s` is never defined; declare `function %s(ctx, entities)`", a.entry, a.entry)
	}
}

func (a *analyzer) noteTopLevel(fd *ast.FuncDefStmt) {
	id, ok := fd.Name.Func.(*ast.IdentExpr)
	if !ok || fd.Name.Receiver != nil {
		return
	}
	if first, seen := a.defined[id.Value]; seen {
		a.diags.warnAt(a.pos(fd.Line()), "function `%s` redefines the one on line %d", id.Value, first)
		return
	}
	a.defined[id.Value] = fd.Line()
}

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

func (a *analyzer) push() {
	a.scopes = append(a.scopes, &scope{locals: make(map[string]*local)})
}

// pop closes the innermost scope and reports locals that were never read.
func (a *analyzer) pop() {
	top := a.scopes[len(a.scopes)-1]
	a.scopes = a.scopes[:len(a.scopes)-1]

	var unused []*local
	for _, l := range top.locals {
		if !l.used && !l.silent && l.name[0] != '_' {
			unused = append(unused, l)
		}
	}
	sort.Slice(unused, func(i, j int) bool {
		if unused[i].line != unused[j].line {
			return unused[i].line < unused[j].line
		}
		return unused[i].name < unused[j].name
	})
	for _, l := range unused {
		a.diags.warnAt(a.pos(l.line), "unused local `%s`", l.name)
	}
}

func (a *analyzer) declare(name string, line int, silent bool) {
	if !silent && a.surface.Provides(name) {
		a.diags.warnAt(a.pos(line), "local `%s` shadows a host-provided global", name)
	}
	top := a.scopes[len(a.scopes)-1]
	if prev, ok := top.locals[name]; ok && !prev.used && !prev.silent && name[0] != '_' {
		// Redeclared in the same block before any read: the first is dead.
		a.diags.warnAt(a.pos(prev.line), "unused local `%s`", name)
	}
	top.locals[name] = &local{name: name, line: line, silent: silent}
}

func (a *analyzer) lookup(name string) *local {
	for i := len(a.scopes) - 1; i >= 0; i-- {
		if l, ok := a.scopes[i].locals[name]; ok {
			return l
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (a *analyzer) analyzeBlock(stmts []ast.Stmt) {
	for _, stmt := range stmts {
		a.analyzeStmt(stmt)
	}
	a.checkUnreachableCode(stmts)
}

func (a *analyzer) scopedBlock(stmts []ast.Stmt) {
	a.push()
	a.analyzeBlock(stmts)
	a.pop()
}

func (a *analyzer) analyzeStmt(stmt ast.Stmt) {
	switch st := stmt.(type) {
	case *ast.AssignStmt:
		a.analyzeExprs(st.Rhs)
		for _, lhs := range st.Lhs {
			a.analyzeTarget(lhs)
		}
	case *ast.LocalAssignStmt:
		// "local function f" must see f inside its own body.
		if len(st.Names) == 1 && len(st.Exprs) == 1 {
			if _, ok := st.Exprs[0].(*ast.FunctionExpr); ok {
				a.declare(st.Names[0], st.Line(), false)
				a.analyzeExpr(st.Exprs[0])
				return
			}
		}
		a.analyzeExprs(st.Exprs)
		for _, name := range st.Names {
			a.declare(name, st.Line(), false)
		}
	case *ast.FuncCallStmt:
		a.analyzeExpr(st.Expr)
	case *ast.DoBlockStmt:
		a.scopedBlock(st.Stmts)
	case *ast.WhileStmt:
		a.analyzeExpr(st.Condition)
		a.scopedBlock(st.Stmts)
	case *ast.RepeatStmt:
		// The condition sees the body's locals.
		a.push()
		a.analyzeBlock(st.Stmts)
		a.analyzeExpr(st.Condition)
		a.pop()
	case *ast.IfStmt:
		a.analyzeExpr(st.Condition)
		a.scopedBlock(st.Then)
		if len(st.Else) > 0 {
			a.scopedBlock(st.Else)
		}
	case *ast.NumberForStmt:
		a.analyzeExpr(st.Init)
		a.analyzeExpr(st.Limit)
		if st.Step != nil {
			a.analyzeExpr(st.Step)
		}
		a.push()
		a.declare(st.Name, st.Line(), true)
		a.analyzeBlock(st.Stmts)
		a.pop()
	case *ast.GenericForStmt:
		a.analyzeExprs(st.Exprs)
		a.push()
		for _, name := range st.Names {
			a.declare(name, st.Line(), true)
		}
		a.analyzeBlock(st.Stmts)
		a.pop()
	case *ast.FuncDefStmt:
		a.analyzeFuncDef(st)
	case *ast.ReturnStmt:
		a.analyzeExprs(st.Exprs)
	case *ast.BreakStmt, *ast.GotoStmt, *ast.LabelStmt:
		// OK
	}
}

func (a *analyzer) analyzeFuncDef(st *ast.FuncDefStmt) {
	if st.Name.Receiver != nil {
		// function obj:method() reads obj and binds an implicit self.
		a.analyzeExpr(st.Name.Receiver)
		a.analyzeFunction(st.Func, true)
		return
	}
	a.analyzeTarget(st.Name.Func)
	a.analyzeFunction(st.Func, false)
}

func (a *analyzer) analyzeFunction(fn *ast.FunctionExpr, method bool) {
	a.push()
	if method {
		a.declare("self", fn.Line(), true)
	}
	for _, name := range fn.ParList.Names {
		a.declare(name, fn.Line(), true)
	}
	if fn.ParList.HasVargs && lua.CompatVarArg {
		a.declare("arg", fn.Line(), true)
	}
	a.analyzeBlock(fn.Stmts)
	a.pop()
}

// analyzeTarget checks the left-hand side of an assignment.
func (a *analyzer) analyzeTarget(expr ast.Expr) {
	switch e := expr.(type) {
	case *ast.IdentExpr:
		if a.lookup(e.Value) != nil {
			return
		}
		if a.surface.Provides(e.Value) {
			a.diags.errorAt(a.pos(e.Line()), "cannot assign to host-provided global `%s`", e.Value)
		}
	case *ast.AttrGetExpr:
		if name, ok := globalTableKey(e); ok && a.lookup("_G") == nil && a.surface.Provides(name) {
			a.diags.errorAt(a.pos(e.Line()), "cannot assign to host-provided global `%s`", name)
		}
		a.analyzeExpr(e.Object)
		a.analyzeExpr(e.Key)
	default:
		a.analyzeExpr(expr)
	}
}

// checkUnreachableCode warns once about the first statement that follows a
// statement which never falls through. A label may still be reached by goto.
func (a *analyzer) checkUnreachableCode(stmts []ast.Stmt) {
	for i, stmt := range stmts {
		if !terminates(stmt) || i == len(stmts)-1 {
			continue
		}
		next := stmts[i+1]
		if _, isLabel := next.(*ast.LabelStmt); isLabel {
			continue
		}
		a.diags.warnAt(a.pos(next.Line()), "unreachable code after line %d", stmt.Line())
		return
	}
}

// terminates reports whether control never continues past stmt.
func terminates(stmt ast.Stmt) bool {
	switch st := stmt.(type) {
	case *ast.ReturnStmt, *ast.BreakStmt, *ast.GotoStmt:
		return true
	case *ast.DoBlockStmt:
		return len(st.Stmts) > 0 && terminates(st.Stmts[len(st.Stmts)-1])
	case *ast.IfStmt:
		if len(st.Then) == 0 || len(st.Else) == 0 {
			return false
		}
		return terminates(st.Then[len(st.Then)-1]) && terminates(st.Else[len(st.Else)-1])
	case *ast.FuncCallStmt:
		call, ok := st.Expr.(*ast.FuncCallExpr)
		if !ok || call.Receiver != nil {
			return false
		}
		id, ok := call.Func.(*ast.IdentExpr)
		return ok && id.Value == "error"
	}
	return false
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (a *analyzer) analyzeExprs(exprs []ast.Expr) {
	for _, e := range exprs {
		a.analyzeExpr(e)
	}
}

func (a *analyzer) analyzeExpr(expr ast.Expr) {
	switch e := expr.(type) {
	case nil:
		// OK
	case *ast.IdentExpr:
		a.checkGlobalDefined(e)
	case *ast.AttrGetExpr:
		a.analyzeExpr(e.Object)
		a.analyzeExpr(e.Key)
	case *ast.TableExpr:
		for _, f := range e.Fields {
			a.analyzeExpr(f.Key)
			a.analyzeExpr(f.Value)
		}
	case *ast.FuncCallExpr:
		a.analyzeExpr(e.Func)
		a.analyzeExpr(e.Receiver)
		a.analyzeExprs(e.Args)
	case *ast.LogicalOpExpr:
		a.analyzeExpr(e.Lhs)
		a.analyzeExpr(e.Rhs)
	case *ast.RelationalOpExpr:
		a.analyzeExpr(e.Lhs)
		a.analyzeExpr(e.Rhs)
	case *ast.StringConcatOpExpr:
		a.analyzeExpr(e.Lhs)
		a.analyzeExpr(e.Rhs)
	case *ast.ArithmeticOpExpr:
		a.analyzeExpr(e.Lhs)
		a.analyzeExpr(e.Rhs)
	case *ast.UnaryMinusOpExpr:
		a.analyzeExpr(e.Expr)
	case *ast.UnaryNotOpExpr:
		a.analyzeExpr(e.Expr)
	case *ast.UnaryLenOpExpr:
		a.analyzeExpr(e.Expr)
	case *ast.FunctionExpr:
		a.analyzeFunction(e, false)
	// Literals need no checking
	case *ast.NilExpr, *ast.TrueExpr, *ast.FalseExpr, *ast.NumberExpr, *ast.StringExpr, *ast.Comma3Expr:
		// OK
	}
}

// checkGlobalDefined resolves a read of name.
func (a *analyzer) checkGlobalDefined(id *ast.IdentExpr) {
	if l := a.lookup(id.Value); l != nil {
		l.used = true
		return
	}
	if a.surface.Provides(id.Value) || a.assigned[id.Value] {
		return
	}
	a.diags.errorAt(a.pos(id.Line()), "undefined global `%s`", id.Value)
}

// ---------------------------------------------------------------------------
// Global assignment collection
// ---------------------------------------------------------------------------

// collectAssigned records every global the chunk assigns or defines as a
// function. A name bound by an enclosing local, parameter or loop variable is
// not a global. Assignments through _G with a constant key count too.
func collectAssigned(stmts []ast.Stmt, out map[string]bool) {
	g := &globalCollector{out: out}
	g.block(stmts)
}

// globalCollector tracks only which names are bound locally; it reports
// nothing.
type globalCollector struct {
	scopes []map[string]bool
	out    map[string]bool
}

func (g *globalCollector) push() { g.scopes = append(g.scopes, make(map[string]bool)) }
func (g *globalCollector) pop()  { g.scopes = g.scopes[:len(g.scopes)-1] }

func (g *globalCollector) bind(names ...string) {
	top := g.scopes[len(g.scopes)-1]
	for _, name := range names {
		top[name] = true
	}
}

func (g *globalCollector) bound(name string) bool {
	for i := len(g.scopes) - 1; i >= 0; i-- {
		if g.scopes[i][name] {
			return true
		}
	}
	return false
}

func (g *globalCollector) block(stmts []ast.Stmt) {
	g.push()
	g.stmts(stmts)
	g.pop()
}

func (g *globalCollector) stmts(stmts []ast.Stmt) {
	for _, stmt := range stmts {
		g.stmt(stmt)
	}
}

func (g *globalCollector) stmt(stmt ast.Stmt) {
	switch st := stmt.(type) {
	case *ast.AssignStmt:
		g.exprs(st.Rhs)
		for _, lhs := range st.Lhs {
			g.target(lhs)
		}
	case *ast.LocalAssignStmt:
		if len(st.Names) == 1 && len(st.Exprs) == 1 {
			if _, ok := st.Exprs[0].(*ast.FunctionExpr); ok {
				g.bind(st.Names[0])
				g.exprs(st.Exprs)
				return
			}
		}
		g.exprs(st.Exprs)
		g.bind(st.Names...)
	case *ast.FuncCallStmt:
		g.expr(st.Expr)
	case *ast.FuncDefStmt:
		if st.Name.Receiver != nil {
			g.expr(st.Name.Receiver)
			g.function(st.Func, true)
			return
		}
		g.target(st.Name.Func)
		g.function(st.Func, false)
	case *ast.DoBlockStmt:
		g.block(st.Stmts)
	case *ast.WhileStmt:
		g.expr(st.Condition)
		g.block(st.Stmts)
	case *ast.RepeatStmt:
		g.push()
		g.stmts(st.Stmts)
		g.expr(st.Condition)
		g.pop()
	case *ast.IfStmt:
		g.expr(st.Condition)
		g.block(st.Then)
		g.block(st.Else)
	case *ast.NumberForStmt:
		g.exprs([]ast.Expr{st.Init, st.Limit, st.Step})
		g.push()
		g.bind(st.Name)
		g.stmts(st.Stmts)
		g.pop()
	case *ast.GenericForStmt:
		g.exprs(st.Exprs)
		g.push()
		g.bind(st.Names...)
		g.stmts(st.Stmts)
		g.pop()
	case *ast.ReturnStmt:
		g.exprs(st.Exprs)
	}
}

// target records the left-hand side of an assignment if it names a global.
func (g *globalCollector) target(expr ast.Expr) {
	switch e := expr.(type) {
	case *ast.IdentExpr:
		if !g.bound(e.Value) {
			g.out[e.Value] = true
		}
	case *ast.AttrGetExpr:
		if name, ok := globalTableKey(e); ok && !g.bound("_G") {
			g.out[name] = true
		}
		g.expr(e.Object)
		g.expr(e.Key)
	default:
		g.expr(expr)
	}
}

func (g *globalCollector) function(fn *ast.FunctionExpr, method bool) {
	g.push()
	if method {
		g.bind("self")
	}
	g.bind(fn.ParList.Names...)
	if fn.ParList.HasVargs && lua.CompatVarArg {
		g.bind("arg")
	}
	g.stmts(fn.Stmts)
	g.pop()
}

func (g *globalCollector) exprs(exprs []ast.Expr) {
	for _, e := range exprs {
		g.expr(e)
	}
}

// expr descends into expressions looking for function literals.
func (g *globalCollector) expr(expr ast.Expr) {
	switch e := expr.(type) {
	case *ast.FunctionExpr:
		g.function(e, false)
	case *ast.FuncCallExpr:
		g.expr(e.Func)
		g.expr(e.Receiver)
		g.exprs(e.Args)
	case *ast.AttrGetExpr:
		g.expr(e.Object)
		g.expr(e.Key)
	case *ast.TableExpr:
		for _, f := range e.Fields {
			g.expr(f.Key)
			g.expr(f.Value)
		}
	case *ast.LogicalOpExpr:
		g.expr(e.Lhs)
		g.expr(e.Rhs)
	case *ast.RelationalOpExpr:
		g.expr(e.Lhs)
		g.expr(e.Rhs)
	case *ast.StringConcatOpExpr:
		g.expr(e.Lhs)
		g.expr(e.Rhs)
	case *ast.ArithmeticOpExpr:
		g.expr(e.Lhs)
		g.expr(e.Rhs)
	case *ast.UnaryMinusOpExpr:
		g.expr(e.Expr)
	case *ast.UnaryNotOpExpr:
		g.expr(e.Expr)
	case *ast.UnaryLenOpExpr:
		g.expr(e.Expr)
	}
}

// globalTableKey matches _G.name and _G["name"].
func globalTableKey(e *ast.AttrGetExpr) (string, bool) {
	obj, ok := e.Object.(*ast.IdentExpr)
	if !ok || obj.Value != "_G" {
		return "", false
	}
	key, ok := e.Key.(*ast.StringExpr)
	if !ok {
		return "", false
	}
	return key.Value, true
}

// globalsAssigned returns the names a chunk assigns, sorted.
func globalsAssigned(chunk []ast.Stmt) []string {
	set := make(map[string]bool)
	collectAssigned(chunk, set)
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
