package server

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/runeheart/capability"
	"github.com/chazu/runeheart/engine"
	"github.com/chazu/runeheart/registry"
)

const lspName = "runeheart-lsp"

// LspServer bridges LSP editor features to the script compiler via Worker.
type LspServer struct {
	worker *Worker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server. opts configure the compiler the same
// way they configure execution contexts.
func NewLSP(opts ...engine.Option) (*LspServer, error) {
	worker, err := NewWorker(opts...)
	if err != nil {
		return nil, err
	}
	s := &LspServer{
		worker:  worker,
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s, nil
}

// Run serves stdio until the editor goes away.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// Sync is full; only the newest text matters.
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}

	result, err := s.worker.Do(func(h *Host) (any, error) {
		return complete(h.checker.Surface(), prefix), nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	result, err := s.worker.Do(func(h *Host) (any, error) {
		return hover(h.checker, word), nil
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result.(*protocol.Hover), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	loc, ok := definition(uri, text, word)
	if !ok {
		return nil, nil
	}
	return []protocol.Location{loc}, nil
}

// Surface lookups below run on the worker goroutine.

func complete(surface *capability.Surface, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)

	for _, g := range surface.Globals() {
		if !strings.HasPrefix(strings.ToLower(g.Name), lowerPrefix) {
			continue
		}
		kind := protocol.CompletionItemKindVariable
		if g.Module != "" && len(g.Name) > 0 && unicode.IsLower(rune(g.Name[0])) {
			kind = protocol.CompletionItemKindFunction
		}
		detail := g.Module
		name := g.Name
		item := protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &name,
		}
		if g.Doc != "" {
			item.Documentation = g.Doc
		}
		items = append(items, item)
	}

	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func hover(c *engine.Context, word string) *protocol.Hover {
	var b strings.Builder
	if word == c.EntryPoint() {
		fmt.Fprintf(&b, "**%s**(ctx, entities)\n\nEntry point, called once per tick.", word)
	} else {
		g, ok := c.Surface().Lookup(word)
		if !ok {
			return nil
		}
		fmt.Fprintf(&b, "**%s**", g.Name)
		if g.Module != "" {
			fmt.Fprintf(&b, " (%s)", g.Module)
		}
		if g.Doc != "" {
			b.WriteString("\n\n---\n\n")
			b.WriteString(g.Doc)
		}
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

var functionDef = regexp.MustCompile(`^\s*(?:local\s+)?function\s+([A-Za-z_][A-Za-z0-9_.:]*)`)

// definition finds the line declaring the function named word.
func definition(uri protocol.DocumentUri, text, word string) (protocol.Location, bool) {
	for i, line := range strings.Split(text, "\n") {
		m := functionDef.FindStringSubmatchIndex(line)
		if m == nil {
			continue
		}
		name := line[m[2]:m[3]]
		if j := strings.LastIndexAny(name, ".:"); j >= 0 {
			name = name[j+1:]
		}
		if name != word {
			continue
		}
		start := protocol.Position{Line: protocol.UInteger(i), Character: protocol.UInteger(m[3] - len(word))}
		end := protocol.Position{Line: protocol.UInteger(i), Character: protocol.UInteger(m[3])}
		return protocol.Location{URI: uri, Range: protocol.Range{Start: start, End: end}}, true
	}
	return protocol.Location{}, false
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	src := engine.Memory(documentName(uri), text)
	result, err := s.worker.Do(func(h *Host) (any, error) {
		return compileDiagnostics(h.checker.Compile(src)), nil
	})
	if err != nil {
		return
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: result.([]protocol.Diagnostic),
	})
}

// compileDiagnostics converts the outcome of a compile into LSP
// diagnostics: the warnings of a unit, or every entry of a failed report.
func compileDiagnostics(u *engine.Unit, err error) []protocol.Diagnostic {
	if err == nil {
		return lspDiagnostics(u.Warnings)
	}
	var derr *engine.DiagnosticError
	if errors.As(err, &derr) {
		return lspDiagnostics(derr.Diagnostics)
	}

	source := lspName
	severity := protocol.DiagnosticSeverityError
	return []protocol.Diagnostic{{
		Severity: &severity,
		Source:   &source,
		Message:  registry.Render(err),
	}}
}

func lspDiagnostics(ds []engine.Diagnostic) []protocol.Diagnostic {
	source := lspName
	out := make([]protocol.Diagnostic, 0, len(ds))
	for _, d := range ds {
		severity := protocol.DiagnosticSeverityError
		if d.Severity == engine.SeverityWarning {
			severity = protocol.DiagnosticSeverityWarning
		}
		out = append(out, protocol.Diagnostic{
			Range:    diagnosticRange(d.Pos),
			Severity: &severity,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return out
}

// diagnosticRange converts a 1-based position into an LSP range. Without a
// column the whole start of the line is marked.
func diagnosticRange(p engine.Position) protocol.Range {
	line := protocol.UInteger(0)
	if p.Line > 0 {
		line = protocol.UInteger(p.Line - 1)
	}
	if p.Column <= 0 {
		return protocol.Range{
			Start: protocol.Position{Line: line},
			End:   protocol.Position{Line: line},
		}
	}
	col := protocol.UInteger(p.Column - 1)
	return protocol.Range{
		Start: protocol.Position{Line: line, Character: col},
		End:   protocol.Position{Line: line, Character: col + 1},
	}
}

// documentName returns the file name of a document URI.
func documentName(uri protocol.DocumentUri) string {
	u, err := url.Parse(string(uri))
	if err != nil || u.Path == "" {
		return string(uri)
	}
	return path.Base(u.Path)
}

// extractPrefix returns the identifier fragment before the cursor for
// completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentByte(line[start-1]) {
		start--
	}

	if start == col {
		return ""
	}
	return line[start:col]
}

// extractWord widens the cursor position to the surrounding name.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentByte(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isIdentByte(line[end]) {
		end++
	}

	if start == end {
		return ""
	}
	return line[start:end]
}

func isIdentByte(ch byte) bool {
	r := rune(ch)
	return unicode.IsLetter(r) || unicode.IsDigit(r) || ch == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
