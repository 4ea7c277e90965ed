package server

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/ebc/compile"
	"github.com/chazu/ebc/pkg/ast"
	"github.com/chazu/ebc/pkg/parser"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "ebc-lsp"

var keywords = []string{"else", "func", "if", "return"}

// LspServer provides diagnostics, hover, completion, definition and
// references for ebc source files.
type LspServer struct {
	worker *Worker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server checking documents with p.
func NewLSP(p *compile.Pipeline) *LspServer {
	s := &LspServer{
		worker:  NewWorker(p),
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
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "ebc LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

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

// --- Document synchronization ---

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

	// With Full sync, the last change event contains the full text
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

	// Clear diagnostics for the closed document
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

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return s.complete(text, params.Position), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return s.hover(text, params.Position), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	locations := s.definition(uri, text, params.Position)
	if len(locations) == 0 {
		return nil, nil
	}
	return locations, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	return s.references(uri, text, params.Position), nil
}

// --- Source-backed logic ---

func (s *LspServer) complete(text string, pos protocol.Position) []protocol.CompletionItem {
	prefix := extractPrefix(text, pos)
	if prefix == "" {
		return nil
	}

	var items []protocol.CompletionItem
	seen := make(map[string]bool)
	add := func(label, detail string, kind protocol.CompletionItemKind) {
		if seen[label] || !strings.HasPrefix(label, prefix) {
			return
		}
		seen[label] = true
		insert := label
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &insert,
		})
	}

	if prog, err := parser.Parse(text); err == nil {
		sigs := outline(prog)
		if enclosing := innermost(sigs, pos); enclosing != nil {
			for _, p := range enclosing.Params {
				add(p, "parameter of "+enclosing.Name, protocol.CompletionItemKindVariable)
			}
		}
		for _, sig := range sigs {
			add(sig.Name, sig.String(), protocol.CompletionItemKindFunction)
		}
	}
	for _, kw := range keywords {
		add(kw, "keyword", protocol.CompletionItemKindKeyword)
	}
	return items
}

func (s *LspServer) hover(text string, pos protocol.Position) *protocol.Hover {
	word := extractWord(text, pos)
	if word == "" {
		return nil
	}
	prog, err := parser.Parse(text)
	if err != nil {
		return nil
	}
	sigs := outline(prog)

	var b strings.Builder
	if enclosing := innermost(sigs, pos); enclosing != nil {
		for _, p := range enclosing.Params {
			if p == word {
				fmt.Fprintf(&b, "parameter `%s` of\n```\n%s\n```", word, enclosing)
				return markdownHover(b.String())
			}
		}
	}

	for _, sig := range sigs {
		if sig.Name != word {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&b, "```\n%s\n```\n\ndefined at line %d", sig, sig.Span.Start.Line)
	}
	if b.Len() == 0 {
		return nil
	}
	return markdownHover(b.String())
}

func (s *LspServer) definition(uri protocol.DocumentUri, text string, pos protocol.Position) []protocol.Location {
	word := extractWord(text, pos)
	if word == "" {
		return nil
	}
	prog, err := parser.Parse(text)
	if err != nil {
		return nil
	}

	var locations []protocol.Location
	for _, sig := range outline(prog) {
		if sig.Name == word {
			locations = append(locations, protocol.Location{URI: uri, Range: toRange(sig.Span)})
		}
	}
	return locations
}

func (s *LspServer) references(uri protocol.DocumentUri, text string, pos protocol.Position) []protocol.Location {
	word := extractWord(text, pos)
	if word == "" {
		return nil
	}
	prog, err := parser.Parse(text)
	if err != nil {
		return nil
	}

	var spans []ast.Span
	var walk func(e ast.Expr)
	walkBlock := func(b *ast.Block) {
		if b == nil {
			return
		}
		for _, e := range b.Exprs {
			walk(e)
		}
	}
	walk = func(e ast.Expr) {
		switch n := e.(type) {
		case *ast.Identifier:
			if n.Name == word {
				spans = append(spans, n.Span())
			}
		case *ast.CallExpr:
			walk(n.Callee)
			for _, a := range n.Args {
				walk(a)
			}
		case *ast.BinaryExpr:
			walk(n.Left)
			walk(n.Right)
		case *ast.FuncLiteral:
			walkBlock(n.Body)
		case *ast.IfExpr:
			walk(n.Cond)
			walkBlock(n.Then)
			walkBlock(n.Else)
		case *ast.ReturnExpr:
			walk(n.Value)
		case *ast.Block:
			walkBlock(n)
		}
	}
	walkBlock(prog)

	sort.Slice(spans, func(i, j int) bool { return spans[i].Start.Offset < spans[j].Start.Offset })
	locations := make([]protocol.Location, len(spans))
	for i, sp := range spans {
		locations[i] = protocol.Location{URI: uri, Range: toRange(sp)}
	}
	return locations
}

// --- Diagnostics ---

// diagnostics checks text on the worker goroutine.
func (s *LspServer) diagnostics(text string) ([]protocol.Diagnostic, error) {
	result, err := s.worker.Do(context.Background(), func(p *compile.Pipeline) any {
		_, diags := diagnose(p, text)
		return diags
	})
	if err != nil {
		return nil, err
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	out := []protocol.Diagnostic{}
	for _, d := range result.([]diagnostic) {
		var r protocol.Range
		if d.Line > 0 {
			start := protocol.Position{Line: protocol.UInteger(d.Line - 1), Character: protocol.UInteger(max(d.Column-1, 0))}
			r = protocol.Range{Start: start, End: protocol.Position{Line: start.Line, Character: start.Character + 1}}
		}
		out = append(out, protocol.Diagnostic{
			Range:    r,
			Severity: &severity,
			Source:   &source,
			Message:  fmt.Sprintf("%s: %s", d.Stage, d.Message),
		})
	}
	return out, nil
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics, err := s.diagnostics(text)
	if err != nil {
		log.Warningf("checking %s: %s", uri, err)
		return
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// --- Position helpers ---

// innermost returns the most deeply nested function literal containing pos.
func innermost(sigs []signature, pos protocol.Position) *signature {
	line, col := int(pos.Line)+1, int(pos.Character)+1
	var best *signature
	for i := range sigs {
		sig := &sigs[i]
		if contains(sig.Span, line, col) && (best == nil || sig.Depth > best.Depth) {
			best = sig
		}
	}
	return best
}

func contains(sp ast.Span, line, col int) bool {
	after := line > sp.Start.Line || (line == sp.Start.Line && col >= sp.Start.Column)
	before := line < sp.End.Line || (line == sp.End.Line && col <= sp.End.Column)
	return after && before
}

func toRange(sp ast.Span) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(max(sp.Start.Line-1, 0)), Character: protocol.UInteger(max(sp.Start.Column-1, 0))},
		End:   protocol.Position{Line: protocol.UInteger(max(sp.End.Line-1, 0)), Character: protocol.UInteger(max(sp.End.Column-1, 0))},
	}
}

func markdownHover(value string) *protocol.Hover {
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
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

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
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
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
