package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

const tifinaghHead = `input: 2;
output: 2;
tables:
latin[2] = {@"2D30, @"2D31};
states: VERBATIM;
aliases:
lower = @"61-@"7A;
expressions:
{lower} => #(latin[\1 - @"61]);
<VERBATIM> . => \1;
`

// ---------------------------------------------------------------------------
// LSP text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", "{lower} => #(lat", protocol.Position{Line: 0, Character: 16}, "lat"},
		{"at start", "expr", protocol.Position{Line: 0, Character: 4}, "expr"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "first line\n<VERB", protocol.Position{Line: 1, Character: 5}, "VERB"},
		{"cursor at beginning", "hello", protocol.Position{Line: 0, Character: 0}, ""},
		{"line beyond document", "single line", protocol.Position{Line: 5, Character: 0}, ""},
		{"column past end", "abc", protocol.Position{Line: 0, Character: 40}, "abc"},
	}
	for _, tt := range tests {
		if got := extractPrefix(tt.text, tt.pos); got != tt.want {
			t.Errorf("%s: extractPrefix = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestExtractWord(t *testing.T) {
	text := "{lower} => #(latin[\\1 - @\"61]);"
	tests := []struct {
		char protocol.UInteger
		want string
	}{
		{1, "lower"},
		{3, "lower"},
		{15, "latin"},
		{18, "latin"},
		{9, ""},
	}
	for _, tt := range tests {
		got := extractWord(text, protocol.Position{Line: 0, Character: tt.char})
		if got != tt.want {
			t.Errorf("extractWord at %d = %q, want %q", tt.char, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestDiagnosticsClean(t *testing.T) {
	doc := analyze(tifinaghHead)
	if doc.err != nil {
		t.Fatalf("analyze: %v", doc.err)
	}
	diags := diagnostics(doc.err)
	if diags == nil || len(diags) != 0 {
		t.Errorf("diagnostics = %#v, want an empty non-nil slice", diags)
	}
}

func TestDiagnosticsPosition(t *testing.T) {
	doc := analyze("input: 1;\nexpressions:\n  5-3 => 1;\n")
	diags := diagnostics(doc.err)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	d := diags[0]
	if d.Range.Start.Line != 2 || d.Range.Start.Character != 2 {
		t.Errorf("start = %d:%d, want 2:2", d.Range.Start.Line, d.Range.Start.Character)
	}
	if d.Range.End.Character != 3 {
		t.Errorf("end character = %d, want 3", d.Range.End.Character)
	}
	if !strings.HasPrefix(d.Message, "invalid range:") {
		t.Errorf("message = %q", d.Message)
	}
	if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityError {
		t.Errorf("severity = %v, want error", d.Severity)
	}
}

func TestDiagnosticsLinkErrors(t *testing.T) {
	doc := analyze("expressions:\n{missing} => 1;\n")
	diags := diagnostics(doc.err)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	if diags[0].Range.Start.Line != 1 || diags[0].Range.Start.Character != 0 {
		t.Errorf("start = %d:%d, want 1:0", diags[0].Range.Start.Line, diags[0].Range.Start.Character)
	}
	if !strings.Contains(diags[0].Message, "undefined alias") {
		t.Errorf("message = %q", diags[0].Message)
	}
}

// ---------------------------------------------------------------------------
// Completion and hover
// ---------------------------------------------------------------------------

func labels(items []protocol.CompletionItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Label
	}
	return out
}

func TestCompletion(t *testing.T) {
	s := NewLSP()
	s.open("file:///t.otp", tifinaghHead)

	result, err := s.textDocumentCompletion(nil, &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: "file:///t.otp"},
			Position:     protocol.Position{Line: 8, Character: 15},
		},
	})
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	items := result.([]protocol.CompletionItem)
	if got := strings.Join(labels(items), ","); got != "latin" {
		t.Errorf("completions for \"la\" = %s, want latin", got)
	}
	if items[0].Detail == nil || *items[0].Detail != "table [2]" {
		t.Errorf("detail = %v", items[0].Detail)
	}

	doc := s.document("file:///t.otp")
	if got := strings.Join(labels(complete(doc, "VER")), ","); got != "VERBATIM" {
		t.Errorf("completions for VER = %s", got)
	}
	if got := strings.Join(labels(complete(doc, "p")), ","); got != "pop:,push:" {
		t.Errorf("completions for p = %s", got)
	}
	if got := labels(complete(doc, "")); len(got) < len(ruleKeywords)+6 {
		t.Errorf("empty prefix offered only %v", got)
	}
}

func TestCompletionUnknownDocument(t *testing.T) {
	s := NewLSP()
	result, err := s.textDocumentCompletion(nil, &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: "file:///missing.otp"},
		},
	})
	if err != nil || result != nil {
		t.Errorf("got %v, %v; want nil, nil", result, err)
	}
}

func TestHover(t *testing.T) {
	doc := analyze(tifinaghHead)
	tests := []struct {
		word string
		want string
	}{
		{"latin", "2 entries"},
		{"VERBATIM", "id 1"},
		{"INITIAL", "id 0"},
		{"lower", "**alias** `{lower}`"},
	}
	for _, tt := range tests {
		h := hover(doc, tt.word)
		if h == nil {
			t.Errorf("hover(%q) = nil", tt.word)
			continue
		}
		mc := h.Contents.(protocol.MarkupContent)
		if !strings.Contains(mc.Value, tt.want) {
			t.Errorf("hover(%q) = %q, want it to contain %q", tt.word, mc.Value, tt.want)
		}
	}
	if h := hover(doc, "nothing"); h != nil {
		t.Errorf("hover(nothing) = %v, want nil", h)
	}
}

func TestHoverKeepsDeclarationsOfBrokenDocuments(t *testing.T) {
	s := NewLSP()
	s.open("file:///b.otp", "tables: t[1] = {1};\nexpressions: . => #(;\n")

	h, err := s.textDocumentHover(nil, &protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: "file:///b.otp"},
			Position:     protocol.Position{Line: 0, Character: 9},
		},
	})
	if err != nil {
		t.Fatalf("hover: %v", err)
	}
	if h == nil || !strings.Contains(h.Contents.(protocol.MarkupContent).Value, "1 entries") {
		t.Errorf("hover = %v", h)
	}
}
