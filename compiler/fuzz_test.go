package compiler

import (
	"os"
	"path/filepath"
	"testing"
)

// ---------------------------------------------------------------------------
// FuzzParse: the lexer and parser never panic on arbitrary input.
// ---------------------------------------------------------------------------

func FuzzParse(f *testing.F) {
	seeds := []string{
		"",
		"input: 1; output: 2;",
		"tables: t[2] = {1, 2};",
		"states: A, B;",
		"aliases: a = `a`-`z`; b = {a}<1,>;",
		`expressions: "ab" => \2 \1 <= \$ <push: A>;`,
		"expressions: ^(`a` | @\"7F) => #(t[\\1 - 1] div: 2);",
		"expressions: beg: . end: => \\(*+1-1) <pop:>;",
		"% comment only",
		"`",
		`"`,
		"@'",
		"expressions: (((",
	}
	for _, name := range []string{"quotes.otp", "tifinagh.otp", "in88593.otp"} {
		if src, err := os.ReadFile(filepath.Join("testdata", name)); err == nil {
			seeds = append(seeds, string(src))
		}
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, src string) {
		tokens := Tokenize(src)
		if len(tokens) == 0 {
			t.Fatal("Tokenize returned no tokens")
		}
		if last := tokens[len(tokens)-1].Type; last != TokenEOF && last != TokenError {
			t.Fatalf("token stream ends with %v", last)
		}
		if c, _ := Parse(src); c == nil {
			t.Fatal("Parse returned a nil compiler")
		}
	})
}
