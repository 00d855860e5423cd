package compiler

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/ocp/vm"
	"golang.org/x/text/encoding/charmap"
)

func compileFixture(t *testing.T, name string) *vm.Program {
	t.Helper()
	p, err := CompileFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return p
}

// be16 encodes units as 2-byte big-endian cells.
func be16(units ...int) []byte {
	out := make([]byte, 0, 2*len(units))
	for _, u := range units {
		out = append(out, byte(u>>8), byte(u))
	}
	return out
}

func be16String(s string) []byte {
	var units []int
	for _, r := range s {
		units = append(units, int(r))
	}
	return be16(units...)
}

func TestFixturesCompile(t *testing.T) {
	tests := []struct {
		file          string
		input, output int
		tables        int
		states        int
	}{
		{"quotes.otp", 1, 2, 0, 1},
		{"tifinagh.otp", 2, 2, 1, 2},
		{"in88593.otp", 1, 2, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			p := compileFixture(t, tt.file)
			if p.InputArity != tt.input || p.OutputArity != tt.output {
				t.Errorf("arity = %d/%d, want %d/%d", p.InputArity, p.OutputArity, tt.input, tt.output)
			}
			if len(p.Tables) != tt.tables {
				t.Errorf("tables = %d, want %d", len(p.Tables), tt.tables)
			}
			if len(p.States) != tt.states {
				t.Errorf("states = %d, want %d", len(p.States), tt.states)
			}

			data, err := p.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary: %v", err)
			}
			back, err := vm.LoadBytes(data)
			if err != nil {
				t.Fatalf("LoadBytes: %v", err)
			}
			if !back.Equal(p) {
				t.Errorf("load(save(p)) != p")
			}
		})
	}
}

func TestFixturesDeterministic(t *testing.T) {
	for _, name := range []string{"quotes.otp", "tifinagh.otp", "in88593.otp"} {
		src, err := os.ReadFile(filepath.Join("testdata", name))
		if err != nil {
			t.Fatal(err)
		}
		var outputs [][]byte
		for range 2 {
			p, err := Compile(string(src))
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			data, err := p.MarshalBinary()
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			outputs = append(outputs, data)
		}
		if !bytes.Equal(outputs[0], outputs[1]) {
			t.Errorf("%s: two compilations differ", name)
		}
	}
}

func TestQuotesFixture(t *testing.T) {
	p := compileFixture(t, "quotes.otp")
	tests := []struct {
		in   string
		want []int
	}{
		{"``Hi''", []int{0x201C, 'H', 'i', 0x201D}},
		{"`a'", []int{0x2018, 'a', 0x2019}},
		{"a---b--c", []int{'a', 0x2014, 'b', 0x2013, 'c'}},
		{"office", []int{'o', 0xFB03, 'c', 'e'}},
		{"waffle", []int{'w', 'a', 0xFB04, 'e'}},
		{"!`Hola!", []int{0xA1, 'H', 'o', 'l', 'a', '!'}},
	}
	for _, tt := range tests {
		got, err := vm.Translate(p, []byte(tt.in))
		if err != nil {
			t.Fatalf("%q: %v", tt.in, err)
		}
		if want := be16(tt.want...); !bytes.Equal(got, want) {
			t.Errorf("%q: got % x, want % x", tt.in, got, want)
		}
	}
}

func TestTifinaghFixture(t *testing.T) {
	p := compileFixture(t, "tifinagh.otp")
	tests := []struct {
		in   []byte
		want []int
	}{
		{be16String("ghar"), []int{0x2D56, 0x2D30, 0x2D54}},
		{be16String("Sh"), []int{0x2D59, 0x2D40}},
		{be16(0x1E0D, 0x1E6D, 0x025B), []int{0x2D39, 0x2D5F, 0x2D44}},
		{be16String("a<<ab>>b"), []int{0x2D30, 'a', 'b', 0x2D31}},
		{be16String("x y"), []int{0x2D45, ' ', 0x2D62}},
	}
	for _, tt := range tests {
		got, err := vm.Translate(p, tt.in)
		if err != nil {
			t.Fatalf("% x: %v", tt.in, err)
		}
		if want := be16(tt.want...); !bytes.Equal(got, want) {
			t.Errorf("% x: got % x, want % x", tt.in, got, want)
		}
	}
}

func TestLatin3FixtureMatchesCharmap(t *testing.T) {
	p := compileFixture(t, "in88593.otp")

	in := make([]byte, 256)
	for i := range in {
		in[i] = byte(i)
	}
	got, err := vm.Translate(p, in)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(got) != 512 {
		t.Fatalf("got %d bytes, want 512", len(got))
	}
	for i := range 256 {
		want := charmap.ISO8859_3.DecodeByte(byte(i))
		if u := rune(got[2*i])<<8 | rune(got[2*i+1]); u != want {
			t.Errorf("byte %#02x: got U+%04X, want U+%04X", i, u, want)
		}
	}
}
