package vm

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
)

func program(in, out int, states ...[]Instruction) *Program {
	return &Program{InputArity: in, OutputArity: out, States: states}
}

func translate(t *testing.T, p *Program, input string) string {
	t.Helper()
	got, err := Translate(p, []byte(input))
	if err != nil {
		t.Fatalf("Translate(%q): %v", input, err)
	}
	return string(got)
}

func TestFallbackWidening(t *testing.T) {
	// . => \1 ;
	p := program(1, 2, assembleState(testRule{
		match:   []Instruction{{Op: OpMatchAny}},
		actions: []Instruction{{Op: OpEmitComputed, Expr: []ExprOp{{Op: ExprCapture, Arg: 1}}}},
	}))
	got, err := Translate(p, []byte{0x41})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if want := []byte{0x00, 0x41}; !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}

	// The verbatim fallback widens the same way.
	got, err = Translate(program(1, 2, assembleState()), []byte{0x41, 0xFF})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if want := []byte{0x00, 0x41, 0x00, 0xFF}; !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestOutputMasking(t *testing.T) {
	p := program(1, 1, assembleState(testRule{
		match:   []Instruction{lit('a')},
		actions: []Instruction{emit(0x2014)},
	}))
	if got := translate(t, p, "a"); got != "\x14" {
		t.Errorf("got %q, want %q", got, "\x14")
	}
}

func TestTwoByteInput(t *testing.T) {
	p := program(2, 2, assembleState(testRule{
		match:   []Instruction{lit(0x1E0D)},
		actions: []Instruction{emit(0x2D39)},
	}))
	got, err := Translate(p, []byte{0x1E, 0x0D, 0x00, 0x61})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if want := []byte{0x2D, 0x39, 0x00, 0x61}; !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}

	_, err = Translate(p, []byte{0x00, 0x61, 0x00})
	if !errors.Is(err, ErrIO) {
		t.Errorf("truncated unit: got %v, want ErrIO", err)
	}
}

func TestPriorityOrder(t *testing.T) {
	short := testRule{match: []Instruction{lit('a')}, actions: []Instruction{emit('X')}}
	long := testRule{match: []Instruction{lit('a'), lit('b')}, actions: []Instruction{emit('Y')}}

	if got := translate(t, program(1, 1, assembleState(short, long)), "ab"); got != "Xb" {
		t.Errorf("short first: got %q, want %q", got, "Xb")
	}
	if got := translate(t, program(1, 1, assembleState(long, short)), "ab"); got != "Y" {
		t.Errorf("long first: got %q, want %q", got, "Y")
	}
}

func TestBoundedRepetition(t *testing.T) {
	// a<1,3> b => "Z";
	p := program(1, 1, assembleState(testRule{
		match: []Instruction{
			lit('a'),
			{Op: OpSplit, A: 2, B: 5},
			lit('a'),
			{Op: OpSplit, A: 4, B: 5},
			lit('a'),
			lit('b'),
		},
		actions: []Instruction{emit('Z')},
	}))

	tests := []struct{ in, want string }{
		{"ab", "Z"},
		{"aab", "Z"},
		{"aaab", "Z"},
		{"aaaab", "aZ"},
		{"b", "b"},
		{"aa", "aa"},
	}
	for _, tt := range tests {
		if got := translate(t, p, tt.in); got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnboundedRepetition(t *testing.T) {
	// x y<0,> => \(*+1-0) ;
	p := program(1, 1, assembleState(testRule{
		match: []Instruction{
			lit('x'),
			{Op: OpSplit, A: 2, B: 4},
			lit('y'),
			{Op: OpJump, A: 1},
		},
		actions: []Instruction{{Op: OpEmitSlice, A: 1}},
	}))
	if got := translate(t, p, "xyyyz"); got != "yyyz" {
		t.Errorf("got %q, want %q", got, "yyyz")
	}
	long := "x" + strings.Repeat("y", 5000)
	if got := translate(t, p, long); got != strings.Repeat("y", 5000) {
		t.Errorf("long input: got %d units", len(got))
	}
}

func TestTrailingContext(t *testing.T) {
	// a b => "x" <= \2 ;   b => "y" ;
	p := program(1, 1, assembleState(
		testRule{
			match: []Instruction{lit('a'), lit('b')},
			actions: []Instruction{
				emit('x'),
				{Op: OpPushbackComputed, Expr: []ExprOp{{Op: ExprCapture, Arg: 2}}},
			},
		},
		testRule{match: []Instruction{lit('b')}, actions: []Instruction{emit('y')}},
	))
	if got := translate(t, p, "abab"); got != "xyxy" {
		t.Errorf("got %q, want %q", got, "xyxy")
	}
}

func TestPushbackRescanInOtherState(t *testing.T) {
	// a => <= \1 <B> ;   <B> a => "x" <INITIAL> ;
	p := program(1, 1,
		assembleState(testRule{
			match: []Instruction{lit('a')},
			actions: []Instruction{
				{Op: OpPushbackComputed, Expr: []ExprOp{{Op: ExprCapture, Arg: 1}}},
				{Op: OpSwitchState, A: 1},
			},
		}),
		assembleState(testRule{
			match:   []Instruction{lit('a')},
			actions: []Instruction{emit('x'), {Op: OpSwitchState, A: 0}},
		}),
	)
	if got := translate(t, p, "aba"); got != "xbx" {
		t.Errorf("got %q, want %q", got, "xbx")
	}
}

func TestStalledRunStops(t *testing.T) {
	tests := []struct {
		name string
		p    *Program
	}{
		{
			// a => <= a ;
			name: "pushback of the whole match",
			p: program(1, 1, assembleState(testRule{
				match:   []Instruction{lit('a')},
				actions: []Instruction{{Op: OpPushbackLiteral, A: 'a'}},
			})),
		},
		{
			// a => <= a a ;
			name: "pushback longer than the match",
			p: program(1, 1, assembleState(testRule{
				match:   []Instruction{lit('a')},
				actions: []Instruction{{Op: OpPushbackLiteral, A: 'a'}, {Op: OpPushbackLiteral, A: 'a'}},
			})),
		},
		{
			// a => <= a <B> ;   <B> a => <= a <INITIAL> ;
			name: "states passing the input back and forth",
			p: program(1, 1,
				assembleState(testRule{
					match:   []Instruction{lit('a')},
					actions: []Instruction{{Op: OpPushbackLiteral, A: 'a'}, {Op: OpSwitchState, A: 1}},
				}),
				assembleState(testRule{
					match:   []Instruction{lit('a')},
					actions: []Instruction{{Op: OpPushbackLiteral, A: 'a'}, {Op: OpSwitchState, A: 0}},
				}),
			),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Run(tt.p, strings.NewReader("a"))
			_, err := c.Next()
			if !errors.Is(err, ErrStalled) {
				t.Fatalf("Next() = %v, want ErrStalled", err)
			}
			if _, err := c.Next(); !errors.Is(err, ErrStalled) {
				t.Errorf("Next() after stall = %v, want ErrStalled", err)
			}
			if len(c.buf) > 2*maxStall+1 {
				t.Errorf("lookahead grew to %d units", len(c.buf))
			}
		})
	}
}

func TestAnchors(t *testing.T) {
	begin := program(1, 1, assembleState(testRule{
		match:   []Instruction{{Op: OpAssertBegin}, lit('a')},
		actions: []Instruction{emit('B')},
	}))
	if got := translate(t, begin, "aa"); got != "Ba" {
		t.Errorf("beg: got %q, want %q", got, "Ba")
	}

	end := program(1, 1, assembleState(testRule{
		match:   []Instruction{lit('a'), {Op: OpAssertEnd}},
		actions: []Instruction{emit('E')},
	}))
	if got := translate(t, end, "aa"); got != "aE" {
		t.Errorf("end: got %q, want %q", got, "aE")
	}
}

func TestNegatedClass(t *testing.T) {
	p := program(1, 1, assembleState(testRule{
		match:   []Instruction{{Op: OpMatchClass, A: 1, Ranges: []Range{{'a', 'z'}}}},
		actions: []Instruction{emit('#')},
	}))
	if got := translate(t, p, "aB1z"); got != "a##z" {
		t.Errorf("got %q, want %q", got, "a##z")
	}
}

func TestPushPopState(t *testing.T) {
	p := program(1, 1,
		assembleState(testRule{
			match:   []Instruction{lit('<')},
			actions: []Instruction{{Op: OpPushState, A: 1}},
		}),
		assembleState(testRule{
			match:   []Instruction{lit('>')},
			actions: []Instruction{{Op: OpPopState}},
		}),
	)

	c := Run(p, strings.NewReader("<z>"))
	steps := []struct{ state, depth int }{{1, 1}, {1, 1}, {0, 0}}
	for i, want := range steps {
		ok, err := c.Step()
		if err != nil || !ok {
			t.Fatalf("step %d: ok=%v err=%v", i, ok, err)
		}
		if c.State() != want.state || c.Depth() != want.depth {
			t.Errorf("step %d: state=%d depth=%d, want %d/%d", i, c.State(), c.Depth(), want.state, want.depth)
		}
	}
	if ok, err := c.Step(); ok || err != nil {
		t.Errorf("after input: ok=%v err=%v, want false/nil", ok, err)
	}

	// Unbalanced pushes are dropped at end of input.
	c = Run(p, strings.NewReader("<z"))
	var out bytes.Buffer
	if _, err := c.WriteTo(&out); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if out.String() != "z" || c.Depth() != 1 {
		t.Errorf("unbalanced: got %q depth %d, want %q depth 1", out.String(), c.Depth(), "z")
	}
}

func TestPopEmptyStack(t *testing.T) {
	p := program(1, 1,
		assembleState(testRule{
			match:   []Instruction{lit('s')},
			actions: []Instruction{{Op: OpSwitchState, A: 1}},
		}),
		assembleState(testRule{
			match:   []Instruction{lit('p')},
			actions: []Instruction{{Op: OpPopState}},
		}),
	)
	c := Run(p, strings.NewReader("sp"))
	c.Step()
	if c.State() != 1 {
		t.Fatalf("state = %d, want 1", c.State())
	}
	c.Step()
	if c.State() != 0 || c.Depth() != 0 {
		t.Errorf("state=%d depth=%d, want 0/0", c.State(), c.Depth())
	}
}

func TestExpressionSafety(t *testing.T) {
	expr := func(ops ...ExprOp) Instruction {
		return Instruction{Op: OpEmitComputed, Expr: ops}
	}
	p := &Program{
		InputArity:  1,
		OutputArity: 2,
		Tables:      [][]int{{0x2D30, 0x2D31}},
		States: [][]Instruction{assembleState(testRule{
			match: []Instruction{{Op: OpMatchAny}},
			actions: []Instruction{
				expr(ExprOp{Op: ExprCapture, Arg: 1}, ExprOp{Op: ExprConst, Arg: 'a'}, ExprOp{Op: ExprSub}, ExprOp{Op: ExprLookup}),
				expr(ExprOp{Op: ExprCapture, Arg: 1}, ExprOp{Op: ExprConst}, ExprOp{Op: ExprDiv}),
				expr(ExprOp{Op: ExprCapture, Arg: 1}, ExprOp{Op: ExprConst}, ExprOp{Op: ExprMod}),
				expr(ExprOp{Op: ExprLast}, ExprOp{Op: ExprConst, Arg: 3}, ExprOp{Op: ExprMul}, ExprOp{Op: ExprConst, Arg: 2}, ExprOp{Op: ExprDiv}),
			},
		})},
	}

	var got []int
	for u, err := range Run(p, strings.NewReader("bz")).Units() {
		if err != nil {
			t.Fatalf("Units: %v", err)
		}
		got = append(got, u)
	}
	// 'z'-'a' = 25 is outside the table.
	want := []int{0x2D31, 0, 0, 'b' * 3 / 2, 0, 0, 0, 'z' * 3 / 2}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("unit %d: got %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestNextEOF(t *testing.T) {
	c := Run(program(1, 1, assembleState()), strings.NewReader("a"))
	if u, err := c.Next(); err != nil || u != 'a' {
		t.Fatalf("Next() = %d, %v", u, err)
	}
	for range 2 {
		if _, err := c.Next(); err != io.EOF {
			t.Errorf("Next() at end = %v, want io.EOF", err)
		}
	}
}

func TestRunInvalidProgram(t *testing.T) {
	c := Run(&Program{InputArity: 1, OutputArity: 1}, strings.NewReader("a"))
	if _, err := c.Next(); !errors.Is(err, ErrCorruptProgram) {
		t.Errorf("Next() = %v, want ErrCorruptProgram", err)
	}
	if _, err := Translate(nil, []byte("a")); !errors.Is(err, ErrCorruptProgram) {
		t.Errorf("Translate(nil) = %v, want ErrCorruptProgram", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestReadErrorPropagates(t *testing.T) {
	c := Run(program(1, 1, assembleState()), failingReader{})
	_, err := c.Next()
	if !errors.Is(err, ErrIO) {
		t.Errorf("Next() = %v, want ErrIO", err)
	}
	if c.Err() == nil {
		t.Error("Err() = nil after failure")
	}
}

func TestConcurrentCursors(t *testing.T) {
	p := program(1, 1, assembleState(testRule{
		match:   []Instruction{lit('a')},
		actions: []Instruction{emit('b')},
	}))
	input := strings.Repeat("ab", 100)
	want := strings.Repeat("bb", 100)

	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := Translate(p, []byte(input))
			if err != nil || string(got) != want {
				errs <- string(got)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for got := range errs {
		t.Errorf("concurrent run produced %q", got)
	}
}
