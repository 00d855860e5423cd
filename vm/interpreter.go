package vm

import (
	"bufio"
	"bytes"
	"io"
	"iter"

	"github.com/cockroachdb/errors"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("ocp.vm")

// maxStall is how many consecutive rule firings may pass without consuming
// input or producing output before a run is abandoned with ErrStalled.
const maxStall = 1 << 16

// ---------------------------------------------------------------------------
// Cursor: one run of a program over an input stream
// ---------------------------------------------------------------------------

// Cursor executes a Program against one input stream. The program is shared
// read-only; everything a run mutates lives in the cursor, so independent
// cursors may run the same program concurrently. A single Cursor is not safe
// for concurrent use.
type Cursor struct {
	prog *Program
	in   *bufio.Reader

	state int   // current state id
	stack []int // pushed states

	buf      []int // lookahead: pushed-back units first, then unread input
	eof      bool  // source exhausted
	consumed int   // units consumed so far

	out     []int // output of the last step
	outHead int   // next unit of out to hand to Next

	err error

	stalled int // consecutive steps that neither consumed nor emitted

	// Backtracking scratch, reused between rules.
	threads []thread
	visited map[thread]struct{}
	values  []int
}

type thread struct {
	pc, pos int
}

// Run starts executing p against in. Nothing is read until the first call
// to Step or Next. If p is not a valid program the cursor reports the
// validation error on first use.
func Run(p *Program, in io.Reader) *Cursor {
	c := &Cursor{
		prog:    p,
		in:      bufio.NewReader(in),
		visited: make(map[thread]struct{}),
	}
	if p == nil {
		c.err = corruptf("nil program")
	} else if err := p.Validate(); err != nil {
		c.err = err
	}
	return c
}

// Translate runs p over data and returns the encoded output.
func Translate(p *Program, data []byte) ([]byte, error) {
	var out bytes.Buffer
	if _, err := Run(p, bytes.NewReader(data)).WriteTo(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// State returns the current state id.
func (c *Cursor) State() int {
	return c.state
}

// Depth returns the number of states on the push stack.
func (c *Cursor) Depth() int {
	return len(c.stack)
}

// Err returns the error that stopped the cursor, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Next returns the next output unit. It returns io.EOF once the input is
// exhausted and all output has been delivered.
func (c *Cursor) Next() (int, error) {
	for c.outHead >= len(c.out) {
		c.out = c.out[:0]
		c.outHead = 0
		ok, err := c.Step()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, io.EOF
		}
	}
	u := c.out[c.outHead]
	c.outHead++
	return u, nil
}

// Units returns the remaining output as a sequence. A failure is yielded
// once with the error and ends the sequence.
func (c *Cursor) Units() iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		for {
			u, err := c.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(0, err)
				return
			}
			if !yield(u, nil) {
				return
			}
		}
	}
}

// WriteTo drains the cursor into w, each unit as OutputArity big-endian
// bytes.
func (c *Cursor) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	width := c.outputArity()
	var n int64
	var cell [2]byte
	for u, err := range c.Units() {
		if err != nil {
			bw.Flush()
			return n, err
		}
		if width == 2 {
			cell[0], cell[1] = byte(u>>8), byte(u)
		} else {
			cell[0] = byte(u)
		}
		m, err := bw.Write(cell[:width])
		n += int64(m)
		if err != nil {
			return n, ioError(err, "write output")
		}
	}
	if err := bw.Flush(); err != nil {
		return n, ioError(err, "write output")
	}
	return n, nil
}

func (c *Cursor) outputArity() int {
	if c.prog == nil || c.prog.OutputArity != 2 {
		return 1
	}
	return 2
}

// ---------------------------------------------------------------------------
// Stepping
// ---------------------------------------------------------------------------

// Step applies one rule of the current state: the first rule whose pattern
// matches the lookahead fires, otherwise one unit is copied verbatim. It
// returns false once the input is exhausted. Output produced by the step is
// delivered through Next.
func (c *Cursor) Step() (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	if !c.fill(0) {
		return false, c.err
	}

	code := c.prog.States[c.state]
	pc := 0
	for {
		ins := &code[pc]
		switch ins.Op {
		case OpCopyVerbatim:
			c.emit(c.buf[0])
			c.advance(1, nil)
			c.stalled = 0
			return true, nil
		case OpTry:
			accept, n := c.match(code, pc)
			if c.err != nil {
				return false, c.err
			}
			// A rule that matches nothing would fire forever.
			if accept >= 0 && n > 0 {
				if c.fire(code, accept, n) {
					c.stalled = 0
				} else {
					c.stalled++
				}
				if c.stalled >= maxStall {
					c.err = errors.Wrapf(ErrStalled, "state %d: %d rules fired without progress", c.state, c.stalled)
					return false, c.err
				}
				return true, nil
			}
			pc = ins.A
		default:
			c.err = corruptf("state %d: %s at rule boundary %d", c.state, ins.Op, pc)
			return false, c.err
		}
	}
}

// fill makes sure the lookahead holds a unit at pos, reading input as
// needed. It reports false when no such unit exists or reading failed.
func (c *Cursor) fill(pos int) bool {
	for len(c.buf) <= pos {
		if c.eof || c.err != nil {
			return false
		}
		u, err := c.readUnit()
		if err == io.EOF {
			c.eof = true
			return false
		}
		if err != nil {
			c.err = err
			return false
		}
		c.buf = append(c.buf, u)
	}
	return true
}

func (c *Cursor) readUnit() (int, error) {
	var cell [2]byte
	width := c.prog.InputArity
	_, err := io.ReadFull(c.in, cell[:width])
	switch {
	case err == nil:
	case err == io.EOF:
		return 0, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return 0, ioError(err, "truncated input unit")
	default:
		return 0, ioError(err, "read input")
	}
	if width == 2 {
		return int(cell[0])<<8 | int(cell[1]), nil
	}
	return int(cell[0]), nil
}

// match runs the pattern of the rule starting at start against the
// lookahead. It returns the index of the rule's OpAccept and the number of
// units matched, or -1 when the pattern does not match. Alternatives are
// explored depth first in the order the code lists them; a (pc, pos) pair
// that has been explored once cannot succeed later, so it is skipped.
func (c *Cursor) match(code []Instruction, start int) (int, int) {
	clear(c.visited)
	c.threads = append(c.threads[:0], thread{start + 1, 0})

	for len(c.threads) > 0 {
		t := c.threads[len(c.threads)-1]
		c.threads = c.threads[:len(c.threads)-1]

		for {
			if _, seen := c.visited[t]; seen {
				break
			}
			c.visited[t] = struct{}{}

			ins := &code[t.pc]
			ok, width := true, 1
			switch ins.Op {
			case OpAccept:
				return t.pc, t.pos
			case OpMatchAny:
				ok = c.fill(t.pos)
			case OpMatchRange:
				ok = c.fill(t.pos) && c.buf[t.pos] >= ins.A && c.buf[t.pos] <= ins.B
			case OpMatchClass:
				ok = c.fill(t.pos) && inClass(ins.Ranges, c.buf[t.pos]) != (ins.A == 1)
			case OpAssertBegin:
				ok, width = c.consumed == 0 && t.pos == 0, 0
			case OpAssertEnd:
				ok, width = !c.fill(t.pos), 0
			case OpSplit:
				c.threads = append(c.threads, thread{ins.B, t.pos})
				t.pc = ins.A
				continue
			case OpJump:
				t.pc = ins.A
				continue
			default:
				ok = false
			}
			if !ok || c.err != nil {
				break
			}
			t.pc++
			t.pos += width
		}
		if c.err != nil {
			return -1, 0
		}
	}
	return -1, 0
}

func inClass(ranges []Range, u int) bool {
	for _, r := range ranges {
		if r.Contains(u) {
			return true
		}
	}
	return false
}

// fire runs the actions of a matched rule and commits it. It reports
// whether the rule emitted output or consumed more than it pushed back.
func (c *Cursor) fire(code []Instruction, accept, n int) bool {
	emitted := len(c.out)
	matched := make([]int, n)
	copy(matched, c.buf[:n])

	var pushback []int
	for pc := accept + 1; code[pc].Op != OpEndRule; pc++ {
		ins := &code[pc]
		switch ins.Op {
		case OpEmitLiteral:
			c.emit(ins.A)
		case OpEmitComputed:
			c.emit(c.eval(ins.Expr, matched))
		case OpEmitSlice:
			for _, u := range slice(matched, ins.A, ins.B) {
				c.emit(u)
			}
		case OpPushbackLiteral:
			pushback = append(pushback, ins.A)
		case OpPushbackComputed:
			pushback = append(pushback, c.eval(ins.Expr, matched))
		case OpPushbackSlice:
			pushback = append(pushback, slice(matched, ins.A, ins.B)...)
		case OpSwitchState:
			c.state = ins.A
		case OpPushState:
			c.stack = append(c.stack, c.state)
			c.state = ins.A
			log.Debugf("push state %d (depth %d)", c.state, len(c.stack))
		case OpPopState:
			if len(c.stack) == 0 {
				c.state = 0
			} else {
				c.state = c.stack[len(c.stack)-1]
				c.stack = c.stack[:len(c.stack)-1]
			}
			log.Debugf("pop to state %d (depth %d)", c.state, len(c.stack))
		}
	}
	c.advance(n, pushback)
	return len(c.out) > emitted || len(pushback) < n
}

// advance consumes n lookahead units and places pushback ahead of the rest.
func (c *Cursor) advance(n int, pushback []int) {
	c.consumed += n
	rest := c.buf[n:]
	if len(pushback) == 0 {
		c.buf = append(c.buf[:0], rest...)
		return
	}
	next := make([]int, 0, len(pushback)+len(rest))
	next = append(next, pushback...)
	for i, u := range next {
		next[i] = u & c.prog.InputMax()
	}
	c.buf = append(next, rest...)
}

func (c *Cursor) emit(u int) {
	c.out = append(c.out, u&c.prog.OutputMax())
}

func slice(units []int, front, back int) []int {
	if front+back >= len(units) {
		return nil
	}
	return units[front : len(units)-back]
}

// eval evaluates a postfix expression over the matched units. Lookups
// outside a table and division by zero yield 0.
func (c *Cursor) eval(expr []ExprOp, matched []int) int {
	st := c.values[:0]
	for _, e := range expr {
		switch e.Op {
		case ExprConst:
			st = append(st, e.Arg)
		case ExprCapture:
			v := 0
			if e.Arg >= 1 && e.Arg <= len(matched) {
				v = matched[e.Arg-1]
			}
			st = append(st, v)
		case ExprLast:
			st = append(st, matched[len(matched)-1])
		case ExprLookup:
			tab := c.prog.Tables[e.Arg]
			i := st[len(st)-1]
			v := 0
			if i >= 0 && i < len(tab) {
				v = tab[i]
			}
			st[len(st)-1] = v
		default:
			b := st[len(st)-1]
			a := st[len(st)-2]
			st = st[:len(st)-1]
			st[len(st)-1] = arith(e.Op, a, b)
		}
	}
	c.values = st
	return st[0]
}

func arith(op ExprOpcode, a, b int) int {
	switch op {
	case ExprAdd:
		return a + b
	case ExprSub:
		return a - b
	case ExprMul:
		return a * b
	case ExprDiv:
		if b == 0 {
			return 0
		}
		return a / b
	case ExprMod:
		if b == 0 {
			return 0
		}
		return a % b
	}
	return 0
}
