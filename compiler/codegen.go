package compiler

import (
	"slices"

	"github.com/chazu/ocp/vm"
)

// maxRepeat bounds the upper count of a repetition, which is unrolled.
const maxRepeat = 1024

// maxRuleCode bounds the instructions one rule's pattern may unroll into,
// nested repetitions included.
const maxRuleCode = 1 << 16

// ---------------------------------------------------------------------------
// generator: checks and code generation for linked rules
// ---------------------------------------------------------------------------

type generator struct {
	c        *Compiler
	minMemo  map[NodeID]int
	sizeMemo map[NodeID]int
}

func newGenerator(c *Compiler) *generator {
	return &generator{c: c, minMemo: make(map[NodeID]int), sizeMemo: make(map[NodeID]int)}
}

func (g *generator) node(id NodeID) *Left {
	return g.c.arena.Node(id)
}

func (g *generator) inputMax() int  { return vm.UnitMax(g.c.inputArity) }
func (g *generator) outputMax() int { return vm.UnitMax(g.c.outputArity) }

// minLen returns the fewest units the pattern can match.
func (g *generator) minLen(id NodeID) int {
	if n, ok := g.minMemo[id]; ok {
		return n
	}
	n := g.node(id)
	var m int
	switch n.Kind {
	case LeftPoint, LeftRange, LeftConstant, LeftNot:
		m = 1
	case LeftSequence:
		for _, item := range n.Items {
			m += g.minLen(item)
		}
	case LeftOr:
		m = -1
		for _, alt := range n.Items {
			if l := g.minLen(alt); m < 0 || l < m {
				m = l
			}
		}
	case LeftBounded:
		m = n.From * g.minLen(n.Items[0])
	}
	m = min(m, maxRuleCode+1)
	g.minMemo[id] = m
	return m
}

// maxLen returns the most units the pattern can match, or Unbounded. It is
// only called on patterns within the code budget.
func (g *generator) maxLen(id NodeID) int {
	n := g.node(id)
	switch n.Kind {
	case LeftPoint, LeftRange, LeftConstant, LeftNot:
		return 1
	case LeftSequence, LeftOr:
		m := 0
		for _, item := range n.Items {
			l := g.maxLen(item)
			if l == Unbounded {
				return Unbounded
			}
			if n.Kind == LeftSequence {
				m += l
			} else {
				m = max(m, l)
			}
		}
		return m
	case LeftBounded:
		l := g.maxLen(n.Items[0])
		if n.To == Unbounded || l == Unbounded {
			return Unbounded
		}
		return n.To * l
	}
	return 0
}

// codeSize returns how many instructions genLeft emits for the pattern,
// saturating just above maxRuleCode.
func (g *generator) codeSize(id NodeID) int {
	if n, ok := g.sizeMemo[id]; ok {
		return n
	}
	n := g.node(id)
	var size int
	switch n.Kind {
	case LeftPoint, LeftRange, LeftConstant, LeftNot:
		size = 1
	case LeftSequence:
		for _, item := range n.Items {
			size += g.codeSize(item)
		}
	case LeftOr:
		if _, ok := g.classRanges(id); ok {
			size = 1
			break
		}
		for i, alt := range n.Items {
			size += g.codeSize(alt)
			if i < len(n.Items)-1 {
				size += 2 // SPLIT and JUMP
			}
		}
	case LeftBounded:
		body := g.codeSize(n.Items[0])
		if n.To == Unbounded {
			size = n.From*body + body + 2
		} else {
			size = n.From*body + (n.To-n.From)*(body+1)
		}
	}
	size = min(size, maxRuleCode+1)
	g.sizeMemo[id] = size
	return size
}

// classRanges returns the sorted, merged set of units matched by a pattern
// that always matches exactly one unit, or false for any other pattern.
func (g *generator) classRanges(id NodeID) ([]vm.Range, bool) {
	n := g.node(id)
	switch n.Kind {
	case LeftPoint:
		return []vm.Range{{Lo: 0, Hi: g.inputMax()}}, true
	case LeftRange, LeftConstant:
		return []vm.Range{{Lo: n.Lo, Hi: n.Hi}}, true
	case LeftSequence:
		if len(n.Items) == 1 {
			return g.classRanges(n.Items[0])
		}
	case LeftBounded:
		if n.From == 1 && n.To == 1 {
			return g.classRanges(n.Items[0])
		}
	case LeftOr:
		var all []vm.Range
		for _, alt := range n.Items {
			rs, ok := g.classRanges(alt)
			if !ok {
				return nil, false
			}
			all = append(all, rs...)
		}
		return mergeRanges(all), true
	case LeftNot:
		rs, ok := g.classRanges(n.Items[0])
		if !ok {
			return nil, false
		}
		return complementRanges(rs, g.inputMax()), true
	}
	return nil, false
}

func mergeRanges(rs []vm.Range) []vm.Range {
	rs = slices.Clone(rs)
	slices.SortFunc(rs, func(a, b vm.Range) int { return a.Lo - b.Lo })
	out := rs[:0]
	for _, r := range rs {
		if len(out) > 0 && r.Lo <= out[len(out)-1].Hi+1 {
			last := &out[len(out)-1]
			last.Hi = max(last.Hi, r.Hi)
			continue
		}
		out = append(out, r)
	}
	return out
}

// complementRanges returns [0, limit] minus the merged ranges rs.
func complementRanges(rs []vm.Range, limit int) []vm.Range {
	var out []vm.Range
	next := 0
	for _, r := range rs {
		if r.Lo > next {
			out = append(out, vm.Range{Lo: next, Hi: r.Lo - 1})
		}
		next = r.Hi + 1
	}
	if next <= limit {
		out = append(out, vm.Range{Lo: next, Hi: limit})
	}
	return out
}

// ---------------------------------------------------------------------------
// Checks
// ---------------------------------------------------------------------------

func (g *generator) checkRule(r *Rule) error {
	if _, ok := g.c.StateID(r.State); !ok {
		return errorAt(ErrUndefinedState, r.Pos, "state %s is not declared", r.State)
	}
	switch r.Next.Kind {
	case StateSwitch, StatePush:
		if _, ok := g.c.StateID(r.Next.Name); !ok || r.Next.Name == "" {
			return errorAt(ErrUndefinedState, r.Next.Pos, "state %s is not declared", r.Next.Name)
		}
	}

	if err := g.checkLeft(r.Left); err != nil {
		return err
	}
	if g.codeSize(r.Left) > maxRuleCode {
		return errorAt(ErrArgumentTooBig, g.node(r.Left).Pos, "pattern unrolls into more than %d instructions", maxRuleCode)
	}
	shortest := g.minLen(r.Left)
	if shortest == 0 {
		return errorAt(ErrSyntax, g.node(r.Left).Pos, "pattern can match the empty string")
	}
	for i := range r.Output {
		if err := g.checkRight(&r.Output[i], shortest, g.outputMax()); err != nil {
			return err
		}
	}
	for i := range r.Pushback {
		if err := g.checkRight(&r.Pushback[i], shortest, g.inputMax()); err != nil {
			return err
		}
	}
	if g.stalls(r) {
		return errorAt(ErrSyntax, r.Pos, "trailing context puts back as many units as the rule consumes without leaving its state")
	}
	return nil
}

// stalls reports whether firing r can leave at least as much lookahead as
// it found while staying in the same state, so that r would fire forever.
func (g *generator) stalls(r *Rule) bool {
	if len(r.Pushback) == 0 {
		return false
	}
	switch r.Next.Kind {
	case StateNone:
	case StateSwitch:
		from, _ := g.c.StateID(r.State)
		to, _ := g.c.StateID(r.Next.Name)
		if from != to {
			return false
		}
	default:
		return false
	}

	fixed, maxCut := 0, 0
	var cuts []int
	for _, item := range r.Pushback {
		if item.Kind == RightSlice {
			cut := item.Front + item.Back
			cuts = append(cuts, cut)
			maxCut = max(maxCut, cut)
			continue
		}
		fixed++
	}
	// excess is units put back minus units consumed for a match of n
	// units. It is convex in n, so its maximum over an interval is at an
	// endpoint.
	excess := func(n int) int {
		total := fixed
		for _, cut := range cuts {
			total += max(0, n-cut)
		}
		return total - n
	}

	lo := g.minLen(r.Left)
	if excess(lo) >= 0 {
		return true
	}
	hi := g.maxLen(r.Left)
	if hi == Unbounded {
		if len(cuts) > 1 {
			return true
		}
		hi = max(lo, maxCut)
	}
	return excess(hi) >= 0
}

func (g *generator) checkLeft(id NodeID) error {
	n := g.node(id)
	switch n.Kind {
	case LeftRange, LeftConstant:
		if n.Lo > n.Hi {
			return errorAt(ErrInvalidRange, n.Pos, "range %#x-%#x is empty", n.Lo, n.Hi)
		}
		if n.Hi > g.inputMax() {
			return errorAt(ErrArgumentTooBig, n.Pos, "%#x does not fit in %d input byte(s)", n.Hi, g.c.inputArity)
		}
	case LeftAlias:
		return errorAt(ErrUndefinedAlias, n.Pos, "alias {%s} is not resolved", n.Name)
	case LeftNot:
		if err := g.checkLeft(n.Items[0]); err != nil {
			return err
		}
		rs, ok := g.classRanges(id)
		if !ok {
			return errorAt(ErrSyntax, n.Pos, "^(...) may only hold single-unit alternatives")
		}
		if len(rs) == 0 {
			return errorAt(ErrSyntax, n.Pos, "^(...) excludes every unit")
		}
		return nil
	case LeftBounded:
		if n.From < 0 || (n.To != Unbounded && n.To < n.From) {
			return errorAt(ErrInvalidRange, n.Pos, "repetition <%d,%d> is empty", n.From, n.To)
		}
		if n.From > maxRepeat || n.To > maxRepeat {
			return errorAt(ErrArgumentTooBig, n.Pos, "repetition count above %d", maxRepeat)
		}
		if n.To == Unbounded && g.minLen(n.Items[0]) == 0 {
			return errorAt(ErrSyntax, n.Pos, "unbounded repetition of a pattern that can match nothing")
		}
	}
	for _, item := range n.Items {
		if err := g.checkLeft(item); err != nil {
			return err
		}
	}
	return nil
}

func (g *generator) checkRight(r *Right, shortest, limit int) error {
	switch r.Kind {
	case RightConst:
		if r.Value > limit {
			return errorAt(ErrArgumentTooBig, r.Pos, "%#x does not fit in the unit width", r.Value)
		}
	case RightCapture:
		return checkCapture(r.Value, shortest, r.Pos)
	case RightExpr:
		return g.checkArith(r.Expr, shortest)
	}
	return nil
}

func checkCapture(n, shortest int, pos Position) error {
	if n < 1 || n > shortest {
		return errorAt(ErrUndefinedBackReference, pos, "\\%d: the pattern may match only %d unit(s)", n, shortest)
	}
	return nil
}

func (g *generator) checkArith(a *Arith, shortest int) error {
	switch a.Kind {
	case ArithCapture:
		return checkCapture(a.Value, shortest, a.Pos)
	case ArithLookup:
		if _, ok := g.c.tableSlot[a.Table]; !ok {
			return errorAt(ErrUndefinedTable, a.Pos, "table %s is not declared", a.Table)
		}
		return g.checkArith(a.L, shortest)
	case ArithBinary:
		if err := g.checkArith(a.L, shortest); err != nil {
			return err
		}
		return g.checkArith(a.R, shortest)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Code generation
// ---------------------------------------------------------------------------

// genRule emits TRY, the pattern, ACCEPT, the actions and END_RULE, and
// points TRY at whatever follows.
func (g *generator) genRule(b *vm.InstructionBuilder, r *Rule) {
	try := b.Emit(vm.Instruction{Op: vm.OpTry})
	if r.Begin {
		b.EmitOp(vm.OpAssertBegin)
	}
	g.genLeft(b, r.Left)
	if r.End {
		b.EmitOp(vm.OpAssertEnd)
	}
	b.EmitOp(vm.OpAccept)

	for i := range r.Output {
		g.genRight(b, &r.Output[i], false)
	}
	for i := range r.Pushback {
		g.genRight(b, &r.Pushback[i], true)
	}

	switch r.Next.Kind {
	case StateSwitch:
		id, _ := g.c.StateID(r.Next.Name)
		b.Emit(vm.Instruction{Op: vm.OpSwitchState, A: id})
	case StatePush:
		id, _ := g.c.StateID(r.Next.Name)
		b.Emit(vm.Instruction{Op: vm.OpPushState, A: id})
	case StatePop:
		b.EmitOp(vm.OpPopState)
	}

	b.EmitOp(vm.OpEndRule)
	b.PatchA(try, b.Len())
}

func (g *generator) genLeft(b *vm.InstructionBuilder, id NodeID) {
	n := g.node(id)
	switch n.Kind {
	case LeftPoint:
		b.EmitOp(vm.OpMatchAny)

	case LeftRange, LeftConstant:
		b.Emit(vm.Instruction{Op: vm.OpMatchRange, A: n.Lo, B: n.Hi})

	case LeftSequence:
		for _, item := range n.Items {
			g.genLeft(b, item)
		}

	case LeftOr:
		if rs, ok := g.classRanges(id); ok {
			b.Emit(vm.Instruction{Op: vm.OpMatchClass, Ranges: rs})
			return
		}
		// SPLIT next, alt2; alt1; JUMP end; alt2: ...
		var jumps []int
		for i, alt := range n.Items {
			if i == len(n.Items)-1 {
				g.genLeft(b, alt)
				break
			}
			split := b.Emit(vm.Instruction{Op: vm.OpSplit})
			b.PatchA(split, split+1)
			g.genLeft(b, alt)
			jumps = append(jumps, b.Emit(vm.Instruction{Op: vm.OpJump}))
			b.PatchB(split, b.Len())
		}
		for _, j := range jumps {
			b.PatchA(j, b.Len())
		}

	case LeftNot:
		rs, _ := g.classRanges(n.Items[0])
		b.Emit(vm.Instruction{Op: vm.OpMatchClass, A: 1, Ranges: rs})

	case LeftBounded:
		body := n.Items[0]
		for range n.From {
			g.genLeft(b, body)
		}
		if n.To == Unbounded {
			// loop: SPLIT body, exit; body; JUMP loop
			loop := b.Emit(vm.Instruction{Op: vm.OpSplit})
			b.PatchA(loop, loop+1)
			g.genLeft(b, body)
			b.Emit(vm.Instruction{Op: vm.OpJump, A: loop})
			b.PatchB(loop, b.Len())
			return
		}
		// Each optional copy is entered greedily; declining one skips
		// all that follow.
		var splits []int
		for range n.To - n.From {
			split := b.Emit(vm.Instruction{Op: vm.OpSplit})
			b.PatchA(split, split+1)
			g.genLeft(b, body)
			splits = append(splits, split)
		}
		for _, s := range splits {
			b.PatchB(s, b.Len())
		}
	}
}

func (g *generator) genRight(b *vm.InstructionBuilder, r *Right, pushback bool) {
	literal, computed, slice := vm.OpEmitLiteral, vm.OpEmitComputed, vm.OpEmitSlice
	if pushback {
		literal, computed, slice = vm.OpPushbackLiteral, vm.OpPushbackComputed, vm.OpPushbackSlice
	}
	switch r.Kind {
	case RightConst:
		b.Emit(vm.Instruction{Op: literal, A: r.Value})
	case RightCapture:
		b.Emit(vm.Instruction{Op: computed, Expr: []vm.ExprOp{{Op: vm.ExprCapture, Arg: r.Value}}})
	case RightLast:
		b.Emit(vm.Instruction{Op: computed, Expr: []vm.ExprOp{{Op: vm.ExprLast}}})
	case RightSlice:
		b.Emit(vm.Instruction{Op: slice, A: r.Front, B: r.Back})
	case RightExpr:
		b.Emit(vm.Instruction{Op: computed, Expr: g.genArith(nil, r.Expr)})
	}
}

// genArith appends the postfix form of a to code.
func (g *generator) genArith(code []vm.ExprOp, a *Arith) []vm.ExprOp {
	switch a.Kind {
	case ArithConst:
		return append(code, vm.ExprOp{Op: vm.ExprConst, Arg: a.Value})
	case ArithCapture:
		return append(code, vm.ExprOp{Op: vm.ExprCapture, Arg: a.Value})
	case ArithLast:
		return append(code, vm.ExprOp{Op: vm.ExprLast})
	case ArithLookup:
		code = g.genArith(code, a.L)
		return append(code, vm.ExprOp{Op: vm.ExprLookup, Arg: g.c.tableSlot[a.Table]})
	case ArithBinary:
		code = g.genArith(code, a.L)
		code = g.genArith(code, a.R)
		return append(code, vm.ExprOp{Op: a.Op})
	}
	return code
}
