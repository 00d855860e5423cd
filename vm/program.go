package vm

import (
	"math"
	"reflect"

	"github.com/cockroachdb/errors"
)

// ---------------------------------------------------------------------------
// Program: a compiled OCP
// ---------------------------------------------------------------------------

// Program is a compiled character translation program. A Program is never
// modified after it is built, so any number of cursors may run it at once.
type Program struct {
	InputArity  int             // bytes per input unit (1 or 2)
	OutputArity int             // bytes per output unit (1 or 2)
	Tables      [][]int         // constant pool, addressed by slot
	States      [][]Instruction // per-state instruction streams, state 0 first
}

// UnitMax returns the largest unit value representable in arity bytes.
func UnitMax(arity int) int {
	return 1<<(8*arity) - 1
}

// InputMax returns the largest input unit value.
func (p *Program) InputMax() int {
	return UnitMax(p.InputArity)
}

// OutputMax returns the largest output unit value.
func (p *Program) OutputMax() int {
	return UnitMax(p.OutputArity)
}

// Equal reports whether p and q have the same arities, tables and
// instructions.
func (p *Program) Equal(q *Program) bool {
	return reflect.DeepEqual(p, q)
}

// InstructionCount returns the total number of instructions in all states.
func (p *Program) InstructionCount() int {
	n := 0
	for _, s := range p.States {
		n += len(s)
	}
	return n
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the structural invariants the interpreter relies on:
// every state is a chain of rules ending in OpCopyVerbatim, every target
// stays inside its rule, and every operand refers to something that exists.
// Errors wrap ErrCorruptProgram.
func (p *Program) Validate() error {
	if p.InputArity != 1 && p.InputArity != 2 {
		return corruptf("input arity %d", p.InputArity)
	}
	if p.OutputArity != 1 && p.OutputArity != 2 {
		return corruptf("output arity %d", p.OutputArity)
	}
	for t, tab := range p.Tables {
		for i, v := range tab {
			if !fitsCell(v) {
				return corruptf("table %d entry %d: value %d out of range", t, i, v)
			}
		}
	}
	if len(p.States) == 0 {
		return corruptf("no states")
	}
	for s, code := range p.States {
		if err := p.validateState(code); err != nil {
			return corruptf("state %d: %s", s, err)
		}
	}
	return nil
}

func (p *Program) validateState(code []Instruction) error {
	if len(code) == 0 {
		return errors.Newf("empty instruction stream")
	}
	last := len(code) - 1
	pc := 0
	for {
		ins := &code[pc]
		switch ins.Op {
		case OpCopyVerbatim:
			if pc != last {
				return errors.Newf("%d: COPY_VERBATIM before end of state", pc)
			}
			if !zeroOperands(ins) {
				return errors.Newf("%d: stray operands", pc)
			}
			return nil
		case OpTry:
			next, err := p.validateRule(code, pc)
			if err != nil {
				return err
			}
			pc = next
		default:
			return errors.Newf("%d: %s outside a rule", pc, ins.Op)
		}
	}
}

// validateRule checks the rule starting at the OpTry at start and returns
// the index of the following rule.
func (p *Program) validateRule(code []Instruction, start int) (int, error) {
	try := &code[start]
	if try.B != 0 || try.Ranges != nil || try.Expr != nil {
		return 0, errors.Newf("%d: stray operands", start)
	}
	next := try.A
	if next <= start || next >= len(code) {
		return 0, errors.Newf("%d: fall-through target %d out of range", start, next)
	}
	if op := code[next].Op; op != OpTry && op != OpCopyVerbatim {
		return 0, errors.Newf("%d: fall-through target %d is %s", start, next, op)
	}

	// Match section.
	accept := -1
	for pc := start + 1; pc < next; pc++ {
		if code[pc].Op == OpAccept {
			accept = pc
			break
		}
	}
	if accept < 0 {
		return 0, errors.Newf("%d: rule has no ACCEPT", start)
	}
	for pc := start + 1; pc < accept; pc++ {
		ins := &code[pc]
		info := ins.Op.Info()
		if !ins.Op.Valid() || info.class != classMatch {
			return 0, errors.Newf("%d: %s in match section", pc, ins.Op)
		}
		if err := validateMatch(ins, start, accept); err != nil {
			return 0, errors.Newf("%d: %v", pc, err)
		}
	}
	if !zeroOperands(&code[accept]) {
		return 0, errors.Newf("%d: stray operands", accept)
	}

	// Action section.
	end := next - 1
	if code[end].Op != OpEndRule || !zeroOperands(&code[end]) {
		return 0, errors.Newf("%d: rule does not end with END_RULE", end)
	}
	for pc := accept + 1; pc < end; pc++ {
		ins := &code[pc]
		if !ins.Op.Valid() || ins.Op.Info().class != classAction {
			return 0, errors.Newf("%d: %s in action section", pc, ins.Op)
		}
		if err := p.validateAction(ins); err != nil {
			return 0, errors.Newf("%d: %v", pc, err)
		}
	}
	return next, nil
}

func validateMatch(ins *Instruction, start, accept int) error {
	switch ins.Op {
	case OpMatchAny, OpAssertBegin, OpAssertEnd:
		if !zeroOperands(ins) {
			return errors.Newf("stray operands")
		}
	case OpMatchRange:
		if ins.A < 0 || ins.A > ins.B || !fitsCell(ins.B) || ins.Ranges != nil || ins.Expr != nil {
			return errors.Newf("bad range [%d, %d]", ins.A, ins.B)
		}
	case OpMatchClass:
		if (ins.A != 0 && ins.A != 1) || ins.B != 0 || len(ins.Ranges) == 0 || ins.Expr != nil {
			return errors.Newf("bad class")
		}
		for _, r := range ins.Ranges {
			if r.Lo < 0 || r.Lo > r.Hi || !fitsCell(r.Hi) {
				return errors.Newf("bad class range [%d, %d]", r.Lo, r.Hi)
			}
		}
	case OpSplit:
		if !inRule(ins.A, start, accept) || !inRule(ins.B, start, accept) || ins.Ranges != nil || ins.Expr != nil {
			return errors.Newf("split target out of rule")
		}
	case OpJump:
		if !inRule(ins.A, start, accept) || ins.B != 0 || ins.Ranges != nil || ins.Expr != nil {
			return errors.Newf("jump target out of rule")
		}
	}
	return nil
}

func (p *Program) validateAction(ins *Instruction) error {
	switch ins.Op {
	case OpEmitLiteral, OpPushbackLiteral:
		if !fitsCell(ins.A) || ins.B != 0 || ins.Ranges != nil || ins.Expr != nil {
			return errors.Newf("bad literal")
		}
	case OpEmitSlice, OpPushbackSlice:
		if !fitsCell(ins.A) || !fitsCell(ins.B) || ins.Ranges != nil || ins.Expr != nil {
			return errors.Newf("bad slice")
		}
	case OpEmitComputed, OpPushbackComputed:
		if ins.A != 0 || ins.B != 0 || ins.Ranges != nil {
			return errors.Newf("stray operands")
		}
		return p.validateExpr(ins.Expr)
	case OpSwitchState, OpPushState:
		if ins.A < 0 || ins.A >= len(p.States) || ins.B != 0 || ins.Ranges != nil || ins.Expr != nil {
			return errors.Newf("unknown state %d", ins.A)
		}
	case OpPopState:
		if !zeroOperands(ins) {
			return errors.Newf("stray operands")
		}
	}
	return nil
}

func (p *Program) validateExpr(expr []ExprOp) error {
	if len(expr) == 0 {
		return errors.Newf("empty expression")
	}
	depth := 0
	for i, e := range expr {
		effect, needs, ok := e.Op.stackEffect()
		if !ok {
			return errors.Newf("expression step %d: unknown op %d", i, e.Op)
		}
		if depth < needs {
			return errors.Newf("expression step %d: stack underflow", i)
		}
		switch e.Op {
		case ExprConst:
			if !fitsCell(e.Arg) {
				return errors.Newf("expression step %d: constant out of range", i)
			}
		case ExprCapture:
			if e.Arg < 1 || !fitsCell(e.Arg) {
				return errors.Newf("expression step %d: capture %d", i, e.Arg)
			}
		case ExprLookup:
			if e.Arg < 0 || e.Arg >= len(p.Tables) {
				return errors.Newf("expression step %d: unknown table %d", i, e.Arg)
			}
		default:
			if e.Arg != 0 {
				return errors.Newf("expression step %d: stray operand", i)
			}
		}
		depth += effect
	}
	if depth != 1 {
		return errors.Newf("expression leaves %d values", depth)
	}
	return nil
}

func inRule(target, start, accept int) bool {
	return target > start && target <= accept
}

func zeroOperands(ins *Instruction) bool {
	return ins.A == 0 && ins.B == 0 && ins.Ranges == nil && ins.Expr == nil
}

func fitsCell(v int) bool {
	return v >= 0 && uint64(v) <= math.MaxUint32
}
