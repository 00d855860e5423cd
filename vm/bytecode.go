package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a single OCP instruction.
type Opcode uint8

// Rule control
const (
	OpTry          Opcode = 0x01 // start of a rule; A = fall-through target on failure
	OpAccept       Opcode = 0x02 // left pattern matched; actions follow
	OpEndRule      Opcode = 0x03 // commit: consume matched units, apply pushback
	OpCopyVerbatim Opcode = 0x04 // fallback: consume one unit and output it
)

// Matching
const (
	OpMatchAny    Opcode = 0x10 // any one unit
	OpMatchRange  Opcode = 0x11 // one unit in [A, B]
	OpMatchClass  Opcode = 0x12 // one unit in Ranges (A = 1: not in Ranges)
	OpAssertBegin Opcode = 0x13 // stream position 0
	OpAssertEnd   Opcode = 0x14 // no further input
	OpSplit       Opcode = 0x18 // try A, backtrack to B
	OpJump        Opcode = 0x19 // continue at A
)

// Output
const (
	OpEmitLiteral  Opcode = 0x20 // output A
	OpEmitComputed Opcode = 0x21 // output value of Expr
	OpEmitSlice    Opcode = 0x22 // output matched units, minus A front and B back
)

// Trailing context
const (
	OpPushbackLiteral  Opcode = 0x30
	OpPushbackComputed Opcode = 0x31
	OpPushbackSlice    Opcode = 0x32
)

// State changes
const (
	OpSwitchState Opcode = 0x40 // state := A
	OpPushState   Opcode = 0x41 // push state, state := A
	OpPopState    Opcode = 0x42 // state := pop (0 when empty)
)

// operandKind describes how an opcode's operands are laid out in cells.
type operandKind uint8

const (
	operandsFixed operandKind = iota // Operands cells: A, then B
	operandsClass                    // A, count, count (lo, hi) pairs
	operandsExpr                     // count, count (op, arg) pairs
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string
	Operands int // fixed operand cells (A, B); ignored for variable layouts
	kind     operandKind
	class    opClass
}

// opClass groups opcodes by the section of a rule they may appear in.
type opClass uint8

const (
	classControl opClass = iota
	classMatch
	classAction
)

var opcodeTable = map[Opcode]OpcodeInfo{
	OpTry:          {"TRY", 1, operandsFixed, classControl},
	OpAccept:       {"ACCEPT", 0, operandsFixed, classControl},
	OpEndRule:      {"END_RULE", 0, operandsFixed, classControl},
	OpCopyVerbatim: {"COPY_VERBATIM", 0, operandsFixed, classControl},

	OpMatchAny:    {"MATCH_ANY", 0, operandsFixed, classMatch},
	OpMatchRange:  {"MATCH_RANGE", 2, operandsFixed, classMatch},
	OpMatchClass:  {"MATCH_CLASS", 0, operandsClass, classMatch},
	OpAssertBegin: {"ASSERT_BEGIN", 0, operandsFixed, classMatch},
	OpAssertEnd:   {"ASSERT_END", 0, operandsFixed, classMatch},
	OpSplit:       {"SPLIT", 2, operandsFixed, classMatch},
	OpJump:        {"JUMP", 1, operandsFixed, classMatch},

	OpEmitLiteral:  {"EMIT_LITERAL", 1, operandsFixed, classAction},
	OpEmitComputed: {"EMIT_COMPUTED", 0, operandsExpr, classAction},
	OpEmitSlice:    {"EMIT_SLICE", 2, operandsFixed, classAction},

	OpPushbackLiteral:  {"PUSHBACK_LITERAL", 1, operandsFixed, classAction},
	OpPushbackComputed: {"PUSHBACK_COMPUTED", 0, operandsExpr, classAction},
	OpPushbackSlice:    {"PUSHBACK_SLICE", 2, operandsFixed, classAction},

	OpSwitchState: {"SWITCH_STATE", 1, operandsFixed, classAction},
	OpPushState:   {"PUSH_STATE", 1, operandsFixed, classAction},
	OpPopState:    {"POP_STATE", 0, operandsFixed, classAction},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Expression opcodes (postfix, evaluated on a small value stack)
// ---------------------------------------------------------------------------

// ExprOpcode is one step of a computed output value.
type ExprOpcode uint8

const (
	ExprConst   ExprOpcode = 0x01 // push Arg
	ExprCapture ExprOpcode = 0x02 // push matched unit Arg (1-based)
	ExprLast    ExprOpcode = 0x03 // push last matched unit
	ExprAdd     ExprOpcode = 0x10
	ExprSub     ExprOpcode = 0x11
	ExprMul     ExprOpcode = 0x12
	ExprDiv     ExprOpcode = 0x13
	ExprMod     ExprOpcode = 0x14
	ExprLookup  ExprOpcode = 0x20 // pop index, push Tables[Arg][index]
)

var exprNames = map[ExprOpcode]string{
	ExprConst:   "const",
	ExprCapture: "capture",
	ExprLast:    "last",
	ExprAdd:     "add",
	ExprSub:     "sub",
	ExprMul:     "mul",
	ExprDiv:     "div",
	ExprMod:     "mod",
	ExprLookup:  "lookup",
}

func (op ExprOpcode) String() string {
	if name, ok := exprNames[op]; ok {
		return name
	}
	return fmt.Sprintf("expr(%d)", uint8(op))
}

// stackEffect returns the net change to the value stack and the depth the
// operation needs before it runs.
func (op ExprOpcode) stackEffect() (effect, needs int, ok bool) {
	switch op {
	case ExprConst, ExprCapture, ExprLast:
		return 1, 0, true
	case ExprAdd, ExprSub, ExprMul, ExprDiv, ExprMod:
		return -1, 2, true
	case ExprLookup:
		return 0, 1, true
	}
	return 0, 0, false
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Range is an inclusive interval of unit values.
type Range struct {
	Lo, Hi int
}

// Contains reports whether u lies in r.
func (r Range) Contains(u int) bool {
	return u >= r.Lo && u <= r.Hi
}

// ExprOp is a single postfix expression step.
type ExprOp struct {
	Op  ExprOpcode
	Arg int
}

// Instruction is one decoded OCP instruction. Jump and fall-through targets
// are instruction indices within the owning state.
type Instruction struct {
	Op     Opcode
	A, B   int
	Ranges []Range  // OpMatchClass
	Expr   []ExprOp // OpEmitComputed, OpPushbackComputed
}

// InstructionBuilder appends instructions for one state and resolves
// forward references through labels.
type InstructionBuilder struct {
	code []Instruction
}

// NewInstructionBuilder creates an empty builder.
func NewInstructionBuilder() *InstructionBuilder {
	return &InstructionBuilder{code: make([]Instruction, 0, 16)}
}

// Len returns the index the next instruction will occupy.
func (b *InstructionBuilder) Len() int {
	return len(b.code)
}

// Emit appends an instruction and returns its index.
func (b *InstructionBuilder) Emit(ins Instruction) int {
	b.code = append(b.code, ins)
	return len(b.code) - 1
}

// EmitOp appends an instruction without operands.
func (b *InstructionBuilder) EmitOp(op Opcode) int {
	return b.Emit(Instruction{Op: op})
}

// PatchA sets operand A of the instruction at idx.
func (b *InstructionBuilder) PatchA(idx, target int) {
	b.code[idx].A = target
}

// PatchB sets operand B of the instruction at idx.
func (b *InstructionBuilder) PatchB(idx, target int) {
	b.code[idx].B = target
}

// Instructions returns the built sequence.
func (b *InstructionBuilder) Instructions() []Instruction {
	return b.code
}
