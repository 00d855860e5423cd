package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// FormatInstruction renders one instruction at index pc.
func FormatInstruction(pc int, ins *Instruction) string {
	name := ins.Op.Name()
	switch ins.Op {
	case OpTry:
		return fmt.Sprintf("%04d  %s (else -> %04d)", pc, name, ins.A)
	case OpMatchRange:
		if ins.A == ins.B {
			return fmt.Sprintf("%04d  %s %s", pc, name, unit(ins.A))
		}
		return fmt.Sprintf("%04d  %s %s-%s", pc, name, unit(ins.A), unit(ins.B))
	case OpMatchClass:
		var sb strings.Builder
		if ins.A == 1 {
			sb.WriteString("^")
		}
		sb.WriteString("[")
		for i, r := range ins.Ranges {
			if i > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(unit(r.Lo))
			if r.Hi != r.Lo {
				sb.WriteString("-")
				sb.WriteString(unit(r.Hi))
			}
		}
		sb.WriteString("]")
		return fmt.Sprintf("%04d  %s %s", pc, name, sb.String())
	case OpSplit:
		return fmt.Sprintf("%04d  %s -> %04d, %04d", pc, name, ins.A, ins.B)
	case OpJump:
		return fmt.Sprintf("%04d  %s -> %04d", pc, name, ins.A)
	case OpEmitLiteral, OpPushbackLiteral:
		return fmt.Sprintf("%04d  %s %s", pc, name, unit(ins.A))
	case OpEmitSlice, OpPushbackSlice:
		return fmt.Sprintf("%04d  %s \\(*+%d-%d)", pc, name, ins.A, ins.B)
	case OpEmitComputed, OpPushbackComputed:
		return fmt.Sprintf("%04d  %s %s", pc, name, FormatExpr(ins.Expr))
	case OpSwitchState, OpPushState:
		return fmt.Sprintf("%04d  %s %d", pc, name, ins.A)
	default:
		return fmt.Sprintf("%04d  %s", pc, name)
	}
}

// FormatExpr renders a postfix expression.
func FormatExpr(expr []ExprOp) string {
	parts := make([]string, len(expr))
	for i, e := range expr {
		switch e.Op {
		case ExprConst:
			parts[i] = unit(e.Arg)
		case ExprCapture:
			parts[i] = fmt.Sprintf("\\%d", e.Arg)
		case ExprLast:
			parts[i] = "\\$"
		case ExprLookup:
			parts[i] = fmt.Sprintf("lookup(%d)", e.Arg)
		default:
			parts[i] = e.Op.String()
		}
	}
	return strings.Join(parts, " ")
}

func unit(v int) string {
	return fmt.Sprintf("0x%04X", v)
}

// Disassemble returns a listing of the whole program: header, tables, then
// every state's instructions.
func Disassemble(p *Program) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "input: %d\noutput: %d\n", p.InputArity, p.OutputArity)
	for t, tab := range p.Tables {
		fmt.Fprintf(&sb, "table %d [%d]:", t, len(tab))
		for i, v := range tab {
			if i%8 == 0 {
				sb.WriteString("\n   ")
			}
			sb.WriteString(" ")
			sb.WriteString(unit(v))
		}
		sb.WriteString("\n")
	}
	for s, code := range p.States {
		fmt.Fprintf(&sb, "state %d:\n", s)
		for pc := range code {
			sb.WriteString("  ")
			sb.WriteString(FormatInstruction(pc, &code[pc]))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
