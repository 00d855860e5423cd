package dialect

import (
	"github.com/chazu/ocp/vm"
	"github.com/cockroachdb/errors"
)

// ---------------------------------------------------------------------------
// Omega word container
// ---------------------------------------------------------------------------

// Omega layout, in 32-bit big-endian words:
//
//	length, input, output,
//	table count, table room, state count, state room,
//	table lengths..., table data...,
//	state lengths..., state data...
//
// Lengths and rooms count words. Each instruction packs its opcode into
// the top byte of its first word and its first operand into the low 24
// bits; any further operands follow as whole words.
const (
	omegaOpShift   = 24
	omegaArgMask   = 1<<omegaOpShift - 1
	omegaHeaderLen = 7
)

// Omega writes programs in the word container older Omega tools read.
type Omega struct{}

func (Omega) Name() string { return "omega" }

func (Omega) Encode(p *vm.Program) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	states := make([][]uint32, len(p.States))
	for s, code := range p.States {
		for pc := range code {
			words, err := omegaInstruction(&code[pc])
			if err != nil {
				return nil, errors.Wrapf(err, "state %d instruction %d", s, pc)
			}
			states[s] = append(states[s], words...)
		}
	}

	tableRoom, stateRoom := 0, 0
	for _, tab := range p.Tables {
		tableRoom += len(tab)
	}
	for _, words := range states {
		stateRoom += len(words)
	}

	w := vm.NewCellWriter()
	w.PutInt(omegaHeaderLen + len(p.Tables) + tableRoom + len(states) + stateRoom)
	w.PutInt(p.InputArity)
	w.PutInt(p.OutputArity)
	w.PutInt(len(p.Tables))
	w.PutInt(tableRoom)
	w.PutInt(len(states))
	w.PutInt(stateRoom)
	for _, tab := range p.Tables {
		w.PutInt(len(tab))
	}
	for _, tab := range p.Tables {
		for _, v := range tab {
			w.PutInt(v)
		}
	}
	for _, words := range states {
		w.PutInt(len(words))
	}
	for _, words := range states {
		for _, word := range words {
			w.Put(word)
		}
	}
	return w.Bytes(), nil
}

func omegaInstruction(ins *vm.Instruction) ([]uint32, error) {
	ops := vm.NewCellWriter()
	ops.PutOperands(ins)
	operands := ops.Cells()

	head := uint32(ins.Op) << omegaOpShift
	if len(operands) == 0 {
		return []uint32{head}, nil
	}
	if operands[0] > omegaArgMask {
		return nil, errors.Wrapf(ErrUnencodable, "%s operand %d exceeds 24 bits", ins.Op, operands[0])
	}
	return append([]uint32{head | operands[0]}, operands[1:]...), nil
}
