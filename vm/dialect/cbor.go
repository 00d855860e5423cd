package dialect

import (
	"fmt"

	"github.com/chazu/ocp/vm"
	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode so equal programs encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dialect: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Document is the CBOR form of a program.
type Document struct {
	Format      string          `cbor:"format"`
	Version     uint32          `cbor:"version"`
	InputArity  int             `cbor:"input"`
	OutputArity int             `cbor:"output"`
	Tables      [][]int         `cbor:"tables"`
	States      [][]Instruction `cbor:"states"`
}

// Instruction is one instruction of a Document. Opcodes are spelled by
// name so consumers need not track opcode numbering.
type Instruction struct {
	Op     string   `cbor:"op"`
	A      int      `cbor:"a,omitempty"`
	B      int      `cbor:"b,omitempty"`
	Negate bool     `cbor:"negate,omitempty"`
	Ranges [][2]int `cbor:"ranges,omitempty"`
	Expr   []ExprOp `cbor:"expr,omitempty"`
}

// ExprOp is one postfix step of a computed value.
type ExprOp struct {
	Op  string `cbor:"op"`
	Arg int    `cbor:"arg,omitempty"`
}

// CBOR writes a self-describing document for external tools.
type CBOR struct{}

func (CBOR) Name() string { return "cbor" }

func (CBOR) Encode(p *vm.Program) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(NewDocument(p))
}

// NewDocument converts p into its CBOR document form.
func NewDocument(p *vm.Program) *Document {
	doc := &Document{
		Format:      "ocp",
		Version:     vm.FormatVersion,
		InputArity:  p.InputArity,
		OutputArity: p.OutputArity,
		Tables:      make([][]int, len(p.Tables)),
		States:      make([][]Instruction, len(p.States)),
	}
	for i, tab := range p.Tables {
		doc.Tables[i] = append([]int{}, tab...)
	}
	for s, code := range p.States {
		out := make([]Instruction, len(code))
		for pc := range code {
			out[pc] = documentInstruction(&code[pc])
		}
		doc.States[s] = out
	}
	return doc
}

func documentInstruction(ins *vm.Instruction) Instruction {
	out := Instruction{Op: ins.Op.Name(), A: ins.A, B: ins.B}
	if ins.Op == vm.OpMatchClass {
		out.A = 0
		out.Negate = ins.A == 1
		for _, r := range ins.Ranges {
			out.Ranges = append(out.Ranges, [2]int{r.Lo, r.Hi})
		}
	}
	for _, e := range ins.Expr {
		out.Expr = append(out.Expr, ExprOp{Op: e.Op.String(), Arg: e.Arg})
	}
	return out
}

// DecodeDocument parses bytes written by the CBOR dialect.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "unmarshal document")
	}
	return &doc, nil
}
