// Package wire defines the instruction grammar the simulator reads and the
// scanner that turns a script into a stream of typed Instruction values,
// the same tagged-operation-code idiom bundoc's wire protocol uses for its
// network messages, applied here to a line-oriented text format instead of
// a binary one.
package wire

import "fmt"

// Op identifies the kind of an Instruction.
type Op uint8

const (
	OpBegin Op = iota + 1
	OpBeginRO
	OpRead
	OpWrite
	OpDump
	OpEnd
	OpFail
	OpRecover
)

func (op Op) String() string {
	switch op {
	case OpBegin:
		return "begin"
	case OpBeginRO:
		return "beginRO"
	case OpRead:
		return "R"
	case OpWrite:
		return "W"
	case OpDump:
		return "dump"
	case OpEnd:
		return "end"
	case OpFail:
		return "fail"
	case OpRecover:
		return "recover"
	default:
		return "unknown"
	}
}

// Instruction is one parsed operation from a script. Only the fields
// relevant to Op are populated; the rest are left at their zero value.
type Instruction struct {
	Op Op

	// TxnName is the transaction identifier ("T1") for begin, beginRO,
	// read, write, and end.
	TxnName string

	// VarIndex is the 1-based variable index for read and write.
	VarIndex int

	// Value is the new value to write, for write only.
	Value int

	// SiteID is the 1-based site index for fail and recover. Dump carries
	// no site, since it always dumps every site.
	SiteID int
}

func (in Instruction) String() string {
	switch in.Op {
	case OpBegin, OpBeginRO:
		return fmt.Sprintf("%s(%s)", in.Op, in.TxnName)
	case OpRead:
		return fmt.Sprintf("R(%s, x%d)", in.TxnName, in.VarIndex)
	case OpWrite:
		return fmt.Sprintf("W(%s, x%d, %d)", in.TxnName, in.VarIndex, in.Value)
	case OpEnd:
		return fmt.Sprintf("end(%s)", in.TxnName)
	case OpFail, OpRecover:
		return fmt.Sprintf("%s(%d)", in.Op, in.SiteID)
	case OpDump:
		return "dump()"
	default:
		return "invalid()"
	}
}
