package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kartikbazzad/repcrec/pkg/logger"
)

// ErrMalformedInstruction is returned when a clause cannot be parsed into a
// valid Instruction.
var ErrMalformedInstruction = errors.New("wire: malformed instruction")

// Scanner reads a script and yields one Instruction per call to Next. A
// script line may hold several ';'-separated clauses; Scanner flattens them
// into a single stream so callers never have to think about lines at all.
// A clause beginning with "//" is a comment and is skipped.
//
// A clause that fails to parse is logged and skipped rather than treated as
// fatal: the dispatcher keeps running the rest of the script, matching the
// base spec's error taxonomy ("dispatcher logs and ignores, non-fatal to the
// run"). Scanner remembers that this happened so the caller can still signal
// a non-zero exit once the whole script has been replayed.
type Scanner struct {
	lines     *bufio.Scanner
	pending   []string
	next      Instruction
	err       error
	malformed bool
}

// NewScanner wraps r as a Scanner.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{lines: bufio.NewScanner(r)}
}

// Next advances to the next instruction, returning false at EOF or once the
// underlying reader fails (retrievable with Err). A malformed clause is
// logged and skipped, not treated as end-of-stream.
func (s *Scanner) Next() bool {
	for {
		if len(s.pending) == 0 {
			if !s.fill() {
				return false
			}
			continue
		}
		clause := strings.TrimSpace(s.pending[0])
		s.pending = s.pending[1:]
		if clause == "" || strings.HasPrefix(clause, "//") {
			continue
		}
		in, err := parseClause(clause)
		if err != nil {
			s.malformed = true
			logger.Warn("skipping malformed instruction", "clause", clause, "error", err)
			continue
		}
		s.next = in
		return true
	}
}

// HadMalformed reports whether any clause was skipped for failing to parse.
func (s *Scanner) HadMalformed() bool { return s.malformed }

// fill reads the next non-empty line from the underlying scanner and splits
// it into clauses. Returns false once the underlying reader is exhausted.
func (s *Scanner) fill() bool {
	for s.lines.Scan() {
		line := s.lines.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.pending = strings.Split(line, ";")
		return true
	}
	if err := s.lines.Err(); err != nil {
		s.err = err
	}
	return false
}

// Instruction returns the instruction produced by the most recent Next.
func (s *Scanner) Instruction() Instruction { return s.next }

// Err returns the first error encountered, if any.
func (s *Scanner) Err() error { return s.err }

func parseClause(clause string) (Instruction, error) {
	open := strings.IndexByte(clause, '(')
	shut := strings.LastIndexByte(clause, ')')
	if open < 0 || shut < open {
		return Instruction{}, fmt.Errorf("%w: %q", ErrMalformedInstruction, clause)
	}

	name := strings.TrimSpace(clause[:open])
	rawParams := strings.TrimSpace(clause[open+1 : shut])

	var params []string
	if rawParams != "" {
		for _, p := range strings.Split(rawParams, ",") {
			params = append(params, strings.TrimSpace(p))
		}
	}

	switch name {
	case "begin":
		return parseBeginLike(OpBegin, params, clause)
	case "beginRO":
		return parseBeginLike(OpBeginRO, params, clause)
	case "end":
		return parseBeginLike(OpEnd, params, clause)
	case "R":
		return parseRead(params, clause)
	case "W":
		return parseWrite(params, clause)
	case "dump":
		return Instruction{Op: OpDump}, nil
	case "fail":
		return parseSiteOp(OpFail, params, clause)
	case "recover":
		return parseSiteOp(OpRecover, params, clause)
	default:
		return Instruction{}, fmt.Errorf("%w: unknown operation %q", ErrMalformedInstruction, name)
	}
}

func parseBeginLike(op Op, params []string, clause string) (Instruction, error) {
	if len(params) != 1 {
		return Instruction{}, fmt.Errorf("%w: %q wants 1 param", ErrMalformedInstruction, clause)
	}
	if _, err := ParseTxnID(params[0]); err != nil {
		return Instruction{}, fmt.Errorf("%w: %q: %v", ErrMalformedInstruction, clause, err)
	}
	return Instruction{Op: op, TxnName: params[0]}, nil
}

func parseRead(params []string, clause string) (Instruction, error) {
	if len(params) != 2 {
		return Instruction{}, fmt.Errorf("%w: %q wants 2 params", ErrMalformedInstruction, clause)
	}
	if _, err := ParseTxnID(params[0]); err != nil {
		return Instruction{}, fmt.Errorf("%w: %q: %v", ErrMalformedInstruction, clause, err)
	}
	varIdx, err := ParseVarIndex(params[1])
	if err != nil {
		return Instruction{}, fmt.Errorf("%w: %q: %v", ErrMalformedInstruction, clause, err)
	}
	return Instruction{Op: OpRead, TxnName: params[0], VarIndex: varIdx}, nil
}

func parseWrite(params []string, clause string) (Instruction, error) {
	if len(params) != 3 {
		return Instruction{}, fmt.Errorf("%w: %q wants 3 params", ErrMalformedInstruction, clause)
	}
	if _, err := ParseTxnID(params[0]); err != nil {
		return Instruction{}, fmt.Errorf("%w: %q: %v", ErrMalformedInstruction, clause, err)
	}
	varIdx, err := ParseVarIndex(params[1])
	if err != nil {
		return Instruction{}, fmt.Errorf("%w: %q: %v", ErrMalformedInstruction, clause, err)
	}
	value, err := strconv.Atoi(params[2])
	if err != nil {
		return Instruction{}, fmt.Errorf("%w: %q: bad value: %v", ErrMalformedInstruction, clause, err)
	}
	return Instruction{Op: OpWrite, TxnName: params[0], VarIndex: varIdx, Value: value}, nil
}

func parseSiteOp(op Op, params []string, clause string) (Instruction, error) {
	if len(params) != 1 {
		return Instruction{}, fmt.Errorf("%w: %q wants 1 param", ErrMalformedInstruction, clause)
	}
	siteID, err := strconv.Atoi(params[0])
	if err != nil {
		return Instruction{}, fmt.Errorf("%w: %q: bad site id: %v", ErrMalformedInstruction, clause, err)
	}
	return Instruction{Op: op, SiteID: siteID}, nil
}

// ParseTxnID extracts the numeric index out of a "Tn" transaction name.
func ParseTxnID(name string) (int, error) {
	if !strings.HasPrefix(name, "T") {
		return 0, fmt.Errorf("wire: transaction name %q must start with T", name)
	}
	return strconv.Atoi(name[1:])
}

// ParseVarIndex extracts the numeric index out of an "xn" variable name.
func ParseVarIndex(name string) (int, error) {
	if !strings.HasPrefix(name, "x") {
		return 0, fmt.Errorf("wire: variable name %q must start with x", name)
	}
	return strconv.Atoi(name[1:])
}
