package wire

import (
	"strings"
	"testing"
)

func TestScannerParsesASemicolonSeparatedLine(t *testing.T) {
	s := NewScanner(strings.NewReader("begin(T1); R(T1, x2); W(T1, x3, 5); end(T1)\n"))

	var got []Instruction
	for s.Next() {
		got = append(got, s.Instruction())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 instructions, got %d: %v", len(got), got)
	}
	if got[0].Op != OpBegin || got[0].TxnName != "T1" {
		t.Errorf("unexpected begin: %+v", got[0])
	}
	if got[1].Op != OpRead || got[1].VarIndex != 2 {
		t.Errorf("unexpected read: %+v", got[1])
	}
	if got[2].Op != OpWrite || got[2].VarIndex != 3 || got[2].Value != 5 {
		t.Errorf("unexpected write: %+v", got[2])
	}
	if got[3].Op != OpEnd || got[3].TxnName != "T1" {
		t.Errorf("unexpected end: %+v", got[3])
	}
}

func TestScannerSkipsCommentsAndBlankLines(t *testing.T) {
	s := NewScanner(strings.NewReader("// a comment\n\nfail(2); // trailing comment\nrecover(2)\n"))

	var got []Instruction
	for s.Next() {
		got = append(got, s.Instruction())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 instructions, got %d: %v", len(got), got)
	}
	if got[0].Op != OpFail || got[0].SiteID != 2 {
		t.Errorf("unexpected fail: %+v", got[0])
	}
	if got[1].Op != OpRecover || got[1].SiteID != 2 {
		t.Errorf("unexpected recover: %+v", got[1])
	}
}

func TestScannerSkipsMalformedClause(t *testing.T) {
	s := NewScanner(strings.NewReader("nonsense\nbegin(T1)\n"))

	if !s.Next() {
		t.Fatalf("expected the scanner to recover and yield the next clause: %v", s.Err())
	}
	if got := s.Instruction(); got.Op != OpBegin || got.TxnName != "T1" {
		t.Errorf("expected begin(T1) after the skipped clause, got %+v", got)
	}
	if s.Next() {
		t.Fatalf("expected no further instructions, got %+v", s.Instruction())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("malformed clauses are non-fatal, expected nil Err(), got %v", err)
	}
	if !s.HadMalformed() {
		t.Fatal("expected HadMalformed to report the skipped clause")
	}
}

func TestScannerSkipsWrongArity(t *testing.T) {
	s := NewScanner(strings.NewReader("R(T1)\nbegin(T1)\n"))

	if !s.Next() {
		t.Fatalf("expected the scanner to recover and yield the next clause: %v", s.Err())
	}
	if got := s.Instruction(); got.Op != OpBegin || got.TxnName != "T1" {
		t.Errorf("expected begin(T1) after the skipped clause, got %+v", got)
	}
	if !s.HadMalformed() {
		t.Fatal("expected HadMalformed to report the skipped clause")
	}
}

func TestParseTxnIDAndVarIndex(t *testing.T) {
	if id, err := ParseTxnID("T12"); err != nil || id != 12 {
		t.Errorf("expected 12, got (%d, %v)", id, err)
	}
	if _, err := ParseTxnID("x2"); err == nil {
		t.Error("expected error for non-T-prefixed name")
	}
	if idx, err := ParseVarIndex("x7"); err != nil || idx != 7 {
		t.Errorf("expected 7, got (%d, %v)", idx, err)
	}
}
