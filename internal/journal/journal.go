// Package journal keeps an in-memory, append-only record of every
// instruction the engine has dispatched and its outcome, borrowing the
// LSN/RecordType vocabulary of a write-ahead log without any of the actual
// durability machinery: nothing here is written to disk, because the
// simulator has no crash-consistent persistence to offer.
package journal

import "github.com/kartikbazzad/repcrec/internal/mvcc"

// RecordType classifies a journal Record.
type RecordType byte

const (
	RecordTypeInvalid RecordType = iota
	RecordTypeBegin
	RecordTypeRead
	RecordTypeWrite
	RecordTypeCommit
	RecordTypeAbort
	RecordTypeFail
	RecordTypeRecover
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeBegin:
		return "BEGIN"
	case RecordTypeRead:
		return "READ"
	case RecordTypeWrite:
		return "WRITE"
	case RecordTypeCommit:
		return "COMMIT"
	case RecordTypeAbort:
		return "ABORT"
	case RecordTypeFail:
		return "FAIL"
	case RecordTypeRecover:
		return "RECOVER"
	default:
		return "INVALID"
	}
}

// LSN is a log sequence number: the 1-based position of a Record in the
// journal.
type LSN uint64

// Record is one entry in the journal.
type Record struct {
	LSN       LSN
	Type      RecordType
	Timestamp mvcc.Timestamp
	TxnID     int    // 0 when Type is Fail/Recover
	SiteID    int    // 0 when Type is not site-scoped
	VarIndex  int    // 0 when Type is not variable-scoped
	Value     int    // the written value for Write, the value read for a resolved Read
	Detail    string // free-form note, e.g. an abort reason
}

// Journal is an append-only, in-memory sequence of Records.
type Journal struct {
	records []Record
}

// New returns an empty Journal.
func New() *Journal {
	return &Journal{}
}

// Append adds rec to the journal, assigning it the next LSN, and returns
// the assigned LSN.
func (j *Journal) Append(rec Record) LSN {
	rec.LSN = LSN(len(j.records) + 1)
	j.records = append(j.records, rec)
	return rec.LSN
}

// Records returns every record appended so far, in LSN order.
func (j *Journal) Records() []Record {
	return j.records
}

// Len returns the number of records appended so far.
func (j *Journal) Len() int {
	return len(j.records)
}

// TxnRecords returns every record whose TxnID matches txnID, in LSN order.
func (j *Journal) TxnRecords(txnID int) []Record {
	var out []Record
	for _, r := range j.records {
		if r.TxnID == txnID {
			out = append(out, r)
		}
	}
	return out
}
