package journal

import "testing"

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	j := New()
	lsn1 := j.Append(Record{Type: RecordTypeBegin, TxnID: 1, Timestamp: 1})
	lsn2 := j.Append(Record{Type: RecordTypeRead, TxnID: 1, Timestamp: 2})

	if lsn1 != 1 || lsn2 != 2 {
		t.Fatalf("expected LSNs 1, 2, got %d, %d", lsn1, lsn2)
	}
	if j.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", j.Len())
	}
}

func TestTxnRecordsFiltersByTxnID(t *testing.T) {
	j := New()
	j.Append(Record{Type: RecordTypeBegin, TxnID: 1})
	j.Append(Record{Type: RecordTypeBegin, TxnID: 2})
	j.Append(Record{Type: RecordTypeRead, TxnID: 1})

	recs := j.TxnRecords(1)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records for txn 1, got %d", len(recs))
	}
	for _, r := range recs {
		if r.TxnID != 1 {
			t.Errorf("unexpected txn id in filtered result: %+v", r)
		}
	}
}
