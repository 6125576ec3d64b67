// Package txn implements transaction lifecycle, the available-copies read
// and write rules, and end-of-transaction validation against a
// serialization graph — the simulator's equivalent of a conflict-detecting
// transaction manager, grounded in the same State/ReadSet/WriteSet shape
// cobaltdb's txn.Manager uses for its own snapshot-isolation commit path.
package txn

import "github.com/kartikbazzad/repcrec/internal/mvcc"

// Status is the lifecycle state of a Transaction.
type Status int

const (
	Running Status = iota
	Waiting
	Aborted
	Committed
)

func (s Status) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Waiting:
		return "WAITING"
	case Aborted:
		return "ABORTED"
	case Committed:
		return "COMMITTED"
	default:
		return "UNKNOWN"
	}
}

// AccessOp is whether a site access was a read or a write.
type AccessOp byte

const (
	AccessRead  AccessOp = 'R'
	AccessWrite AccessOp = 'W'
)

// SiteAccess records that a transaction touched a site at a point in time.
type SiteAccess struct {
	SiteID int
	Op     AccessOp
	At     mvcc.Timestamp
}

// Transaction is a single running (or finished) transaction.
type Transaction struct {
	ID         int
	Name       string
	Status     Status
	ReadOnly   bool
	StartTime  mvcc.Timestamp
	CommitTime mvcc.Timestamp

	sitesAccessed []SiteAccess

	// varOps[varIndex] is the set of operations ("R", "W", or both) T
	// performed against varIndex across its whole lifetime, used to build
	// the serialization graph at end-of-transaction.
	varOps map[int]map[AccessOp]bool
}

func newTransaction(id int, name string, start mvcc.Timestamp, readOnly bool) *Transaction {
	return &Transaction{
		ID:        id,
		Name:      name,
		Status:    Running,
		ReadOnly:  readOnly,
		StartTime: start,
		varOps:    make(map[int]map[AccessOp]bool),
	}
}

func (t *Transaction) recordAccess(siteID int, op AccessOp, at mvcc.Timestamp, varIndex int) {
	t.sitesAccessed = append(t.sitesAccessed, SiteAccess{SiteID: siteID, Op: op, At: at})
	ops, ok := t.varOps[varIndex]
	if !ok {
		ops = make(map[AccessOp]bool)
		t.varOps[varIndex] = ops
	}
	ops[op] = true
}

// Wrote reports whether T ever wrote varIndex.
func (t *Transaction) Wrote(varIndex int) bool {
	return t.varOps[varIndex] != nil && t.varOps[varIndex][AccessWrite]
}

// Read reports whether T ever read varIndex.
func (t *Transaction) Read(varIndex int) bool {
	return t.varOps[varIndex] != nil && t.varOps[varIndex][AccessRead]
}

// AccessedVariables returns every variable index T touched, in no
// particular order.
func (t *Transaction) AccessedVariables() []int {
	out := make([]int, 0, len(t.varOps))
	for idx := range t.varOps {
		out = append(out, idx)
	}
	return out
}

// SitesAccessed returns the full access log for T, in chronological order.
func (t *Transaction) SitesAccessed() []SiteAccess {
	return t.sitesAccessed
}
