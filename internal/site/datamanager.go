package site

import (
	"sort"

	"github.com/kartikbazzad/repcrec/internal/mvcc"
)

// DataManager is local to a single site: it owns that site's committed
// variable copies plus the uncommitted per-transaction staging area used to
// give a transaction visibility into its own writes before it commits.
type DataManager struct {
	siteID    int
	variables map[int]*mvcc.Variable
	staged    map[int]map[int]int // txnID -> varIndex -> value
}

func newDataManager(siteID, numVariables, numSites int) *DataManager {
	dm := &DataManager{
		siteID:    siteID,
		variables: make(map[int]*mvcc.Variable),
		staged:    make(map[int]map[int]int),
	}
	for i := 1; i <= numVariables; i++ {
		if mvcc.IsReplicated(i) || mvcc.HomeSiteFor(i, numSites) == siteID {
			dm.variables[i] = mvcc.New(i, mvcc.HomeSiteFor(i, numSites))
		}
	}
	return dm
}

// HasVariable reports whether this site hosts a copy of varIndex.
func (dm *DataManager) HasVariable(varIndex int) bool {
	_, ok := dm.variables[varIndex]
	return ok
}

// StageWrite records an uncommitted write by txnID to varIndex, visible only
// to that transaction until ApplyCommit.
func (dm *DataManager) StageWrite(txnID, varIndex, value int) {
	txnStaged, ok := dm.staged[txnID]
	if !ok {
		txnStaged = make(map[int]int)
		dm.staged[txnID] = txnStaged
	}
	txnStaged[varIndex] = value
}

// DiscardTxn drops any staged writes by txnID, called when a transaction
// aborts without ever committing.
func (dm *DataManager) DiscardTxn(txnID int) {
	delete(dm.staged, txnID)
}

// ReadValue returns the value txnID should observe for varIndex: its own
// staged write if one exists, otherwise the most recent snapshot committed
// strictly before startTime. The second return value is true if txnID's own
// staged write serviced the read.
func (dm *DataManager) ReadValue(txnID, varIndex int, startTime mvcc.Timestamp) (value int, ownWrite bool, ok bool) {
	if txnStaged, found := dm.staged[txnID]; found {
		if v, found := txnStaged[varIndex]; found {
			return v, true, true
		}
	}
	v, found := dm.variables[varIndex].ValueBefore(startTime)
	return v, false, found
}

// CommittedValueBefore returns the value of the latest snapshot with commit
// time strictly before t.
func (dm *DataManager) CommittedValueBefore(varIndex int, t mvcc.Timestamp) (int, bool) {
	return dm.variables[varIndex].ValueBefore(t)
}

// CommittedTimeBefore returns the commit time of the latest snapshot
// strictly before t.
func (dm *DataManager) CommittedTimeBefore(varIndex int, t mvcc.Timestamp) (mvcc.Timestamp, bool) {
	return dm.variables[varIndex].TimeBefore(t)
}

// CommittedBetween reports whether varIndex committed a snapshot strictly
// between t1 and t2 at this site.
func (dm *DataManager) CommittedBetween(varIndex int, t1, t2 mvcc.Timestamp) bool {
	return dm.variables[varIndex].CommittedBetween(t1, t2)
}

// LastCommitTime returns the commit time of varIndex's most recent snapshot
// at this site.
func (dm *DataManager) LastCommitTime(varIndex int) mvcc.Timestamp {
	return dm.variables[varIndex].LastCommitTime()
}

// ApplyCommit commits every value txnID staged at this site as of
// commitTime, and clears the staging area for txnID. It returns the indices
// of the variables touched, in ascending order.
func (dm *DataManager) ApplyCommit(txnID int, commitTime mvcc.Timestamp) []int {
	txnStaged, ok := dm.staged[txnID]
	if !ok {
		return nil
	}
	touched := make([]int, 0, len(txnStaged))
	for varIndex, value := range txnStaged {
		dm.variables[varIndex].CommitSnapshot(commitTime, value)
		touched = append(touched, varIndex)
	}
	delete(dm.staged, txnID)
	sort.Ints(touched)
	return touched
}

// CommittedValue returns the current committed value of varIndex, for dump.
func (dm *DataManager) CommittedValue(varIndex int) (int, bool) {
	v, ok := dm.variables[varIndex]
	if !ok {
		return 0, false
	}
	return v.CurrentValue(), true
}

// SortedVariableIndices returns the indices of every variable hosted at
// this site, in ascending order, for a deterministic dump.
func (dm *DataManager) SortedVariableIndices() []int {
	out := make([]int, 0, len(dm.variables))
	for i := range dm.variables {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
