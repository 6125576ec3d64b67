package txn

import (
	"fmt"

	"github.com/kartikbazzad/repcrec/internal/mvcc"
	"github.com/kartikbazzad/repcrec/internal/site"
	"github.com/kartikbazzad/repcrec/internal/wire"
)

// ReadOutcome is what a Read call produced.
type ReadOutcome struct {
	Value    int
	Resolved bool // false when the transaction went to Waiting or Aborted instead
}

// EndOutcome is what an End call decided.
type EndOutcome struct {
	Committed bool
	Reason    string
}

// Manager owns every transaction's lifecycle: begin, the available-copies
// read and write rules, and end-of-transaction validation against a
// serialization graph.
type Manager struct {
	sites        *site.Manager
	numVariables int

	transactions map[int]*Transaction
	graph        *Graph
}

// NewManager builds a Manager bound to a site fleet.
func NewManager(sites *site.Manager, numVariables int) *Manager {
	return &Manager{
		sites:        sites,
		numVariables: numVariables,
		transactions: make(map[int]*Transaction),
		graph:        newGraph(),
	}
}

// Begin starts a normal (read-write) transaction.
func (m *Manager) Begin(name string, now mvcc.Timestamp) (*Transaction, error) {
	return m.begin(name, now, false)
}

// BeginReadOnly starts a transaction that only ever reads a consistent
// snapshot as of its start time and always commits: it never stages a
// write, so none of the abort conditions end-of-transaction checks can
// ever trigger for it.
func (m *Manager) BeginReadOnly(name string, now mvcc.Timestamp) (*Transaction, error) {
	return m.begin(name, now, true)
}

func (m *Manager) begin(name string, now mvcc.Timestamp, readOnly bool) (*Transaction, error) {
	id, err := parseTxnName(name)
	if err != nil {
		return nil, err
	}
	if existing, ok := m.transactions[id]; ok && (existing.Status == Running || existing.Status == Waiting) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	t := newTransaction(id, name, now, readOnly)
	m.transactions[id] = t
	return t, nil
}

func parseTxnName(name string) (int, error) {
	id, err := wire.ParseTxnID(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTransaction, name)
	}
	return id, nil
}

// Transaction returns the transaction registered under name, if any.
func (m *Manager) Transaction(name string) (*Transaction, bool) {
	id, err := wire.ParseTxnID(name)
	if err != nil {
		return nil, false
	}
	t, ok := m.transactions[id]
	return t, ok
}

func (m *Manager) requireLive(name string) (*Transaction, error) {
	t, ok := m.Transaction(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, name)
	}
	return t, nil
}

func (m *Manager) requireVariable(varIndex int) error {
	if varIndex < 1 || varIndex > m.numVariables {
		return fmt.Errorf("%w: x%d", ErrUnknownVariable, varIndex)
	}
	return nil
}

// Read services a read of varIndex on behalf of txnName. If no site can
// serve the read right now but one could once it recovers, the
// transaction moves to Waiting and Resolved is false; if no site could
// ever serve it, the transaction aborts.
func (m *Manager) Read(txnName string, varIndex int, now mvcc.Timestamp) (ReadOutcome, error) {
	t, err := m.requireLive(txnName)
	if err != nil {
		return ReadOutcome{}, err
	}
	if err := m.requireVariable(varIndex); err != nil {
		return ReadOutcome{}, err
	}
	if t.Status != Running {
		return ReadOutcome{}, nil
	}

	if t.ReadOnly {
		return m.readSnapshot(t, varIndex), nil
	}
	if mvcc.IsReplicated(varIndex) {
		return m.readReplicated(t, varIndex, now), nil
	}
	return m.readNonReplicated(t, varIndex, now), nil
}

// readSnapshot serves a read-only transaction's consistent snapshot from
// whichever site hosts the variable, preferring one that's currently
// reachable but falling back to an unreachable one: the data is still
// physically resident in that site's DataManager, and a read-only
// transaction never waits.
func (m *Manager) readSnapshot(t *Transaction, varIndex int) ReadOutcome {
	var fallback *site.Site
	for _, s := range m.sites.Sites() {
		if !s.DM.HasVariable(varIndex) {
			continue
		}
		if fallback == nil {
			fallback = s
		}
		if s.CanService() {
			val, _, ok := s.DM.ReadValue(t.ID, varIndex, t.StartTime)
			if ok {
				return ReadOutcome{Value: val, Resolved: true}
			}
		}
	}
	if fallback != nil {
		if val, _, ok := fallback.DM.ReadValue(t.ID, varIndex, t.StartTime); ok {
			return ReadOutcome{Value: val, Resolved: true}
		}
	}
	return ReadOutcome{}
}

func (m *Manager) readReplicated(t *Transaction, varIndex int, now mvcc.Timestamp) ReadOutcome {
	var waitCandidates []int

	for _, s := range m.sites.Sites() {
		if !s.DM.HasVariable(varIndex) {
			continue
		}
		fresh := m.siteFreshForVariable(s, varIndex, t.StartTime)

		switch {
		case !fresh:
			continue
		case s.CanService():
			val, _, _ := s.DM.ReadValue(t.ID, varIndex, t.StartTime)
			t.recordAccess(s.ID, AccessRead, now, varIndex)
			return ReadOutcome{Value: val, Resolved: true}
		default: // down, but would serve once recovered
			waitCandidates = append(waitCandidates, s.ID)
		}
	}

	if len(waitCandidates) == 0 {
		t.Status = Aborted
		return ReadOutcome{}
	}
	for _, siteID := range waitCandidates {
		m.sites.EnqueueRepl(siteID, varIndex, t.ID)
	}
	t.Status = Waiting
	return ReadOutcome{}
}

// siteFreshForVariable implements the two-part freshness check the read
// rule applies to a replicated variable at a given site: the site must not
// have failed between the variable's last commit before T began and T's
// start, and if the site has ever recovered, it must have taken a fresh
// committed write since its most recent recovery before T began.
func (m *Manager) siteFreshForVariable(s *site.Site, varIndex int, startTime mvcc.Timestamp) bool {
	lastCommitBeforeStart, _ := s.DM.CommittedTimeBefore(varIndex, startTime)

	for _, failTime := range m.sites.FailureHistory(s.ID) {
		if failTime > lastCommitBeforeStart && failTime < startTime {
			return false
		}
	}

	recoverHistory := m.sites.RecoveryHistory(s.ID)
	if len(recoverHistory) == 1 {
		// Still the seeded +inf entry: this site has never recovered.
		return true
	}

	var lastRecoveryBeforeStart mvcc.Timestamp
	haveRecovery := false
	for _, t := range recoverHistory[1:] {
		if t < startTime {
			lastRecoveryBeforeStart = t
			haveRecovery = true
		} else {
			break
		}
	}
	if !haveRecovery {
		return true
	}
	return s.DM.CommittedBetween(varIndex, lastRecoveryBeforeStart, startTime)
}

func (m *Manager) readNonReplicated(t *Transaction, varIndex int, now mvcc.Timestamp) ReadOutcome {
	homeID := mvcc.HomeSiteFor(varIndex, m.sites.NumSites())
	s := m.sites.Site(homeID)

	if s.CanService() {
		val, _, _ := s.DM.ReadValue(t.ID, varIndex, t.StartTime)
		t.recordAccess(s.ID, AccessRead, now, varIndex)
		return ReadOutcome{Value: val, Resolved: true}
	}

	m.sites.EnqueueNonRepl(homeID, t.ID, varIndex)
	t.Status = Waiting
	return ReadOutcome{}
}

// Write stages a write of value to varIndex at every reachable site
// hosting it. Unlike Read, a write never waits and never aborts the
// transaction on its own: a site that's down simply doesn't receive the
// write, and end-of-transaction validation is what catches the fallout.
func (m *Manager) Write(txnName string, varIndex, value int, now mvcc.Timestamp) error {
	t, err := m.requireLive(txnName)
	if err != nil {
		return err
	}
	if err := m.requireVariable(varIndex); err != nil {
		return err
	}
	if t.Status != Running || t.ReadOnly {
		return nil
	}

	if mvcc.IsReplicated(varIndex) {
		for _, s := range m.sites.Sites() {
			if s.CanService() {
				s.DM.StageWrite(t.ID, varIndex, value)
				t.recordAccess(s.ID, AccessWrite, now, varIndex)
			}
		}
		return nil
	}

	homeID := mvcc.HomeSiteFor(varIndex, m.sites.NumSites())
	s := m.sites.Site(homeID)
	if s.CanService() {
		s.DM.StageWrite(t.ID, varIndex, value)
		t.recordAccess(s.ID, AccessWrite, now, varIndex)
	}
	return nil
}

// End commits or aborts txnName, recording the decision.
func (m *Manager) End(txnName string, now mvcc.Timestamp) (EndOutcome, error) {
	t, err := m.requireLive(txnName)
	if err != nil {
		return EndOutcome{}, err
	}

	if t.Status == Waiting {
		t.Status = Aborted
		return EndOutcome{Committed: false, Reason: "still waiting on a blocked read"}, nil
	}
	if t.Status == Aborted {
		return EndOutcome{Committed: false, Reason: "already aborted"}, nil
	}

	if t.ReadOnly {
		t.Status = Committed
		t.CommitTime = now
		return EndOutcome{Committed: true}, nil
	}

	if reason, abort := m.checkSiteFailureSinceAccess(t); abort {
		t.Status = Aborted
		return EndOutcome{Reason: reason}, nil
	}
	if reason, abort := m.checkSnapshotConflicts(t); abort {
		t.Status = Aborted
		return EndOutcome{Reason: reason}, nil
	}

	added := m.addSerializationEdges(t, now)
	if m.graph.hasCycle() {
		for _, e := range added {
			m.graph.removeEdge(e[0], e[1])
		}
		t.Status = Aborted
		return EndOutcome{Reason: "would create a cycle in the serialization graph"}, nil
	}

	m.commit(t, now)
	return EndOutcome{Committed: true}, nil
}

// checkSiteFailureSinceAccess aborts T if any site it wrote to has since
// failed at a time after that write.
func (m *Manager) checkSiteFailureSinceAccess(t *Transaction) (string, bool) {
	for _, acc := range t.sitesAccessed {
		if acc.Op != AccessWrite {
			continue
		}
		for _, failTime := range m.sites.FailureHistory(acc.SiteID) {
			if failTime > acc.At {
				return "wrote to a site that later failed", true
			}
		}
	}
	return "", false
}

// checkSnapshotConflicts aborts T if any variable it wrote has a newer
// committed version than existed when T began, at any site hosting it:
// first-committer-wins under snapshot isolation.
func (m *Manager) checkSnapshotConflicts(t *Transaction) (string, bool) {
	for _, varIndex := range t.AccessedVariables() {
		if !t.Wrote(varIndex) {
			continue
		}
		var sites []*site.Site
		if mvcc.IsReplicated(varIndex) {
			sites = m.sites.Sites()
		} else {
			sites = []*site.Site{m.sites.Site(mvcc.HomeSiteFor(varIndex, m.sites.NumSites()))}
		}
		for _, s := range sites {
			if !s.DM.HasVariable(varIndex) {
				continue
			}
			if s.DM.LastCommitTime(varIndex) > t.StartTime {
				return fmt.Sprintf("x%d was committed by another transaction after this one began", varIndex), true
			}
		}
	}
	return "", false
}

// addSerializationEdges adds every edge T's commit introduces against
// already-committed transactions, returning exactly the edges it added so
// a cycle abort can undo just those instead of the whole graph.
func (m *Manager) addSerializationEdges(t *Transaction, now mvcc.Timestamp) [][2]int {
	var added [][2]int

	for _, varIndex := range t.AccessedVariables() {
		wDash := t.Wrote(varIndex)
		rDash := t.Read(varIndex)

		for otherID, other := range m.transactions {
			if other.Status != Committed || otherID == t.ID {
				continue
			}
			w := other.Wrote(varIndex)
			r := other.Read(varIndex)
			if !w && !r {
				continue
			}
			commitTime := other.CommitTime

			// ww: T commits before T' begins, both write x.
			if commitTime < t.StartTime && w && wDash {
				if m.graph.addEdge(otherID, t.ID) {
					added = append(added, [2]int{otherID, t.ID})
				}
			}
			// wr: T writes x, commits before T' begins, T' reads x.
			if w && rDash && commitTime < t.StartTime {
				if m.graph.addEdge(otherID, t.ID) {
					added = append(added, [2]int{otherID, t.ID})
				}
			}
			// rw: T reads x, T' writes x, T began before end(T').
			if r && wDash && other.StartTime < now {
				if m.graph.addEdge(otherID, t.ID) {
					added = append(added, [2]int{otherID, t.ID})
				}
			}
			// rw the other direction: T' reads x, T writes x, T' began before T commits.
			if rDash && w && t.StartTime < commitTime {
				if m.graph.addEdge(t.ID, otherID) {
					added = append(added, [2]int{t.ID, otherID})
				}
			}
		}
	}

	return added
}

func (m *Manager) commit(t *Transaction, now mvcc.Timestamp) {
	writeSites := make(map[int]bool)
	for _, acc := range t.sitesAccessed {
		if acc.Op == AccessWrite {
			writeSites[acc.SiteID] = true
		}
	}
	for siteID := range writeSites {
		s := m.sites.Site(siteID)
		if !s.CanService() {
			continue
		}
		s.DM.ApplyCommit(t.ID, now)
		if s.Status == site.Recovered {
			s.Status = site.Up
		}
	}
	t.Status = Committed
	t.CommitTime = now
}

// Reactivate turns a site.RecoveryWake into real transaction state
// changes: every transaction that was Waiting on the recovered queues
// performs its deferred read and moves back to Running. This lives in txn
// rather than site because site cannot import txn without a cycle, but
// the reactivation itself is fundamentally a Transaction mutation.
func (m *Manager) Reactivate(wake site.RecoveryWake, siteID int) {
	for _, pr := range wake.NonRepl {
		m.wake(pr.TxnID, siteID, pr.VarIndex)
	}
	for varIndex, prs := range wake.Repl {
		for _, pr := range prs {
			m.wake(pr.TxnID, siteID, varIndex)
		}
	}
}

func (m *Manager) wake(txnID, siteID, varIndex int) {
	t, ok := m.transactions[txnID]
	if !ok || t.Status != Waiting {
		return
	}
	s := m.sites.Site(siteID)
	if _, _, ok := s.DM.ReadValue(t.ID, varIndex, t.StartTime); ok {
		t.Status = Running
	}
}
