// Package site implements the available-copies replication layer: the fleet
// of sites, each with its own DataManager, plus the failure/recovery
// histories and pending-read queues the read rule consults.
package site

import (
	"fmt"
	"io"

	"github.com/kartikbazzad/repcrec/internal/mvcc"
)

// PendingRead is a transaction blocked on a variable at a site that was down
// when it tried to read.
type PendingRead struct {
	TxnID    int
	VarIndex int
}

// RecoveryWake is what Manager.Recover hands back to the caller: the
// transactions that can now be reactivated. Manager only drains the queues
// and returns this data because internal/site cannot import internal/txn
// (which owns the Transaction the reactivation actually mutates) without a
// cycle; internal/txn is the one that turns this into a real status flip.
type RecoveryWake struct {
	// NonRepl holds reads waiting specifically on this site, the sole home
	// of a non-replicated variable.
	NonRepl []PendingRead
	// Repl holds reads waiting on a replicated variable, keyed by variable
	// index, collected from this site's own queue.
	Repl map[int][]PendingRead
}

// Manager owns the whole fleet: every Site, the per-site failure/recovery
// histories the read rule consults, and the pending-read queues used to
// reactivate transactions once a site they were waiting on recovers.
type Manager struct {
	sites        map[int]*Site
	numSites     int
	numVariables int

	failureHistory  map[int][]mvcc.Timestamp
	recoveryHistory map[int][]mvcc.Timestamp

	pendingNonRepl map[int][]PendingRead
	pendingRepl    map[int]map[int][]PendingRead
}

// New builds a fleet of numSites sites, each hosting numVariables variables
// per the even/odd placement rule, every site starting Up with a failure
// history seeded [0] and a recovery history seeded [+inf].
func New(numSites, numVariables int) *Manager {
	m := &Manager{
		sites:           make(map[int]*Site, numSites),
		numSites:        numSites,
		numVariables:    numVariables,
		failureHistory:  make(map[int][]mvcc.Timestamp, numSites),
		recoveryHistory: make(map[int][]mvcc.Timestamp, numSites),
		pendingNonRepl:  make(map[int][]PendingRead),
		pendingRepl:     make(map[int]map[int][]PendingRead),
	}
	for i := 1; i <= numSites; i++ {
		m.sites[i] = newSite(i, numVariables, numSites)
		m.failureHistory[i] = []mvcc.Timestamp{0}
		m.recoveryHistory[i] = []mvcc.Timestamp{mvcc.PositiveInfinity}
		m.pendingRepl[i] = make(map[int][]PendingRead)
	}
	return m
}

// NumSites returns the fleet size.
func (m *Manager) NumSites() int { return m.numSites }

// Site returns the site at id, or nil if id is out of range.
func (m *Manager) Site(id int) *Site { return m.sites[id] }

// Sites returns every site, ordered by ascending id.
func (m *Manager) Sites() []*Site {
	out := make([]*Site, 0, m.numSites)
	for i := 1; i <= m.numSites; i++ {
		out = append(out, m.sites[i])
	}
	return out
}

// FailureHistory returns the ordered list of times siteID went down,
// seeded with a synthetic failure at time 0.
func (m *Manager) FailureHistory(siteID int) []mvcc.Timestamp {
	return m.failureHistory[siteID]
}

// RecoveryHistory returns the ordered list of times siteID recovered,
// seeded with a synthetic +inf entry meaning "never recovered yet".
func (m *Manager) RecoveryHistory(siteID int) []mvcc.Timestamp {
	return m.recoveryHistory[siteID]
}

func (m *Manager) requireSite(siteID int) (*Site, error) {
	s, ok := m.sites[siteID]
	if !ok {
		return nil, fmt.Errorf("%w: site %d", ErrUnknownSite, siteID)
	}
	return s, nil
}

// Fail brings a site down at time now, recording the failure in its history.
// Any transaction with writes staged there loses them implicitly: the site's
// DataManager keeps the staged map, but a failed site never gets to commit
// until it recovers, and by then end-of-transaction validation will have
// already caught the gap in its access history.
func (m *Manager) Fail(siteID int, now mvcc.Timestamp) error {
	s, err := m.requireSite(siteID)
	if err != nil {
		return err
	}
	s.Status = Down
	m.failureHistory[siteID] = append(m.failureHistory[siteID], now)
	return nil
}

// Recover brings a site back as Recovered (not yet Up — a replicated
// variable needs a fresh committed write there before it can be Up again),
// records the recovery in its history, and drains the read queues this
// site's recovery unblocks.
//
// For a replicated variable, once this site's own queue for that variable is
// drained, the same variable's queue at every other site is cleared too
// without being woken: those transactions are duplicates of the ones this
// recovery already served, added there on the first pass over all sites.
func (m *Manager) Recover(siteID int, now mvcc.Timestamp) (RecoveryWake, error) {
	s, err := m.requireSite(siteID)
	if err != nil {
		return RecoveryWake{}, err
	}
	s.Status = Recovered
	m.recoveryHistory[siteID] = append(m.recoveryHistory[siteID], now)

	wake := RecoveryWake{Repl: make(map[int][]PendingRead)}

	wake.NonRepl = m.pendingNonRepl[siteID]
	m.pendingNonRepl[siteID] = nil

	clearedVars := make([]int, 0, len(m.pendingRepl[siteID]))
	for varIndex, queue := range m.pendingRepl[siteID] {
		if len(queue) > 0 {
			wake.Repl[varIndex] = append(wake.Repl[varIndex], queue...)
		}
		clearedVars = append(clearedVars, varIndex)
	}
	m.pendingRepl[siteID] = make(map[int][]PendingRead)

	for otherID, queues := range m.pendingRepl {
		if otherID == siteID {
			continue
		}
		for _, varIndex := range clearedVars {
			delete(queues, varIndex)
		}
	}

	return wake, nil
}

// EnqueueNonRepl records that txnID is blocked reading varIndex because its
// sole home site is down.
func (m *Manager) EnqueueNonRepl(siteID, txnID, varIndex int) {
	m.pendingNonRepl[siteID] = append(m.pendingNonRepl[siteID], PendingRead{TxnID: txnID, VarIndex: varIndex})
}

// EnqueueRepl records that txnID is blocked reading varIndex at siteID,
// one of potentially several down sites that could eventually service it.
func (m *Manager) EnqueueRepl(siteID, varIndex, txnID int) {
	if m.pendingRepl[siteID] == nil {
		m.pendingRepl[siteID] = make(map[int][]PendingRead)
	}
	m.pendingRepl[siteID][varIndex] = append(m.pendingRepl[siteID][varIndex], PendingRead{TxnID: txnID, VarIndex: varIndex})
}

// Dump writes the committed value of every variable at every site, in site
// and then variable order, matching the base spec's dump format.
func (m *Manager) Dump(w io.Writer) {
	for i := 1; i <= m.numSites; i++ {
		s := m.sites[i]
		fmt.Fprintf(w, "Site %d -", i)
		for j, idx := range s.DM.SortedVariableIndices() {
			val, _ := s.DM.CommittedValue(idx)
			if j > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, " x%d : %d", idx, val)
		}
		fmt.Fprintln(w)
	}
}
