package site

// Site is one node in the fleet: a status plus the DataManager holding its
// local variable copies.
type Site struct {
	ID     int
	Status Status
	DM     *DataManager
}

func newSite(id, numVariables, numSites int) *Site {
	return &Site{
		ID:     id,
		Status: Up,
		DM:     newDataManager(id, numVariables, numSites),
	}
}

// CanService reports whether the site's current status allows any access at
// all (reads gate further on freshness/durability checks on top of this).
func (s *Site) CanService() bool {
	return s.Status == Up || s.Status == Recovered
}
