package site

import "errors"

// ErrUnknownSite is returned when an instruction names a site index outside
// the configured fleet (1..numSites).
var ErrUnknownSite = errors.New("site: unknown site")
