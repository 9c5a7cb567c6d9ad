package domain

import "time"

// Credential is one API key held by the credential pool.
type Credential struct {
	Secret      string
	AvailableAt time.Time // zero = always available
	Blocked     bool      // permanently invalid, never unset automatically
	ErrorCount  int
}

// UsableAt reports whether the credential can be selected at t.
func (c Credential) UsableAt(t time.Time) bool {
	return !c.Blocked && !c.AvailableAt.After(t)
}
