package keypool

// CredentialStatus is the diagnostic view of one credential.
type CredentialStatus struct {
	Position           int  `json:"position"`
	Available          bool `json:"available"`
	AvailableInSeconds int  `json:"available_in_seconds"`
	ErrorCount         int  `json:"error_count"`
	Blocked            bool `json:"blocked"`
	// Current marks the credential last handed out by a selection.
	Current            bool `json:"current"`
}

// Status returns the state of every credential in pool order. Secrets are not included.
func (p *Pool) Status() []CredentialStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]CredentialStatus, 0, len(p.creds))
	for i, c := range p.creds {
		st := CredentialStatus{
			Position:   i,
			Available:  c.UsableAt(now),
			ErrorCount: c.ErrorCount,
			Blocked:    c.Blocked,
			Current:    i == p.current,
		}
		if !c.Blocked && !st.Available {
			st.AvailableInSeconds = ceilSeconds(c.AvailableAt.Sub(now))
		}
		out = append(out, st)
	}
	return out
}

// Redact returns a log-safe form of a secret.
func Redact(secret string) string {
	return redact(secret)
}
