package tahan

import (
	"sync"
	"time"
)

// CredentialPool is a rotating set of API credentials for one upstream
// service. Exactly one credential is selected per call attempt; rotation
// skips blacklisted credentials, and blacklists expire by timestamp
// comparison rather than active cleanup.
type CredentialPool struct {
	mu       sync.Mutex
	creds    []Credential
	next     int
	cooldown time.Duration
	now      func() time.Time
}

// DefaultCredentialCooldown is how long a credential stays blacklisted after
// a rate-limit rejection.
const DefaultCredentialCooldown = 5 * time.Minute

// NewCredentialPool builds a pool over the given tokens.
func NewCredentialPool(tokens []string, cooldown time.Duration) *CredentialPool {
	if cooldown <= 0 {
		cooldown = DefaultCredentialCooldown
	}
	creds := make([]Credential, 0, len(tokens))
	for _, t := range tokens {
		creds = append(creds, Credential{Token: t})
	}
	return &CredentialPool{
		creds:    creds,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Acquire returns the current usable credential, rotating past blacklisted
// ones. It returns ErrExhaustedCredentials when the pool is empty or every
// credential is cooling down.
func (p *CredentialPool) Acquire() (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.creds) == 0 {
		return Credential{}, ErrExhaustedCredentials
	}

	now := p.now()
	for i := 0; i < len(p.creds); i++ {
		idx := (p.next + i) % len(p.creds)
		if !p.creds[idx].Blacklisted(now) {
			p.next = idx
			return p.creds[idx], nil
		}
	}
	return Credential{}, ErrExhaustedCredentials
}

// Blacklist marks the credential with the given token as unusable for the
// pool's cooldown window and advances rotation to the next credential.
func (p *CredentialPool) Blacklist(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	until := p.now().Add(p.cooldown)
	for i := range p.creds {
		if p.creds[i].Token == token {
			p.creds[i].BlacklistedUntil = until
			if i == p.next {
				p.next = (i + 1) % len(p.creds)
			}
			return
		}
	}
}

// Rotate advances to the next credential without blacklisting the current one.
func (p *CredentialPool) Rotate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.creds) > 0 {
		p.next = (p.next + 1) % len(p.creds)
	}
}

// Available counts credentials not currently blacklisted.
func (p *CredentialPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := 0
	for _, c := range p.creds {
		if !c.Blacklisted(now) {
			n++
		}
	}
	return n
}

// Size returns the total number of credentials in the pool.
func (p *CredentialPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}
